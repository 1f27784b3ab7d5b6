package domain

import "math"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Ring is a closed polygon boundary. The last vertex may repeat the first;
// Centroid and validation treat both forms the same.
type Ring []Point

const earthRadiusMeters = 6371000.0

// closed reports whether the ring explicitly repeats its first vertex.
func (r Ring) closed() bool {
	return len(r) > 1 && r[0] == r[len(r)-1]
}

// vertices returns the ring without a repeated closing vertex.
func (r Ring) vertices() []Point {
	if r.closed() {
		return r[:len(r)-1]
	}
	return r
}

// Valid reports whether the ring has at least three distinct vertices.
func (r Ring) Valid() bool {
	return len(r.vertices()) >= 3
}

// Centroid computes the area-weighted centroid via the shoelace formula.
// Degenerate (zero-area) rings fall back to the vertex average.
func (r Ring) Centroid() Point {
	vs := r.vertices()
	if len(vs) == 0 {
		return Point{}
	}
	var area, cx, cy float64
	for i := range vs {
		j := (i + 1) % len(vs)
		cross := vs[i].Lng*vs[j].Lat - vs[j].Lng*vs[i].Lat
		area += cross
		cx += (vs[i].Lng + vs[j].Lng) * cross
		cy += (vs[i].Lat + vs[j].Lat) * cross
	}
	if area == 0 {
		var sumLat, sumLng float64
		for _, v := range vs {
			sumLat += v.Lat
			sumLng += v.Lng
		}
		n := float64(len(vs))
		return Point{Lat: sumLat / n, Lng: sumLng / n}
	}
	area /= 2
	return Point{Lat: cy / (6 * area), Lng: cx / (6 * area)}
}

// BoundingBox filters observations to a lat/lng rectangle.
type BoundingBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// Contains reports whether the point lies inside the box (inclusive).
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Proximity filters observations to a radius around a center point.
type Proximity struct {
	Center       Point
	RadiusMeters float64
}

// DistanceMeters returns the great-circle distance between two points.
func DistanceMeters(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(latA)*math.Cos(latB)*math.Pow(math.Sin(dLng/2), 2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
