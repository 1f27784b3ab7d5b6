package store

import (
	"testing"

	"fieldscope/pkg/domain"
)

// Model conversion tests run without a database; the GORM query paths are
// covered against the in-memory implementation of the same interface.

func TestObservationModelBoundaryRoundTrip(t *testing.T) {
	obs := domain.Observation{
		ID:      "obs-1",
		Title:   "Pond edge",
		OwnerID: "user-1",
		Location: domain.Point{
			Lat: 1, Lng: 2,
		},
		Boundary: domain.Ring{
			{Lat: 0, Lng: 0},
			{Lat: 0, Lng: 2},
			{Lat: 2, Lng: 2},
			{Lat: 2, Lng: 0},
		},
	}
	model, err := observationToModel(obs)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if len(model.Boundary) == 0 {
		t.Fatal("boundary JSON is empty")
	}
	back, err := observationFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if len(back.Boundary) != len(obs.Boundary) {
		t.Fatalf("boundary vertices = %d, want %d", len(back.Boundary), len(obs.Boundary))
	}
	for i, p := range obs.Boundary {
		if back.Boundary[i] != p {
			t.Fatalf("vertex %d = %+v, want %+v", i, back.Boundary[i], p)
		}
	}
	if back.Location != obs.Location || back.OwnerID != obs.OwnerID {
		t.Fatalf("round trip changed fields: %+v", back)
	}
}

func TestObservationModelWithoutBoundary(t *testing.T) {
	obs := domain.Observation{ID: "obs-2", Title: "Point only", Location: domain.Point{Lat: 5, Lng: 6}}
	model, err := observationToModel(obs)
	if err != nil {
		t.Fatalf("to model: %v", err)
	}
	if len(model.Boundary) != 0 {
		t.Fatalf("boundary JSON = %s, want empty", model.Boundary)
	}
	if model.OwnerID != nil {
		t.Fatal("empty owner should map to NULL")
	}
	back, err := observationFromModel(model)
	if err != nil {
		t.Fatalf("from model: %v", err)
	}
	if len(back.Boundary) != 0 || back.OwnerID != "" {
		t.Fatalf("round trip = %+v", back)
	}
}
