package domain

// Page is the uniform paginated envelope returned by every list endpoint.
// PageIndex is 1-based. TotalItems counts the filtered collection, not the
// whole table.
type Page[T any] struct {
	Items      []T   `json:"items"`
	PageIndex  int   `json:"pageIndex"`
	PageSize   int   `json:"pageSize"`
	TotalItems int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

// NewPage wraps a page of items, echoing the requested index/size and
// computing the page count. A non-positive page size yields zero pages
// rather than a division by zero.
func NewPage[T any](items []T, pageIndex, pageSize int, totalItems int64) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		PageIndex:  pageIndex,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: totalPages(totalItems, pageSize),
	}
}

func totalPages(totalItems int64, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	pages := totalItems / int64(pageSize)
	if totalItems%int64(pageSize) != 0 {
		pages++
	}
	return int(pages)
}

// PageRequest carries caller-supplied pagination inputs.
type PageRequest struct {
	PageIndex int
	PageSize  int
}

// Offset returns the row offset for the request, or -1 when the inputs are
// degenerate (non-positive index or size) and no rows should be returned.
func (p PageRequest) Offset() int {
	if p.PageIndex <= 0 || p.PageSize <= 0 {
		return -1
	}
	return (p.PageIndex - 1) * p.PageSize
}
