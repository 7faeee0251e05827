package db

import "math"

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
	// MaxPage keeps the offset of any page representable as an int.
	MaxPage = math.MaxInt / MaxPageSize
)

// Pagination selects one page of transactions, newest first.
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination clamps the requested page into [1, MaxPage] and the page size
// into [1, MaxPageSize].
func NewPagination(page, pageSize int) Pagination {
	return Pagination{
		Page:     min(MaxPage, max(1, page)),
		PageSize: min(MaxPageSize, max(1, pageSize)),
	}
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}
