// Package pagination carries page/size arithmetic shared by the repositories
// and the search service.
package pagination

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Params identifies one page of a result set. Pages are 1-based.
type Params struct {
	Page     int
	PageSize int
}

// Normalize clamps out-of-range values onto the supported window.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Limit returns the row cap for the page.
func (p Params) Limit() int {
	return p.Normalize().PageSize
}

// Offset returns the number of rows preceding the page.
func (p Params) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.PageSize
}

// HasNext reports whether rows remain after this page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Limit() < total
}

// HasPrevious reports whether rows precede this page.
func (p Params) HasPrevious() bool {
	return p.Normalize().Page > 1
}

// TotalPages returns the page count needed to cover total rows.
func (p Params) TotalPages(total int) int {
	size := p.Limit()
	if total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
