package pagination

const (
	// DefaultPageSize matches the admin table page size.
	DefaultPageSize = 100
	// MaxPageSize caps how many rows a single page can request.
	MaxPageSize = 500
)

// Params holds page-number pagination inputs from controllers or services.
type Params struct {
	Page     int
	PageSize int
}

// Normalize clamps page to >= 1 and page size to (0, MaxPageSize], falling back
// to fallbackSize (or DefaultPageSize) when unset.
func (p Params) Normalize(fallbackSize int) Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = fallbackSize
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the row offset for a normalized Params.
func (p Params) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Page describes one page of results.
type Page struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

// NewPage computes page metadata for total matching rows.
func NewPage(p Params, total int64) Page {
	pages := 0
	if p.PageSize > 0 {
		pages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	return Page{Page: p.Page, PageSize: p.PageSize, Total: total, TotalPages: pages}
}
