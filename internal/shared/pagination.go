package shared

// Listing page sizes are clamped so a single request can never pull an
// entire census table.
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NormalizePage clamps page and perPage into usable bounds.
func NormalizePage(page, perPage int) (int, int) {
	if perPage <= 0 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	return page, perPage
}

// NewPagination computes paging metadata for a listing of total rows.
func NewPagination(page, perPage, total int) Pagination {
	page, perPage = NormalizePage(page, perPage)
	totalPages := (total + perPage - 1) / perPage
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}
