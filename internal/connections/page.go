package connections

import "strconv"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100

	// maxPageNumber bounds Offset so absurd page values cannot overflow.
	maxPageNumber = 1 << 24
)

// Page is a normalised pagination request.
type Page struct {
	Number  int
	PerPage int
}

// Pagination describes the page returned alongside list results.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPage normalises raw paging input. Pages below one become one; page sizes
// outside [1, MaxPerPage] fall back to defaultPerPage.
func NewPage(number, perPage, defaultPerPage int) Page {
	if defaultPerPage < 1 || defaultPerPage > MaxPerPage {
		defaultPerPage = DefaultPerPage
	}
	if number < 1 {
		number = 1
	}
	if number > maxPageNumber {
		number = maxPageNumber
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = defaultPerPage
	}
	return Page{Number: number, PerPage: perPage}
}

// ParsePage reads page and per_page query values. Unparsable values are
// treated as absent.
func ParsePage(rawPage, rawPerPage string, defaultPerPage int) Page {
	number, err := strconv.Atoi(rawPage)
	if err != nil {
		number = 1
	}
	perPage, err := strconv.Atoi(rawPerPage)
	if err != nil {
		perPage = defaultPerPage
	}
	return NewPage(number, perPage, defaultPerPage)
}

// Offset is the number of rows preceding this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.PerPage
}

// Describe builds the pagination block for total rows.
func (p Page) Describe(total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + p.PerPage - 1) / p.PerPage
	}
	return Pagination{Page: p.Number, PerPage: p.PerPage, Total: total, TotalPages: totalPages}
}
