package store

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = 100000
)

type Page struct {
	Page  int
	Limit int
}

func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Page{Page: page, Limit: limit}
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.Limit
}

func (p Page) normalized() Page {
	return NewPage(p.Page, p.Limit)
}

// Pages is the number of pages needed for total items.
func (p Page) Pages(total int64) int {
	if total == 0 {
		return 0
	}
	limit := int64(p.normalized().Limit)
	return int((total + limit - 1) / limit)
}
