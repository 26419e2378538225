package session

// Pager is the navigation state of a paginated view. The zero value has
// no pages. Moves past either end are no-ops.
type Pager struct {
	current int
	total   int
}

// NewPager positions a pager on the first of total pages.
func NewPager(total int) Pager {
	return Pager{total: max(total, 0)}
}

// Next moves forward one page and reports whether the position changed.
func (p *Pager) Next() bool {
	if p.current+1 >= p.total {
		return false
	}
	p.current++
	return true
}

// Prev moves back one page and reports whether the position changed.
func (p *Pager) Prev() bool {
	if p.current == 0 {
		return false
	}
	p.current--
	return true
}

// Index returns the 0-based current page.
func (p Pager) Index() int { return p.current }

// Total returns the page count.
func (p Pager) Total() int { return p.total }
