package results

import "github.com/corpex-io/corpex/internal/domain"

// ArrayResults is a SearchResults backed by a fixed in-memory list of match
// identifier strings.
type ArrayResults struct {
	ids        []string
	cursor     int
	pageLength int
	page       int
}

var _ SearchResults = (*ArrayResults)(nil)

// NewArrayResults wraps a fixed list of identifiers.
func NewArrayResults(ids []string) *ArrayResults {
	return &ArrayResults{ids: ids}
}

// Reset rewinds to the first item and clears the page counter.
func (r *ArrayResults) Reset() error {
	r.cursor = 0
	r.page = 0
	return nil
}

// Size returns the exact number of items.
func (r *ArrayResults) Size() int { return len(r.ids) }

// Seek positions the cursor on logical item n (1-based) and reports whether
// it exists.
func (r *ArrayResults) Seek(n int) bool {
	r.cursor = n - 1
	if r.cursor < 0 {
		r.cursor = 0
	}
	return r.HasNext()
}

// HasNext reports whether another item is available within the current page.
func (r *ArrayResults) HasNext() bool {
	if r.pageLength > 0 && r.page >= r.pageLength {
		return false
	}
	return r.cursor < len(r.ids)
}

// Next returns the next identifier.
func (r *ArrayResults) Next() (string, error) {
	if !r.HasNext() {
		return "", domain.ErrNoSuchElement
	}
	id := r.ids[r.cursor]
	r.cursor++
	r.page++
	return id, nil
}

// SetPageLength caps items per iteration pass; zero means unlimited.
func (r *ArrayResults) SetPageLength(n int) { r.pageLength = n }

// PageLength returns the page cap.
func (r *ArrayResults) PageLength() int { return r.pageLength }

// Close is a no-op; there are no backing resources.
func (r *ArrayResults) Close() error { return nil }
