package awr

import (
	"context"
	"sync"
)

// ListView keeps one page of the report list. It never patches its page
// locally: every mutation is followed by a fresh fetch.
type ListView struct {
	client   *Client
	pageSize int
	filters  []ListOption

	mu   sync.Mutex
	page int
	snap *ReportPage
	seq  uint64
}

// NewListView starts at page 1. A pageSize outside 1..MaxPageSize falls back
// to DefaultPageSize.
func NewListView(c *Client, pageSize int, filters ...ListOption) *ListView {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = DefaultPageSize
	}
	return &ListView{client: c, pageSize: pageSize, filters: filters, page: 1}
}

// Page returns the current 1-based page index.
func (v *ListView) Page() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page
}

// PageSize returns the configured page size.
func (v *ListView) PageSize() int { return v.pageSize }

// Snapshot returns the last loaded page, or nil before the first Load.
func (v *ListView) Snapshot() *ReportPage {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap == nil {
		return nil
	}
	cp := *v.snap
	cp.Items = append([]Report(nil), v.snap.Items...)
	return &cp
}

// LastPage is the highest valid page for total items, never below 1.
func LastPage(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// Load fetches the current page. When the page lies past the end of the
// collection (for example after its last item was deleted) it steps back to
// the last page and fetches again.
func (v *ListView) Load(ctx context.Context) error {
	v.mu.Lock()
	page := v.page
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	for {
		p, err := v.client.List(ctx, v.options(page)...)
		if err != nil {
			return err
		}
		if last := LastPage(p.Total, v.pageSize); page > last {
			page = last
			continue
		}

		v.mu.Lock()
		if seq == v.seq {
			v.page = page
			v.snap = p
		}
		v.mu.Unlock()
		return nil
	}
}

// GoTo switches to page n (clamped to 1) and loads it.
func (v *ListView) GoTo(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	v.mu.Lock()
	v.page = n
	v.mu.Unlock()
	return v.Load(ctx)
}

// Delete removes a report and reloads the page. Deleting a report that is
// already gone is not a failure: deleted is false and the page still reloads.
func (v *ListView) Delete(ctx context.Context, id int64) (deleted bool, err error) {
	err = v.client.Delete(ctx, id)
	switch {
	case err == nil:
		deleted = true
	case IsNotFound(err):
		deleted = false
	default:
		return false, err
	}
	return deleted, v.Load(ctx)
}

func (v *ListView) options(page int) []ListOption {
	opts := append([]ListOption(nil), v.filters...)
	return append(opts, WithPage(page), WithPageSize(v.pageSize))
}
