package phidias

import (
	"context"
	"fmt"
	"iter"
	"time"
)

// FetchFunc fetches one page. Bind it to Client.FetchStudents or to
// Client.FetchTracking for a given tracking id.
type FetchFunc func(ctx context.Context, req PageRequest) (*Page, error)

// Students adapts c.FetchStudents to a FetchFunc.
func Students(c Client) FetchFunc {
	return c.FetchStudents
}

// Tracking adapts c.FetchTracking for trackingID to a FetchFunc.
func Tracking(c Client, trackingID string) FetchFunc {
	return func(ctx context.Context, req PageRequest) (*Page, error) {
		return c.FetchTracking(ctx, trackingID, req)
	}
}

// Pager is a lazy page sequence starting at a watermark. Only the current
// page is held; restarting means building a new Pager from the stored
// watermark.
type Pager struct {
	fetch  FetchFunc
	since  time.Time
	limit  int
	cursor string
	done   bool
}

func NewPager(fetch FetchFunc, since time.Time, limit int) *Pager {
	return &Pager{fetch: fetch, since: since, limit: limit}
}

// Done reports whether the last page has been returned.
func (p *Pager) Done() bool { return p.done }

// Next fetches the following page. Calling it after Done returns nil, nil.
func (p *Pager) Next(ctx context.Context) (*Page, error) {
	if p.done {
		return nil, nil
	}

	page, err := p.fetch(ctx, PageRequest{Since: p.since, Cursor: p.cursor, Limit: p.limit})
	if err != nil {
		return nil, err
	}

	if page.NextCursor == "" {
		p.done = true
	} else if page.NextCursor == p.cursor {
		p.done = true
		return nil, fmt.Errorf("%w: cursor %q did not advance", ErrBadResponse, p.cursor)
	}
	p.cursor = page.NextCursor

	return page, nil
}

// All yields pages until exhaustion or the first error, which is yielded
// once and ends the sequence.
func (p *Pager) All(ctx context.Context) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		for !p.done {
			page, err := p.Next(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}
