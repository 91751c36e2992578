// Package page implements the cursor-walking strategies shared by the
// provider clients. A provider adapts its paged endpoint to a FetchFunc and
// picks the walk matching the endpoint's sort order.
package page

import (
	"context"
	"time"
)

// Page size constants. Pull-request listings use the smaller size because a
// single pull request carries nested comments and commits.
const (
	DefaultSize     = 100
	PullRequestSize = 25
)

// Cursor is an opaque pointer to a page of a paginated endpoint. For GitHub it
// is the URL taken from a Link header rel; for Bitbucket the next/previous URL
// embedded in the response body. The empty cursor means "first page" when
// passed to a fetch and "no such page" when returned from one.
type Cursor string

// Page is one fetched page plus whatever pagination metadata the endpoint
// exposed. A page with no metadata at all is treated as a single complete
// page by every walk.
type Page[T any] struct {
	Items []T
	Next  Cursor
	Prev  Cursor
	Last  Cursor
}

// FetchFunc fetches a single page. An empty cursor requests the first page.
type FetchFunc[T any] func(ctx context.Context, cursor Cursor) (Page[T], error)

// WalkAll fetches every page in order and concatenates the items. Used when
// the total collection must be known exactly (repositories, members).
func WalkAll[T any](ctx context.Context, fetch FetchFunc[T]) ([]T, error) {
	var out []T
	cursor := Cursor("")
	for {
		p, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if p.Next == "" {
			return out, nil
		}
		cursor = p.Next
	}
}

// WalkNewestFirst walks an endpoint sorted newest-first, returning the items
// with timeOf(item) after since. As long as every item on a page passes the
// filter, older pages may still hold in-window items and the walk continues.
// The first page with any out-of-window item straddles the window boundary:
// its passing items are kept and no further page is fetched.
//
// The walk assumes the endpoint's sort order is monotonic; an out-of-order
// item makes it stop early and silently drop the remainder.
func WalkNewestFirst[T any](ctx context.Context, fetch FetchFunc[T], since time.Time, timeOf func(T) time.Time) ([]T, error) {
	var out []T
	cursor := Cursor("")
	for {
		p, err := fetch(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range p.Items {
			if !timeOf(item).After(since) {
				return out, nil
			}
			out = append(out, item)
		}
		if p.Next == "" {
			return out, nil
		}
		cursor = p.Next
	}
}

// WalkOldestFirst walks an endpoint sorted oldest-first, returning the items
// with timeOf(item) at or after since. The newest items live on the last
// page, so the first fetch only discovers the last-page cursor and the walk
// then proceeds backward through previous-page cursors. On each page the
// trailing run of in-window items is kept; the first item older than since
// ends the walk, discarding only the stale records before it on that page.
//
// Items are returned oldest first, matching the endpoint order.
func WalkOldestFirst[T any](ctx context.Context, fetch FetchFunc[T], since time.Time, timeOf func(T) time.Time) ([]T, error) {
	first, err := fetch(ctx, "")
	if err != nil {
		return nil, err
	}

	p := first
	if first.Last != "" {
		p, err = fetch(ctx, first.Last)
		if err != nil {
			return nil, err
		}
	}

	var out []T
	for {
		kept, crossed := trailingSince(p.Items, since, timeOf)
		out = append(kept, out...)
		if crossed || p.Prev == "" {
			return out, nil
		}
		p, err = fetch(ctx, p.Prev)
		if err != nil {
			return nil, err
		}
	}
}

// trailingSince returns the trailing run of items whose time is at or after
// since, and whether an older item was encountered.
func trailingSince[T any](items []T, since time.Time, timeOf func(T) time.Time) ([]T, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if timeOf(items[i]).Before(since) {
			return append([]T(nil), items[i+1:]...), true
		}
	}
	return append([]T(nil), items...), false
}
