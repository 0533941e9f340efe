package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PostedEvent is emitted after a posting transaction commits.
type PostedEvent struct {
	DocumentID *uuid.UUID
	Entries    []Entry
	PostedAt   time.Time
}

// Increases lists the pairs whose balance went up.
func (e PostedEvent) Increases() []Pair {
	var out []Pair
	seen := map[Pair]bool{}
	for _, entry := range e.Entries {
		p := Pair{ProductID: entry.ProductID, LocationID: entry.LocationID}
		if entry.QtyDelta.IsPositive() && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// PostingHook receives committed postings. Hooks run outside any transaction
// and must not fail the posting; errors are logged by the caller.
type PostingHook interface {
	AfterPost(ctx context.Context, evt PostedEvent) error
}

// PostingHookFunc adapts a function to PostingHook.
type PostingHookFunc func(ctx context.Context, evt PostedEvent) error

// AfterPost implements PostingHook.
func (f PostingHookFunc) AfterPost(ctx context.Context, evt PostedEvent) error { return f(ctx, evt) }

// Hooks fans an event out to several hooks, returning the first error.
type Hooks []PostingHook

// AfterPost implements PostingHook.
func (h Hooks) AfterPost(ctx context.Context, evt PostedEvent) error {
	var first error
	for _, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.AfterPost(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
