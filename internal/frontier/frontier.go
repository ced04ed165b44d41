// Package frontier provides the bounded FIFO work queue the orchestrator
// drains. Seeds and expanded entries share one queue so breadth-first order
// and the capacity bound hold across both.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scrapeworks/sift/internal/scrape"
)

// ErrClosed is returned by Dequeue once the frontier is closed and drained.
var ErrClosed = errors.New("frontier closed")

// Frontier is a bounded in-memory FIFO with context-aware operations. All
// methods, including Close, are safe to call concurrently: the entries
// channel is never closed, shutdown is signaled on a separate channel, so a
// producer blocked in Enqueue can never hit a closed-channel send.
type Frontier struct {
	ch        chan scrape.FrontierEntry
	done      chan struct{}
	closeOnce sync.Once
}

// New constructs a frontier with the provided capacity.
func New(capacity int) *Frontier {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Frontier{
		ch:   make(chan scrape.FrontierEntry, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes an entry or returns once the context ends or the frontier
// closes.
func (f *Frontier) Enqueue(ctx context.Context, entry scrape.FrontierEntry) error {
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-f.done:
		return ErrClosed
	case f.ch <- entry:
		return nil
	}
}

// TryEnqueue pushes an entry without blocking. It returns false when the
// frontier is full or closed; callers count the drop instead of erroring.
func (f *Frontier) TryEnqueue(entry scrape.FrontierEntry) bool {
	select {
	case <-f.done:
		return false
	default:
	}
	select {
	case f.ch <- entry:
		return true
	default:
		return false
	}
}

// Dequeue pops the next entry, respecting context cancellation. It returns
// ErrClosed once the frontier is closed and empty.
func (f *Frontier) Dequeue(ctx context.Context) (scrape.FrontierEntry, error) {
	select {
	case <-ctx.Done():
		return scrape.FrontierEntry{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case entry := <-f.ch:
		return entry, nil
	case <-f.done:
		// Closed: hand out whatever is still queued, then report drained.
		select {
		case entry := <-f.ch:
			return entry, nil
		default:
			return scrape.FrontierEntry{}, ErrClosed
		}
	}
}

// Close stops admission and lets consumers drain the remainder. Idempotent.
func (f *Frontier) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Len reports the number of queued entries.
func (f *Frontier) Len() int {
	return len(f.ch)
}
