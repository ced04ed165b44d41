// Package progress defines the stats events emitted by the engine and the
// fan-out hub that delivers them to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes what a stats event is reporting.
type Kind string

// Supported event kinds. Page-level kinds carry a count delta of one per
// page outcome; KindEntries reports frontier growth from link expansion.
const (
	KindRunStart Kind = "RUN_START"
	KindRunDone  Kind = "RUN_DONE"
	KindRunError Kind = "RUN_ERROR"
	KindSuccess  Kind = "SUCCESS"
	KindFailure  Kind = "FAILURE"
	KindSkipped  Kind = "SKIPPED"
	KindBlocked  Kind = "BLOCKED"
	KindEntries  Kind = "ENTRIES"
)

// Event is one stats delta in the reporting stream.
type Event struct {
	// RunID identifies the run emitting the event.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which outcome or lifecycle milestone occurred.
	Kind Kind
	// Count is the outcome delta; one per page for page-level kinds.
	Count int64
	// Entries is the frontier entries delta for KindEntries events.
	Entries int64
	// URL is the page the event concerns, when page-scoped.
	URL string
	// Dur captures fetch or run latency where applicable.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindRunStart, KindRunDone, KindRunError, KindEntries:
	case KindSuccess, KindFailure, KindSkipped, KindBlocked:
		if e.URL == "" {
			return fmt.Errorf("%s event requires a url", e.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
