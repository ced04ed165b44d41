package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/scrapeworks/sift/internal/progress"
)

// RunStats is a point-in-time aggregate of one run's outcomes.
type RunStats struct {
	RunID     string    `json:"run_id"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	Skipped   int64     `json:"skipped"`
	Blocked   int64     `json:"blocked"`
	Entries   int64     `json:"entries"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatsSink aggregates per-run counters in memory for the HTTP stats
// endpoint to serve.
type StatsSink struct {
	mu   sync.RWMutex
	runs map[string]*RunStats
}

// NewStatsSink creates an empty aggregator.
func NewStatsSink() *StatsSink {
	return &StatsSink{runs: make(map[string]*RunStats)}
}

// Consume folds a batch of events into the per-run aggregates.
func (s *StatsSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		rs := s.runs[evt.RunID]
		if rs == nil {
			rs = &RunStats{RunID: evt.RunID}
			s.runs[evt.RunID] = rs
		}
		switch evt.Kind {
		case progress.KindRunStart:
			rs.Running = true
		case progress.KindRunDone, progress.KindRunError:
			rs.Running = false
		case progress.KindSuccess:
			rs.Succeeded += evt.Count
		case progress.KindFailure:
			rs.Failed += evt.Count
		case progress.KindSkipped:
			rs.Skipped += evt.Count
		case progress.KindBlocked:
			rs.Blocked += evt.Count
		case progress.KindEntries:
			rs.Entries += evt.Entries
		}
		if evt.TS.After(rs.UpdatedAt) {
			rs.UpdatedAt = evt.TS
		}
	}
	return nil
}

// Snapshot returns a copy of every run's aggregate.
func (s *StatsSink) Snapshot() []RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStats, 0, len(s.runs))
	for _, rs := range s.runs {
		out = append(out, *rs)
	}
	return out
}

// Run returns the aggregate for one run ID.
func (s *StatsSink) Run(id string) (RunStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.runs[id]
	if !ok {
		return RunStats{}, false
	}
	return *rs, true
}

// Close implements the Sink interface; it performs no action.
func (s *StatsSink) Close(context.Context) error {
	return nil
}
