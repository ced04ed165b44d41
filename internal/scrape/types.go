// Package scrape defines the core types and interfaces shared across the
// extraction engine: work identifiers, frontier entries, extracted records,
// checkpoint statuses, and the narrow capability interfaces the orchestrator
// consumes.
package scrape

import (
	"net/http"
	"time"
)

// Mode selects the top-level scheduling strategy for a run.
type Mode string

// Supported scheduling modes.
const (
	// ModeList pre-seeds the frontier with every start URL and drains it
	// concurrently.
	ModeList Mode = "list"
	// ModePages follows a "next page" link sequentially from the first
	// start URL.
	ModePages Mode = "pages"
)

// Status is the checkpoint lifecycle state of one identifier.
type Status string

// Checkpoint statuses persisted per identifier.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// CheckpointRecord is the durable per-identifier processing state.
type CheckpointRecord struct {
	Identifier string
	Status     Status
	Attempts   int
	UpdatedAt  time.Time
}

// FrontierEntry is one unit of pending work. Depth is 0 for seeds and
// parent.Depth+1 for expanded entries. Ancestors holds the identifier chain
// that led here, oldest first, and is used for cycle rejection.
type FrontierEntry struct {
	ID        string
	Depth     int
	Parent    string
	Ancestors []string
}

// Lineage field names attached to records produced from expanded entries.
const (
	SourceURLField = "_source_url"
	ParentURLField = "_parent_url"
)

// Record is one extracted record: field name to scalar, list, or nested
// mapping. Records are immutable once handed to the persister.
type Record map[string]any

// FetchRequest carries everything the fetch capability needs for one URL.
type FetchRequest struct {
	URL       string
	Headers   http.Header
	AuthToken string
}

// FetchResponse is the result of one fetch.
type FetchResponse struct {
	StatusCode int
	Body       []byte
	FinalURL   string
	Duration   time.Duration
}

// Summary aggregates the outcome of a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	Job       string        `json:"job"`
	Succeeded int64         `json:"succeeded"`
	Failed    int64         `json:"failed"`
	Skipped   int64         `json:"skipped"`
	Blocked   int64         `json:"blocked"`
	Dropped   int64         `json:"dropped"`
	Entries   int64         `json:"entries"`
	Recovered int64         `json:"recovered"`
	Started   time.Time     `json:"started_at"`
	Finished  time.Time     `json:"finished_at"`
	Duration  time.Duration `json:"duration"`
}
