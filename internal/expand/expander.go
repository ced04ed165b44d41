// Package expand turns links discovered on a fetched page into a bounded set
// of new frontier entries. Every safeguard is mandatory: ancestor-chain cycle
// rejection, checkpoint-status rejection, crawl-policy rejection, a per-parent
// acceptance cap, and a depth bound.
package expand

import (
	"context"

	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/checkpoint"
	"github.com/scrapeworks/sift/internal/scrape"
)

// Result summarizes one expansion pass.
type Result struct {
	// Accepted entries are ready to enqueue, each tagged with the parent
	// identifier and the full ancestor chain.
	Accepted []scrape.FrontierEntry
	// Blocked counts candidates rejected by crawl policy.
	Blocked int
	// Dropped counts candidates rejected for any other reason: depth bound,
	// cycles, checkpoint state, malformed URLs, or the per-parent cap.
	Dropped int
}

// Expander proposes child frontier entries from candidate links.
type Expander struct {
	store      checkpoint.Store
	policy     scrape.RobotsPolicy
	maxPerPage int
	maxDepth   int
	logger     *zap.Logger
}

// New creates an Expander. maxPerPage and maxDepth fall back to the scrape
// package defaults when non-positive.
func New(store checkpoint.Store, policy scrape.RobotsPolicy, maxPerPage, maxDepth int, logger *zap.Logger) *Expander {
	if maxPerPage <= 0 {
		maxPerPage = scrape.DefaultFollowMaxPerPage
	}
	if maxDepth <= 0 {
		maxDepth = scrape.DefaultFollowMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		store:      store,
		policy:     policy,
		maxPerPage: maxPerPage,
		maxDepth:   maxDepth,
		logger:     logger,
	}
}

// Expand resolves each candidate href against base, normalizes it, and applies
// the safeguards in order. Candidates past the per-parent cap are counted as
// dropped, not silently ignored.
func (e *Expander) Expand(ctx context.Context, parent scrape.FrontierEntry, base string, hrefs []string) Result {
	var res Result

	childDepth := parent.Depth + 1
	if childDepth > e.maxDepth {
		res.Dropped = len(hrefs)
		return res
	}

	ancestors := make(map[string]struct{}, len(parent.Ancestors)+1)
	for _, a := range parent.Ancestors {
		ancestors[a] = struct{}{}
	}
	ancestors[parent.ID] = struct{}{}

	seen := make(map[string]struct{}, len(hrefs))
	chain := append(append([]string(nil), parent.Ancestors...), parent.ID)

	for _, href := range hrefs {
		id, err := scrape.ResolveRef(base, href)
		if err != nil {
			e.logger.Debug("dropping malformed candidate", zap.String("href", href), zap.Error(err))
			res.Dropped++
			continue
		}
		if _, dup := seen[id]; dup {
			res.Dropped++
			continue
		}
		seen[id] = struct{}{}

		if _, cyclic := ancestors[id]; cyclic {
			res.Dropped++
			continue
		}

		if e.store.IsDone(id) {
			res.Dropped++
			continue
		}
		status, ok, err := e.store.Status(ctx, id)
		if err != nil {
			e.logger.Warn("checkpoint lookup failed, dropping candidate", zap.String("url", id), zap.Error(err))
			res.Dropped++
			continue
		}
		if ok && (status == string(scrape.StatusDone) || status == string(scrape.StatusInProgress)) {
			res.Dropped++
			continue
		}

		if !e.policy.Allowed(ctx, id) {
			res.Blocked++
			continue
		}

		if len(res.Accepted) >= e.maxPerPage {
			res.Dropped++
			continue
		}
		res.Accepted = append(res.Accepted, scrape.FrontierEntry{
			ID:        id,
			Depth:     childDepth,
			Parent:    parent.ID,
			Ancestors: chain,
		})
	}

	return res
}
