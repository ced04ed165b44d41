// Package engine implements the scheduling core: it owns the frontier,
// dispatches bounded concurrent workers, and sequences rate-limiting, fetch,
// extraction, deduplication, checkpointing, persistence, and link expansion
// for each unit of work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/checkpoint"
	"github.com/scrapeworks/sift/internal/dedup"
	"github.com/scrapeworks/sift/internal/expand"
	"github.com/scrapeworks/sift/internal/frontier"
	"github.com/scrapeworks/sift/internal/persist"
	"github.com/scrapeworks/sift/internal/policy/ratelimit"
	"github.com/scrapeworks/sift/internal/progress"
	"github.com/scrapeworks/sift/internal/scrape"
)

// Config controls engine scheduling.
type Config struct {
	// Concurrency is the worker pool size for list mode and expanded
	// entries (default 4).
	Concurrency int
	// FrontierCapacity bounds the pending queue (default 1024).
	FrontierCapacity int
	// MaxAttempts bounds fetch retries per identifier (default 3).
	MaxAttempts int
	// RunTopic, when set together with a publisher, receives the run
	// summary on completion.
	RunTopic string
	// RawStorePrefix prefixes raw document artifacts preserved on
	// extraction failures.
	RawStorePrefix string
}

// Deps collects the capabilities the engine consumes. Fetcher, Parser,
// Store, Writer, Policy, and Limiter are required; the rest are optional.
type Deps struct {
	Fetcher   scrape.Fetcher
	Parser    scrape.Parser
	Store     checkpoint.Store
	Writer    *persist.Writer
	Policy    scrape.RobotsPolicy
	Limiter   *ratelimit.Limiter
	Dedup     *dedup.Deduplicator
	Retry     scrape.RetryPolicy
	Tokens    scrape.TokenSource
	RawStore  scrape.BlobStore
	Publisher scrape.Publisher
	Hasher    scrape.Hasher
	Clock     scrape.Clock
	IDs       scrape.IDGenerator
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Engine runs one job to completion.
type Engine struct {
	job      scrape.Job
	cfg      Config
	deps     Deps
	frontier *frontier.Frontier
	expander *expand.Expander
	logger   *zap.Logger

	runID       string
	outstanding sync.WaitGroup

	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	blocked   atomic.Int64
	dropped   atomic.Int64
	entries   atomic.Int64
	recovered atomic.Int64
}

// New validates the job and wires the engine.
func New(job scrape.Job, cfg Config, deps Deps) (*Engine, error) {
	job.Normalize()
	if err := job.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("engine requires a fetcher")
	case deps.Parser == nil:
		return nil, errors.New("engine requires a parser")
	case deps.Store == nil:
		return nil, errors.New("engine requires a checkpoint store")
	case deps.Writer == nil:
		return nil, errors.New("engine requires a record writer")
	case deps.Policy == nil:
		return nil, errors.New("engine requires a crawl policy")
	case deps.Limiter == nil:
		return nil, errors.New("engine requires a rate limiter")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(0, 0, 0)
	}
	if deps.Retry == nil {
		deps.Retry = scrape.NewExponentialRetryPolicy(cfg.MaxAttempts)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := &Engine{
		job:      job,
		cfg:      cfg,
		deps:     deps,
		frontier: frontier.New(cfg.FrontierCapacity),
		logger:   deps.Logger,
	}
	if job.Follow != nil && job.Follow.Enabled {
		e.expander = expand.New(deps.Store, deps.Policy, job.Follow.MaxPerPage, job.Follow.MaxDepth, deps.Logger)
	}
	return e, nil
}

// Run executes the job until the frontier drains, the pagination chain ends,
// or ctx is canceled. The persister is flushed and the summary published
// before returning.
func (e *Engine) Run(ctx context.Context) (scrape.Summary, error) {
	started := e.now()
	runID, err := e.newRunID()
	if err != nil {
		return scrape.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	e.runID = runID
	e.emit(progress.Event{Kind: progress.KindRunStart})

	logger := e.logger.With(zap.String("run_id", runID), zap.String("job", e.job.Name))
	logger.Info("run starting", zap.String("mode", string(e.job.Mode)))

	var runErr error
	switch e.job.Mode {
	case scrape.ModePages:
		runErr = e.runPages(ctx)
	default:
		runErr = e.runList(ctx)
	}

	if err := e.deps.Writer.Flush(); err != nil {
		logger.Error("final flush failed", zap.Error(err))
		if runErr == nil {
			runErr = fmt.Errorf("flush records: %w", err)
		}
	}

	finished := e.now()
	summary := scrape.Summary{
		RunID:     runID,
		Job:       e.job.Name,
		Succeeded: e.succeeded.Load(),
		Failed:    e.failed.Load(),
		Skipped:   e.skipped.Load(),
		Blocked:   e.blocked.Load(),
		Dropped:   e.dropped.Load(),
		Entries:   e.entries.Load(),
		Recovered: e.recovered.Load(),
		Started:   started,
		Finished:  finished,
		Duration:  finished.Sub(started),
	}

	if runErr != nil {
		e.emit(progress.Event{Kind: progress.KindRunError, Dur: summary.Duration, Note: runErr.Error()})
	} else {
		e.emit(progress.Event{Kind: progress.KindRunDone, Dur: summary.Duration})
	}
	e.publishSummary(summary, runErr)

	logger.Info("run finished",
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("blocked", summary.Blocked),
		zap.Int64("dropped", summary.Dropped),
		zap.Int64("entries", summary.Entries),
		zap.Int64("recovered", summary.Recovered),
		zap.Duration("duration", summary.Duration),
	)
	return summary, runErr
}

// runList seeds the frontier with every start URL plus recovery candidates
// and drains it with a pool of workers. The frontier closes once every
// outstanding entry, including expanded children, has been processed.
func (e *Engine) runList(ctx context.Context) error {
	seeds, err := e.seedEntries(ctx)
	if err != nil {
		return err
	}

	// Reserve every seed's outstanding slot before the closer starts, so
	// early finishers cannot close the frontier while seeding is underway.
	e.outstanding.Add(len(seeds))
	go func() {
		e.outstanding.Wait()
		e.frontier.Close()
	}()
	stop := context.AfterFunc(ctx, e.frontier.Close)
	defer stop()

	// Workers start before seeding: a seed list larger than the frontier
	// capacity must be drained while Enqueue blocks on the full queue.
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx)
		}()
	}

	var seedErr error
	for i, entry := range seeds {
		if err := e.frontier.Enqueue(ctx, entry); err != nil {
			for range seeds[i:] {
				e.outstanding.Done()
			}
			seedErr = fmt.Errorf("seed frontier: %w", err)
			break
		}
	}

	wg.Wait()
	if seedErr != nil && ctx.Err() == nil {
		return seedErr
	}
	return ctx.Err()
}

// runPages follows the "next page" chain strictly sequentially: page N+1 is
// never fetched before page N's next link is resolved. Expanded children, if
// following is enabled, are drained concurrently by the worker pool.
func (e *Engine) runPages(ctx context.Context) error {
	var wg sync.WaitGroup
	if e.expander != nil {
		stop := context.AfterFunc(ctx, e.frontier.Close)
		defer stop()
		for i := 0; i < e.cfg.Concurrency; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.workerLoop(ctx)
			}()
		}
	}

	pageErr := e.followPages(ctx)

	if e.expander != nil {
		// No more parents will expand; close once children finish.
		go func() {
			e.outstanding.Wait()
			e.frontier.Close()
		}()
		wg.Wait()
	}
	if pageErr != nil {
		return pageErr
	}
	return ctx.Err()
}

func (e *Engine) followPages(ctx context.Context) error {
	current, err := scrape.NormalizeURL(e.job.StartURLs[0])
	if err != nil {
		return fmt.Errorf("normalize start url: %w", err)
	}

	maxPages := scrape.DefaultMaxPages
	if e.job.Pagination != nil && e.job.Pagination.MaxPages > 0 {
		maxPages = e.job.Pagination.MaxPages
	}

	for page := 0; page < maxPages; page++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		entry := scrape.FrontierEntry{ID: current}
		doc := e.processEntry(ctx, entry, true)
		if doc == nil {
			return nil
		}

		href, ok := doc.SelectAttribute(e.job.Pagination.Selector, e.job.Pagination.Attribute)
		if !ok || href == "" {
			return nil
		}
		next, err := scrape.ResolveRef(current, href)
		if err != nil {
			e.logger.Warn("malformed next link", zap.String("href", href), zap.Error(err))
			return nil
		}
		if next == current {
			return nil
		}
		current = next

		if err := e.politeDelay(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		entry, err := e.frontier.Dequeue(ctx)
		if err != nil {
			return
		}
		e.processEntry(ctx, entry, false)
		e.outstanding.Done()
		if err := e.politeDelay(ctx); err != nil {
			// Keep draining so the outstanding count reaches zero; each
			// remaining entry short-circuits on the canceled context.
			continue
		}
	}
}

// processEntry runs the full pipeline for one identifier. When needDoc is
// set (pagination mode) the parsed document is returned even for skipped
// identifiers, so the next-link chain can continue past already-done pages.
func (e *Engine) processEntry(ctx context.Context, entry scrape.FrontierEntry, needDoc bool) scrape.Document {
	if ctx.Err() != nil {
		return nil
	}
	id := entry.ID
	logger := e.logger.With(zap.String("url", id))

	if e.deps.Dedup.Seen(id) || e.deps.Store.IsDone(id) {
		e.skipped.Add(1)
		e.emit(progress.Event{Kind: progress.KindSkipped, Count: 1, URL: id})
		if !needDoc {
			return nil
		}
		doc, err := e.resolveOnly(ctx, id)
		if err != nil {
			logger.Warn("resolve-only fetch failed", zap.Error(err))
			return nil
		}
		return doc
	}

	if !e.deps.Policy.Allowed(ctx, id) {
		e.blocked.Add(1)
		e.emit(progress.Event{Kind: progress.KindBlocked, Count: 1, URL: id})
		return nil
	}

	if err := e.deps.Limiter.Wait(ctx); err != nil {
		return nil
	}

	// Two-phase checkpoint: durable in_progress before any fetch side
	// effect, done only after the record is handed to the persister.
	if err := e.deps.Store.MarkInProgress(ctx, id); err != nil {
		e.recordFailure(ctx, entry, fmt.Errorf("mark in_progress: %w", err), false)
		return nil
	}
	e.deps.Dedup.Add(id)

	resp, err := e.fetchWithRetry(ctx, id)
	if err != nil {
		e.recordFailure(ctx, entry, err, true)
		return nil
	}

	doc, record, err := e.extract(resp)
	if err != nil {
		e.preserveRaw(ctx, id, resp.Body)
		e.recordFailure(ctx, entry, &scrape.ExtractionError{URL: id, Err: err}, true)
		return doc
	}

	record[scrape.SourceURLField] = id
	if entry.Parent != "" {
		record[scrape.ParentURLField] = entry.Parent
	}
	if err := e.deps.Writer.Append(record); err != nil {
		e.recordFailure(ctx, entry, fmt.Errorf("append record: %w", err), true)
		return doc
	}

	if err := e.deps.Store.MarkDone(ctx, id); err != nil {
		logger.Error("mark done failed", zap.Error(err))
	}
	e.succeeded.Add(1)
	e.emit(progress.Event{Kind: progress.KindSuccess, Count: 1, URL: id, Dur: resp.Duration})

	e.maybeExpand(ctx, entry, resp.FinalURL, doc)
	return doc
}

// resolveOnly fetches an already-done page without touching the checkpoint
// or the persister, purely to resolve its next link.
func (e *Engine) resolveOnly(ctx context.Context, id string) (scrape.Document, error) {
	if err := e.deps.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := e.fetchWithRetry(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.deps.Parser.Parse(resp.Body)
}

func (e *Engine) fetchWithRetry(ctx context.Context, id string) (scrape.FetchResponse, error) {
	req := scrape.FetchRequest{URL: id, Headers: e.headers()}
	for attempt := 0; ; attempt++ {
		if e.deps.Tokens != nil {
			token, err := e.deps.Tokens.Token(ctx)
			if err != nil {
				return scrape.FetchResponse{}, err
			}
			req.AuthToken = token
		}

		resp, err := e.deps.Fetcher.Fetch(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !e.deps.Retry.ShouldRetry(err, attempt+1) {
			return scrape.FetchResponse{}, err
		}

		backoff := e.deps.Retry.Backoff(attempt)
		e.logger.Debug("retrying fetch",
			zap.String("url", id), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return scrape.FetchResponse{}, ctx.Err()
		case <-time.After(backoff):
		}

		if err := e.deps.Limiter.Wait(ctx); err != nil {
			return scrape.FetchResponse{}, err
		}
	}
}

func (e *Engine) extract(resp scrape.FetchResponse) (scrape.Document, scrape.Record, error) {
	doc, err := e.deps.Parser.Parse(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	record, err := doc.Extract(e.job.Fields)
	if err != nil {
		return doc, nil, err
	}
	return doc, record, nil
}

func (e *Engine) maybeExpand(ctx context.Context, parent scrape.FrontierEntry, base string, doc scrape.Document) {
	if e.expander == nil || doc == nil {
		return
	}
	if base == "" {
		base = parent.ID
	}
	hrefs := doc.SelectAttributeAll(e.job.Follow.Selector, e.job.Follow.Attribute)
	if len(hrefs) == 0 {
		return
	}

	res := e.expander.Expand(ctx, parent, base, hrefs)
	accepted := int64(0)
	for _, child := range res.Accepted {
		e.outstanding.Add(1)
		if !e.frontier.TryEnqueue(child) {
			e.outstanding.Done()
			res.Dropped++
			continue
		}
		accepted++
	}
	e.entries.Add(accepted)
	e.blocked.Add(int64(res.Blocked))
	e.dropped.Add(int64(res.Dropped))

	if accepted > 0 {
		e.emit(progress.Event{Kind: progress.KindEntries, Entries: accepted, URL: parent.ID})
	}
	for i := int64(0); i < int64(res.Blocked); i++ {
		e.emit(progress.Event{Kind: progress.KindBlocked, Count: 1, URL: parent.ID})
	}
}

// recordFailure forwards the failure with full context to the reporting sink
// before the task completes; a worker never fails silently.
func (e *Engine) recordFailure(ctx context.Context, entry scrape.FrontierEntry, err error, markFailed bool) {
	e.failed.Add(1)
	e.logger.Warn("entry failed", zap.String("url", entry.ID), zap.Int("depth", entry.Depth), zap.Error(err))
	e.emit(progress.Event{Kind: progress.KindFailure, Count: 1, URL: entry.ID, Note: err.Error()})
	if markFailed {
		if mErr := e.deps.Store.MarkFailed(ctx, entry.ID); mErr != nil {
			e.logger.Error("mark failed errored", zap.String("url", entry.ID), zap.Error(mErr))
		}
	}
}

// preserveRaw stores the raw document for offline debugging before the
// extraction failure is recorded.
func (e *Engine) preserveRaw(ctx context.Context, id string, body []byte) {
	if e.deps.RawStore == nil || e.deps.Hasher == nil {
		return
	}
	hash, err := e.deps.Hasher.Hash(body)
	if err != nil {
		e.logger.Warn("hash raw document failed", zap.String("url", id), zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s.html", e.runID, hash)
	if e.cfg.RawStorePrefix != "" {
		path = fmt.Sprintf("%s/%s", e.cfg.RawStorePrefix, path)
	}
	uri, err := e.deps.RawStore.PutObject(ctx, path, "text/html; charset=utf-8", body)
	if err != nil {
		e.logger.Warn("preserve raw document failed", zap.String("url", id), zap.Error(err))
		return
	}
	e.logger.Info("raw document preserved", zap.String("url", id), zap.String("blob_uri", uri))
}

// seedEntries returns recovery candidates followed by the job's start URLs,
// all normalized. Recovery re-queues exactly the identifiers a prior run
// left in_progress.
func (e *Engine) seedEntries(ctx context.Context) ([]scrape.FrontierEntry, error) {
	incomplete, err := e.deps.Store.Incomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("list incomplete checkpoints: %w", err)
	}

	seen := make(map[string]struct{})
	entries := make([]scrape.FrontierEntry, 0, len(incomplete)+len(e.job.StartURLs))
	for _, id := range incomplete {
		if e.deps.Store.IsDone(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, scrape.FrontierEntry{ID: id})
		e.recovered.Add(1)
	}
	for _, raw := range e.job.StartURLs {
		id, err := scrape.NormalizeURL(raw)
		if err != nil {
			return nil, fmt.Errorf("normalize start url %q: %w", raw, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entries = append(entries, scrape.FrontierEntry{ID: id})
	}
	return entries, nil
}

func (e *Engine) headers() http.Header {
	if len(e.job.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(e.job.Headers))
	for k, v := range e.job.Headers {
		h.Set(k, v)
	}
	return h
}

// politeDelay sleeps a random duration in the job's delay range.
func (e *Engine) politeDelay(ctx context.Context) error {
	if e.job.MaxDelay <= 0 {
		return nil
	}
	d := e.job.MinDelay
	if spread := e.job.MaxDelay - e.job.MinDelay; spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (e *Engine) publishSummary(summary scrape.Summary, runErr error) {
	if e.deps.Publisher == nil || e.cfg.RunTopic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    summary.RunID,
		"job":       summary.Job,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"blocked":   summary.Blocked,
		"dropped":   summary.Dropped,
		"entries":   summary.Entries,
		"recovered": summary.Recovered,
		"duration":  summary.Duration.String(),
		"timestamp": e.now().Format(time.RFC3339),
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := e.deps.Publisher.Publish(pubCtx, e.cfg.RunTopic, payload); err != nil {
		e.logger.Warn("publish run summary failed", zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.deps.Emitter == nil {
		return
	}
	evt.RunID = e.runID
	evt.TS = e.now()
	e.deps.Emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e.deps.Clock != nil {
		return e.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) newRunID() (string, error) {
	if e.deps.IDs == nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano()), nil
	}
	return e.deps.IDs.NewID()
}
