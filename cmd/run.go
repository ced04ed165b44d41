package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scrapeworks/sift/internal/api"
	"github.com/scrapeworks/sift/internal/auth"
	"github.com/scrapeworks/sift/internal/checkpoint"
	"github.com/scrapeworks/sift/internal/clock/system"
	"github.com/scrapeworks/sift/internal/config"
	"github.com/scrapeworks/sift/internal/dedup"
	"github.com/scrapeworks/sift/internal/engine"
	"github.com/scrapeworks/sift/internal/extract"
	collyfetcher "github.com/scrapeworks/sift/internal/fetcher/colly"
	"github.com/scrapeworks/sift/internal/fetcher/headless"
	hashsha "github.com/scrapeworks/sift/internal/hash/sha256"
	uuidgen "github.com/scrapeworks/sift/internal/id/uuid"
	"github.com/scrapeworks/sift/internal/persist"
	"github.com/scrapeworks/sift/internal/policy/ratelimit"
	"github.com/scrapeworks/sift/internal/policy/robots"
	"github.com/scrapeworks/sift/internal/progress"
	"github.com/scrapeworks/sift/internal/progress/sinks"
	"github.com/scrapeworks/sift/internal/publisher/pubsub"
	"github.com/scrapeworks/sift/internal/scrape"
	gcsstore "github.com/scrapeworks/sift/internal/storage/gcs"
	localstore "github.com/scrapeworks/sift/internal/storage/local"
)

// newRunCmd creates the 'run' subcommand, which executes one named job
// from the configuration to completion.
func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job>",
		Short: "Runs a configured scrape job",
		Long: `Executes the named job from the configuration file: seeds the frontier,
recovers any work a previous run left in progress, and streams extracted
records to the configured output. Stats and Prometheus metrics are served
over HTTP while the run is active.`,
		Args: cobra.ExactArgs(1),
		RunE: runJobCommand,
	}
}

func runJobCommand(cmd *cobra.Command, args []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger

	job, ok := cfg.Jobs[args[0]]
	if !ok {
		return fmt.Errorf("job %q is not configured", args[0])
	}
	if job.Name == "" {
		job.Name = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openCheckpointStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("close checkpoint store", zap.Error(cerr))
		}
	}()

	writer, err := persist.Open(cfg.Output.Path, cfg.Output.BatchSize, logger)
	if err != nil {
		return fmt.Errorf("open record writer: %w", err)
	}
	defer func() {
		if cerr := writer.Close(); cerr != nil {
			logger.Warn("close record writer", zap.Error(cerr))
		}
	}()

	fetcher, cleanup, err := buildFetcher(job, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	deps := engine.Deps{
		Fetcher: fetcher,
		Parser:  extract.NewParser(),
		Store:   store,
		Writer:  writer,
		Policy:  robots.NewEnforcer(cfg.Robots.Respect, cfg.HTTP.UserAgent, logger),
		Limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}),
		Dedup:   dedup.New(cfg.Dedup.Capacity, cfg.Dedup.FPRate, cfg.Dedup.CacheSize),
		Hasher:  hashsha.New(),
		Clock:   system.New(),
		IDs:     uuidgen.NewGenerator(),
		Logger:  logger,
	}

	if job.Auth != nil {
		deps.Tokens = auth.NewManager(*job.Auth, &http.Client{Timeout: cfg.FetchTimeout()}, system.New(), logger)
	}

	// The GCS store applies the configured prefix itself; the local store
	// relies on the engine's path prefix instead.
	rawPrefix := ""
	switch {
	case cfg.RawStore.Bucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init storage client: %w", err)
		}
		defer func() { _ = client.Close() }()
		raw, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.RawStore.Bucket, Prefix: cfg.RawStore.Prefix})
		if err != nil {
			return fmt.Errorf("init raw store: %w", err)
		}
		deps.RawStore = raw
	case cfg.RawStore.Dir != "":
		raw, err := localstore.New(localstore.Config{BaseDir: cfg.RawStore.Dir})
		if err != nil {
			return fmt.Errorf("init raw store: %w", err)
		}
		deps.RawStore = raw
		rawPrefix = cfg.RawStore.Prefix
	}

	if cfg.PubSub.ProjectID != "" {
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub publisher: %w", err)
		}
		defer func() { _ = pub.Close() }()
		deps.Publisher = pub
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics sink: %w", err)
	}
	stats := sinks.NewStatsSink()
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, stats)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cerr := hub.Close(closeCtx); cerr != nil {
			logger.Warn("close progress hub", zap.Error(cerr))
		}
	}()
	deps.Emitter = hub

	eng, err := engine.New(job, engine.Config{
		Concurrency:      cfg.Engine.Concurrency,
		FrontierCapacity: cfg.Engine.FrontierCapacity,
		MaxAttempts:      cfg.Engine.MaxAttempts,
		RunTopic:         cfg.PubSub.RunTopic,
		RawStorePrefix:   rawPrefix,
	}, deps)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	srv := api.New(cfg.Server.Addr, stats, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("shutdown stats server", zap.Error(serr))
			}
		}()
		_, runErr := eng.Run(gctx)
		return runErr
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run job: %w", err)
	}
	return nil
}

func openCheckpointStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		store, err := checkpoint.OpenPostgres(ctx, cfg.Checkpoint.DSN, system.New(), logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres checkpoint store: %w", err)
		}
		return store, nil
	default:
		store, err := checkpoint.OpenSQLite(ctx, cfg.Checkpoint.Path, system.New(), logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite checkpoint store: %w", err)
		}
		return store, nil
	}
}

func buildFetcher(job scrape.Job, cfg config.Config, logger *zap.Logger) (scrape.Fetcher, func(), error) {
	if job.UseBrowser {
		f, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			Proxy:             job.Proxy,
			NavigationTimeout: cfg.NavTimeout(),
			WaitForSelector:   job.WaitForSelector,
			Interactions:      job.Interactions,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init headless fetcher: %w", err)
		}
		return f, f.Close, nil
	}
	f, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Proxy:     job.Proxy,
		Timeout:   cfg.FetchTimeout(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}
	return f, func() {}, nil
}
