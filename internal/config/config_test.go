package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("server.addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Engine.Concurrency != 4 {
		t.Errorf("engine.concurrency = %d, want 4", cfg.Engine.Concurrency)
	}
	if cfg.Checkpoint.Backend != "sqlite" {
		t.Errorf("checkpoint.backend = %q, want sqlite", cfg.Checkpoint.Backend)
	}
	if !cfg.Robots.Respect {
		t.Error("robots.respect should default to true")
	}
	if cfg.FetchTimeout() != 15*time.Second {
		t.Errorf("FetchTimeout() = %v, want 15s", cfg.FetchTimeout())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  addr: ":9090"
engine:
  concurrency: 8
  frontier_capacity: 256
  max_attempts: 5
http:
  timeout_seconds: 45
  user_agent: sift-test-agent
headless:
  max_parallel: 2
  nav_timeout_seconds: 30
rate_limit:
  rps: 0.5
  burst: 2
robots:
  respect: false
checkpoint:
  backend: postgres
  dsn: postgres://sift@localhost/sift
dedup:
  capacity: 5000
  fp_rate: 0.001
  cache_size: 64
output:
  path: out/records.jsonl
  batch_size: 10
raw_store:
  bucket: sift-raw
  prefix: snapshots
pubsub:
  project_id: sift-project
  run_topic: sift-runs
logging:
  development: false
jobs:
  catalog:
    name: catalog
    mode: list
    start_urls: ["https://example.com/catalog"]
    fields:
      - name: title
        selectors:
          - type: css
            value: h1
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Errorf("engine.concurrency = %d, want 8", cfg.Engine.Concurrency)
	}
	if cfg.RateLimit.RPS != 0.5 {
		t.Errorf("rate_limit.rps = %v, want 0.5", cfg.RateLimit.RPS)
	}
	if cfg.Checkpoint.Backend != "postgres" || cfg.Checkpoint.DSN == "" {
		t.Errorf("checkpoint = %+v, want postgres with dsn", cfg.Checkpoint)
	}
	if cfg.RawStore.Bucket != "sift-raw" || cfg.RawStore.Prefix != "snapshots" {
		t.Errorf("raw_store = %+v", cfg.RawStore)
	}
	if cfg.NavTimeout() != 30*time.Second {
		t.Errorf("NavTimeout() = %v, want 30s", cfg.NavTimeout())
	}

	job, ok := cfg.Jobs["catalog"]
	if !ok {
		t.Fatal("jobs.catalog missing")
	}
	if len(job.StartURLs) != 1 || job.StartURLs[0] != "https://example.com/catalog" {
		t.Errorf("job start urls = %v", job.StartURLs)
	}
	if len(job.Fields) != 1 || job.Fields[0].Name != "title" {
		t.Errorf("job fields = %+v", job.Fields)
	}
}

func TestLoadExpandsJobEnvVars(t *testing.T) {
	t.Setenv("SIFT_TEST_PROXY", "http://proxy.internal:3128")
	t.Setenv("SIFT_TEST_SECRET", "cs-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
jobs:
  api:
    name: api
    mode: list
    start_urls: ["https://example.com/api"]
    proxy: ${SIFT_TEST_PROXY}
    headers:
      X-Client: "client-${SIFT_TEST_SECRET}"
    auth:
      token_url: https://example.com/token
      form:
        client_secret: ${SIFT_TEST_SECRET}
    fields:
      - name: title
        selectors:
          - type: css
            value: h1
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	job := cfg.Jobs["api"]
	if job.Proxy != "http://proxy.internal:3128" {
		t.Errorf("proxy = %q, env var not expanded", job.Proxy)
	}
	if got := job.Headers["X-Client"]; got != "client-cs-123" {
		t.Errorf("header = %q, env var not expanded", got)
	}
	if job.Auth == nil || job.Auth.Form["client_secret"] != "cs-123" {
		t.Errorf("auth form = %+v, env var not expanded", job.Auth)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad backend",
			yaml: "checkpoint:\n  backend: dynamo\n",
			want: "checkpoint.backend",
		},
		{
			name: "postgres without dsn",
			yaml: "checkpoint:\n  backend: postgres\n",
			want: "checkpoint.dsn",
		},
		{
			name: "zero concurrency",
			yaml: "engine:\n  concurrency: -1\n",
			want: "engine.concurrency",
		},
		{
			name: "fp rate out of range",
			yaml: "dedup:\n  fp_rate: 1.5\n",
			want: "dedup.fp_rate",
		},
		{
			name: "topic without project",
			yaml: "pubsub:\n  run_topic: runs\n",
			want: "pubsub.project_id",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.yaml), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() should have failed")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
