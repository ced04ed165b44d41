package persist

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/scrape"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) != "" {
			lines = append(lines, scanner.Text())
		}
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestAppendBelowThresholdIsNotOnDisk(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := Open(path, 10, zap.NewNop())
	require.NoError(t, err)

	// 7 of 10: below the batch threshold, nothing is durable yet. A hard
	// crash here loses all 7, within the documented batchSize-1 bound.
	for i := 0; i < 7; i++ {
		require.NoError(t, w.Append(scrape.Record{"n": i}))
	}
	assert.Empty(t, readLines(t, path))
	assert.EqualValues(t, 7, w.Appended())
	assert.EqualValues(t, 0, w.Flushed())
}

func TestBatchThresholdForcesWrite(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := Open(path, 3, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, w.Append(scrape.Record{"n": i}))
	}
	// Two complete batches of 3 are durable; the 7th record is buffered.
	assert.Len(t, readLines(t, path), 6)
	assert.EqualValues(t, 6, w.Flushed())
}

func TestFlushWritesPartialBatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := Open(path, 10, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Append(scrape.Record{"title": "only one"}))
	require.NoError(t, w.Flush())

	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var rec scrape.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "only one", rec["title"])
}

func TestLossBoundSurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")

	w1, err := Open(path, 5, zap.NewNop())
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		require.NoError(t, w1.Append(scrape.Record{"n": i}))
	}
	// Simulated crash: the writer is abandoned without Flush/Close. The
	// first batch of 5 was forced to storage; 4 buffered records are lost.
	assert.Len(t, readLines(t, path), 5)

	w2, err := Open(path, 5, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w2.Append(scrape.Record{"n": 100}))
	require.NoError(t, w2.Close())

	assert.Len(t, readLines(t, path), 6)
}

// A flush that fails must leave the buffered batch intact without ever
// re-writing lines that already landed: the retry after recovery appends
// each record exactly once.
func TestFailedFlushDoesNotDuplicateRecords(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := Open(path, 10, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, w.Append(scrape.Record{"n": 0}))
	require.NoError(t, w.Flush())
	assert.EqualValues(t, 1, w.Flushed())

	// Swap in a read-only handle so the next flush fails at the write.
	good := w.f
	bad, err := os.Open(path)
	require.NoError(t, err)
	w.f = bad

	require.NoError(t, w.Append(scrape.Record{"n": 1}))
	require.NoError(t, w.Append(scrape.Record{"n": 2}))
	require.Error(t, w.Flush())
	assert.EqualValues(t, 1, w.Flushed(), "failed batch must not count as flushed")

	// Recover the writable handle; the retained batch flushes exactly once.
	w.f = good
	_ = bad.Close()
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	seen := map[int]int{}
	for _, line := range lines {
		var rec map[string]int
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		seen[rec["n"]]++
	}
	for n := 0; n < 3; n++ {
		assert.Equal(t, 1, seen[n], "record %d written %d times", n, seen[n])
	}
}

func TestCloseFlushes(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := Open(path, 100, zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, w.Append(scrape.Record{"n": i}))
	}
	require.NoError(t, w.Close())
	assert.Len(t, readLines(t, path), 4)
}
