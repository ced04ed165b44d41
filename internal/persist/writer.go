// Package persist streams extracted records to a crash-safe append-only
// JSONL log. Writes are micro-batched: every batch is appended and forced to
// storage in one step, so at most batchSize-1 of the most recent records can
// be lost on a hard crash. The log is safe to tail while a run is active.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/scrape"
)

// DefaultBatchSize is the records-per-fsync trade-off the engine ships with.
const DefaultBatchSize = 10

// Writer is the micro-batched JSONL appender. Safe for concurrent use.
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	batch     [][]byte
	batchSize int
	appended  int64
	flushed   int64
	size      int64 // bytes known to be in the log, for rewind on a failed flush
	logger    *zap.Logger
}

// Open creates (or appends to) the record log at path.
func Open(path string, batchSize int, logger *zap.Logger) (*Writer, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open record log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat record log %s: %w", path, err)
	}
	return &Writer{
		f:         f,
		batch:     make([][]byte, 0, batchSize),
		batchSize: batchSize,
		size:      info.Size(),
		logger:    logger,
	}, nil
}

// Append buffers one record; the containing batch becomes durable once the
// batch threshold is reached or Flush is called.
func (w *Writer) Append(record scrape.Record) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch = append(w.batch, line)
	w.appended++
	if len(w.batch) >= w.batchSize {
		return w.writeBatchLocked()
	}
	return nil
}

// Flush forces any buffered records to storage. It must be called on every
// shutdown path, normal or not, so partial final batches are not dropped.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeBatchLocked()
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close record log: %w", err)
	}
	return nil
}

// Appended returns the number of records handed to Append.
func (w *Writer) Appended() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// Flushed returns the number of records durably written.
func (w *Writer) Flushed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

// writeBatchLocked appends the buffered batch as a single write so a retry
// after a failed flush can never duplicate records: on a write error the log
// is truncated back to its last known size and the whole batch stays
// buffered; once the write lands the batch is cleared even if the sync
// fails, because those lines are already in the file.
func (w *Writer) writeBatchLocked() error {
	if len(w.batch) == 0 {
		return nil
	}

	total := 0
	for _, line := range w.batch {
		total += len(line) + 1
	}
	buf := make([]byte, 0, total)
	for _, line := range w.batch {
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}

	if _, err := w.f.Write(buf); err != nil {
		if terr := w.f.Truncate(w.size); terr != nil {
			w.logger.Warn("rewind record log failed", zap.Error(terr))
		}
		return fmt.Errorf("append record batch: %w", err)
	}

	records := len(w.batch)
	w.size += int64(total)
	w.flushed += int64(records)
	w.batch = w.batch[:0]

	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync record log: %w", err)
	}
	w.logger.Debug("record batch flushed", zap.Int("records", records))
	return nil
}
