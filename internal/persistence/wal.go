package persistence

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// WAL is an append-only line-delimited-JSON journal. Appends land in an
// in-memory buffer under mu; a ticker periodically drains the buffer to
// wal.jsonl. A flush failure re-prepends the batch to the buffer head so
// nothing is lost, and the next tick retries.
type WAL struct {
	path   string
	mu     sync.Mutex
	buffer []types.WALEntry
	limit  int

	flushInterval time.Duration
	ticker        *time.Ticker
	stop          chan struct{}
	wg            sync.WaitGroup
}

// NewWAL creates a WAL writing to path, bounding the in-memory buffer at
// limit entries (0 means unbounded).
func NewWAL(path string, flushInterval time.Duration, limit int) *WAL {
	return &WAL{
		path:          path,
		limit:         limit,
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
	}
}

// Append adds an entry to the buffer. If the buffer is at its limit, Append
// blocks until a flush frees room, applying backpressure rather than
// dropping entries or growing without bound.
func (w *WAL) Append(ctx context.Context, op types.WALOperation, payload any) error {
	entry := types.WALEntry{
		Timestamp: time.Now().UnixMilli(),
		Operation: op,
		Payload:   payload,
	}

	for {
		w.mu.Lock()
		if w.limit <= 0 || len(w.buffer) < w.limit {
			w.buffer = append(w.buffer, entry)
			w.mu.Unlock()
			return nil
		}
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Start launches the periodic flush ticker.
func (w *WAL) Start() {
	w.ticker = time.NewTicker(w.flushInterval)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-w.ticker.C:
				if err := w.Flush(); err != nil {
					logging.Error().Err(err).Msg("wal flush failed")
				}
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the flush ticker and performs one last flush.
func (w *WAL) Stop() error {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.stop)
	w.wg.Wait()
	return w.Flush()
}

// Flush drains the current buffer to disk, retrying the append with
// exponential backoff before giving up and re-prepending the batch.
func (w *WAL) Flush() error {
	w.mu.Lock()
	if len(w.buffer) == 0 {
		w.mu.Unlock()
		return nil
	}
	batch := w.buffer
	w.buffer = nil
	w.mu.Unlock()

	err := backoff.Retry(func() error {
		return appendLines(w.path, batch)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))

	if err != nil {
		w.mu.Lock()
		w.buffer = append(batch, w.buffer...)
		w.mu.Unlock()
		return fmt.Errorf("persistence: wal flush: %w", err)
	}
	return nil
}

func appendLines(path string, entries []types.WALEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("persistence: open wal: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("persistence: marshal wal entry: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("persistence: write wal line: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("persistence: flush wal buffer: %w", err)
	}
	return f.Sync()
}

// ReadAll reads every entry currently on disk, in file order. Lines that
// fail to parse are skipped and logged rather than aborting the read.
func ReadAll(path string) ([]types.WALEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: open wal: %w", err)
	}
	defer f.Close()

	var entries []types.WALEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry types.WALEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			logging.Warn().Err(err).Msg("skipping malformed wal line")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("persistence: scan wal: %w", err)
	}
	return entries, nil
}

// Remove deletes the WAL file. Called after a fully successful replay.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: remove wal: %w", err)
	}
	return nil
}
