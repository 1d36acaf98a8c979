package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/pkg/types"
)

const checkpointDirPrefix = "checkpoint-"

// Checkpointer snapshots the projected session/todo/last-active state to a
// fresh checkpoint directory on a timer and on shutdown, trimming older
// snapshots down to a retained count.
type Checkpointer struct {
	store          *Store
	checkpointsDir string
	maxCheckpoints int
	interval       time.Duration

	snapshot func(ctx context.Context) ([]types.SessionTodos, []types.LastActiveEntry, error)

	mu     sync.Mutex
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
}

// SnapshotFunc is the signature a caller wires in to supply the current
// session+todo+last-active state (the daemon wires Sessions.Snapshot).
type SnapshotFunc func(ctx context.Context) ([]types.SessionTodos, []types.LastActiveEntry, error)

// NewCheckpointer creates a Checkpointer writing checkpoint directories
// under checkpointsDir.
func NewCheckpointer(store *Store, checkpointsDir string, interval time.Duration, maxCheckpoints int, snapshot SnapshotFunc) *Checkpointer {
	return &Checkpointer{
		store:          store,
		checkpointsDir: checkpointsDir,
		interval:       interval,
		maxCheckpoints: maxCheckpoints,
		snapshot:       snapshot,
		stop:           make(chan struct{}),
	}
}

// Start launches the periodic checkpoint timer.
func (c *Checkpointer) Start(ctx context.Context) {
	c.ticker = time.NewTicker(c.interval)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ticker.C:
				if _, err := c.Create(ctx); err != nil {
					logging.Error().Err(err).Msg("periodic checkpoint failed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic timer. It does not itself create a final
// checkpoint; callers take the final snapshot explicitly during shutdown.
func (c *Checkpointer) Stop() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	close(c.stop)
	c.wg.Wait()
}

// Create writes a new checkpoint directory and prunes old ones, returning
// the directory's id.
func (c *Checkpointer) Create(ctx context.Context) (string, error) {
	sessions, lastActive, err := c.snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("persistence: checkpoint snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	id := checkpointDirPrefix + strconv.FormatInt(now, 10)
	dir := filepath.Join(c.checkpointsDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("persistence: create checkpoint dir: %w", err)
	}

	todoCount := 0
	for _, st := range sessions {
		todoCount += len(st.Todos)
	}

	meta := types.CheckpointMetadata{
		ID:           id,
		Timestamp:    now,
		SessionCount: len(sessions),
		TodoCount:    todoCount,
	}

	if err := writeJSON(filepath.Join(dir, "sessions.json"), sessions); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "last-active.json"), lastActive); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return "", err
	}

	if err := c.prune(); err != nil {
		logging.Warn().Err(err).Msg("checkpoint retention prune failed")
	}

	return id, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", filepath.Base(path), err)
	}
	return atomicWrite(path, data)
}

// prune keeps only the maxCheckpoints most recent checkpoint directories.
func (c *Checkpointer) prune() error {
	dirs, err := c.List()
	if err != nil {
		return err
	}
	if len(dirs) <= c.maxCheckpoints {
		return nil
	}
	for _, id := range dirs[c.maxCheckpoints:] {
		if err := os.RemoveAll(filepath.Join(c.checkpointsDir, id)); err != nil {
			logging.Warn().Err(err).Str("checkpoint", id).Msg("failed to remove old checkpoint")
		}
	}
	return nil
}

// List returns checkpoint directory ids, most recent first.
func (c *Checkpointer) List() ([]string, error) {
	entries, err := os.ReadDir(c.checkpointsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: list checkpoints: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), checkpointDirPrefix) {
			ids = append(ids, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

// Newest loads the most recent checkpoint. A checkpoint directory that
// fails to parse is skipped in favor of the next older one.
func (c *Checkpointer) Newest() (dir string, sessions []types.SessionTodos, lastActive []types.LastActiveEntry, meta types.CheckpointMetadata, err error) {
	ids, err := c.List()
	if err != nil {
		return "", nil, nil, types.CheckpointMetadata{}, err
	}

	for _, id := range ids {
		dirPath := filepath.Join(c.checkpointsDir, id)

		var s []types.SessionTodos
		var la []types.LastActiveEntry
		var m types.CheckpointMetadata

		if err := readJSON(filepath.Join(dirPath, "sessions.json"), &s); err != nil {
			logging.Warn().Err(err).Str("checkpoint", id).Msg("corrupt checkpoint, trying older one")
			continue
		}
		if err := readJSON(filepath.Join(dirPath, "last-active.json"), &la); err != nil {
			logging.Warn().Err(err).Str("checkpoint", id).Msg("corrupt checkpoint, trying older one")
			continue
		}
		if err := readJSON(filepath.Join(dirPath, "metadata.json"), &m); err != nil {
			logging.Warn().Err(err).Str("checkpoint", id).Msg("corrupt checkpoint, trying older one")
			continue
		}

		return id, s, la, m, nil
	}

	return "", nil, nil, types.CheckpointMetadata{}, ErrNotFound
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
