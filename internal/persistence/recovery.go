package persistence

import (
	"context"
	"fmt"
	"os"

	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/pkg/types"
)

const recoveryMarkerName = "recovery-needed"

// Recoverer restores the last-active state from the newest checkpoint and
// replays the WAL on top of it. It owns the recovery marker, the sentinel
// whose presence on disk means the previous run did not shut down cleanly.
type Recoverer struct {
	baseDir       string
	checkpointer  *Checkpointer
	walPath       string
	applyEntry    func(ctx context.Context, entry types.WALEntry) error
	restoreActive func(ctx context.Context, lastActive []types.LastActiveEntry) error
}

// NewRecoverer creates a Recoverer. applyEntry replays one WAL entry against
// live state (idempotently: the same Store API used for live writes).
// restoreActive installs the checkpoint's last-active snapshot.
func NewRecoverer(baseDir string, checkpointer *Checkpointer, walPath string,
	applyEntry func(ctx context.Context, entry types.WALEntry) error,
	restoreActive func(ctx context.Context, lastActive []types.LastActiveEntry) error,
) *Recoverer {
	return &Recoverer{
		baseDir:       baseDir,
		checkpointer:  checkpointer,
		walPath:       walPath,
		applyEntry:    applyEntry,
		restoreActive: restoreActive,
	}
}

func (r *Recoverer) markerPath() string {
	return r.baseDir + string(os.PathSeparator) + recoveryMarkerName
}

// NeedsRecovery reports whether the marker from a prior run is present.
func (r *Recoverer) NeedsRecovery() bool {
	_, err := os.Stat(r.markerPath())
	return err == nil
}

// Run performs recovery: restore the newest checkpoint's last-active state,
// then replay the WAL in file order. Session/todo state itself is not
// touched by the checkpoint restore (the checkpoint is backup metadata, not
// the source of truth) — only last-active is installed before replay.
// Individual malformed WAL entries are logged and skipped rather than
// aborting recovery. The WAL file is removed only after every entry has
// been replayed (successfully or skipped).
func (r *Recoverer) Run(ctx context.Context) error {
	_, _, lastActive, _, err := r.checkpointer.Newest()
	if err != nil && err != ErrNotFound {
		logging.Warn().Err(err).Msg("could not load any checkpoint during recovery, continuing with WAL replay only")
	}
	if err == nil {
		if rerr := r.restoreActive(ctx, lastActive); rerr != nil {
			logging.Error().Err(rerr).Msg("failed to restore last-active state during recovery")
		}
	}

	entries, err := ReadAll(r.walPath)
	if err != nil {
		return fmt.Errorf("persistence: recovery wal read: %w", err)
	}

	for _, entry := range entries {
		if err := r.applyEntry(ctx, entry); err != nil {
			logging.Warn().Err(err).Str("operation", string(entry.Operation)).Msg("skipping wal entry during recovery")
		}
	}

	if err := Remove(r.walPath); err != nil {
		logging.Error().Err(err).Msg("failed to remove wal file after recovery replay")
	}

	return nil
}

// MarkActive writes the recovery marker, to be done once init (including any
// recovery) has completed. Its presence means this run has not yet shut
// down cleanly.
func (r *Recoverer) MarkActive() error {
	f, err := os.OpenFile(r.markerPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("persistence: write recovery marker: %w", err)
	}
	return f.Close()
}

// ClearMarker removes the recovery marker on clean shutdown. If removal
// fails, the marker is left in place on purpose: recovery is cheaper to
// repeat than to silently skip after an ambiguous shutdown.
func (r *Recoverer) ClearMarker() error {
	if err := os.Remove(r.markerPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: remove recovery marker: %w", err)
	}
	return nil
}
