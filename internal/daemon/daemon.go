// Package daemon wires the four core subsystems — persistence, stream
// health supervision, the process registry, and the reactive session state
// store — into a single running process with a cooperative startup/shutdown
// sequence, grounded in the teacher's cmd/opencode/commands/serve.go.
package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/opencode-ai/sessiond/internal/config"
	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/internal/persistence"
	"github.com/opencode-ai/sessiond/internal/registry"
	"github.com/opencode-ai/sessiond/internal/statestore"
	"github.com/opencode-ai/sessiond/internal/streamhealth"
)

// Daemon owns every long-lived subsystem and the sequencing of their
// startup and shutdown.
type Daemon struct {
	Paths  *config.Paths
	Config *config.Config

	Store        *persistence.Store
	WAL          *persistence.WAL
	Sessions     *persistence.Sessions
	DailySessions *persistence.DailySessions
	Checkpointer *persistence.Checkpointer
	Recoverer    *persistence.Recoverer

	Registry   *registry.Registry
	Heartbeat  *registry.HeartbeatMonitor
	WorkStealer *registry.WorkStealer
	Consensus  *registry.Consensus

	StreamHealth *streamhealth.Registry
	Detector     *streamhealth.Detector

	StateStore *statestore.Store

	unsubscribeStateStore func()
}

// New constructs every subsystem wired together but starts nothing; call
// Start to begin the running daemon.
func New(paths *config.Paths, cfg *config.Config) *Daemon {
	persistenceDir := paths.PersistenceDir()
	store := persistence.NewStore(persistenceDir)

	var wal *persistence.WAL
	if cfg.Thresholds.WALEnabled {
		wal = persistence.NewWAL(walPath(persistenceDir), cfg.Thresholds.WALFlushInterval, cfg.Thresholds.WALBufferLimit)
	}

	sessions := persistence.NewSessions(store, wal, eventbus.Publish)
	dailySessions := persistence.NewDailySessions(store, func(ctx context.Context, sessionID string) (bool, error) {
		if _, err := sessions.GetSession(ctx, sessionID); err != nil {
			if err == persistence.ErrNotFound {
				return false, nil
			}
			return false, err
		}
		return true, nil
	})

	checkpointer := persistence.NewCheckpointer(
		store,
		filepath.Join(persistenceDir, "checkpoints"),
		cfg.Thresholds.CheckpointInterval,
		cfg.Thresholds.MaxCheckpoints,
		sessions.Snapshot,
	)
	recoverer := persistence.NewRecoverer(
		persistenceDir,
		checkpointer,
		walPath(persistenceDir),
		sessions.ApplyWALEntry,
		sessions.RestoreLastActive,
	)

	procRegistry := registry.New(nil, eventbus.Publish)
	heartbeat := registry.NewHeartbeatMonitor(procRegistry, cfg.Thresholds.HeartbeatCheckInterval, cfg.Thresholds.HeartbeatTimeout, nil)
	workStealer := registry.NewWorkStealer(procRegistry)
	consensus := registry.NewConsensus(nil)

	shRegistry := streamhealth.NewRegistry(cfg.Thresholds, eventbus.Publish, nil)
	detector := streamhealth.NewDetector(shRegistry, cfg.Thresholds.StreamPollInterval)

	stateStore := statestore.New()

	return &Daemon{
		Paths:         paths,
		Config:        cfg,
		Store:         store,
		WAL:           wal,
		Sessions:      sessions,
		DailySessions: dailySessions,
		Checkpointer:  checkpointer,
		Recoverer:     recoverer,
		Registry:      procRegistry,
		Heartbeat:     heartbeat,
		WorkStealer:   workStealer,
		Consensus:     consensus,
		StreamHealth:  shRegistry,
		Detector:      detector,
		StateStore:    stateStore,
	}
}

func walPath(persistenceDir string) string {
	return filepath.Join(persistenceDir, "wal.jsonl")
}

// Start runs crash recovery (if needed), then brings up every periodic
// subsystem. Matches spec.md §4.2.4: "on startup, before accepting any
// writes... check for the recovery marker".
func (d *Daemon) Start(ctx context.Context) error {
	if d.Recoverer.NeedsRecovery() {
		logging.Warn().Msg("recovery marker present, replaying wal before accepting writes")
		if err := d.Recoverer.Run(ctx); err != nil {
			return fmt.Errorf("daemon: recovery: %w", err)
		}
	}
	if err := d.Recoverer.MarkActive(); err != nil {
		return fmt.Errorf("daemon: mark active: %w", err)
	}

	if d.WAL != nil {
		d.WAL.Start()
	}
	d.Checkpointer.Start(ctx)
	d.Heartbeat.Start()
	d.Detector.Start()

	d.unsubscribeStateStore = eventbus.SubscribeAll(d.StateStore.Apply)

	logging.Info().Str("persistenceDir", d.Paths.PersistenceDir()).Msg("daemon started")
	return nil
}

// Shutdown performs the cooperative sequence spec.md §5 describes: stop
// timers, flush the WAL, write a final checkpoint, unsubscribe the state
// store, then clear the recovery marker last — so a crash at any point
// before the marker is cleared is still detected as needing recovery on the
// next start.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.Detector.Stop()
	d.Heartbeat.Stop()
	d.Checkpointer.Stop()

	if d.WAL != nil {
		if err := d.WAL.Stop(); err != nil {
			logging.Error().Err(err).Msg("final wal flush failed")
		}
	}

	if _, err := d.Checkpointer.Create(ctx); err != nil {
		logging.Error().Err(err).Msg("final checkpoint failed")
	}

	if d.unsubscribeStateStore != nil {
		d.unsubscribeStateStore()
	}
	d.StateStore.Close()
	d.StreamHealth.Clear()

	if err := d.Recoverer.ClearMarker(); err != nil {
		return fmt.Errorf("daemon: clear recovery marker: %w", err)
	}

	logging.Info().Msg("daemon stopped")
	return nil
}
