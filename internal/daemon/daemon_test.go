package daemon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencode-ai/sessiond/internal/config"
	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

func testPaths(t *testing.T) *config.Paths {
	t.Helper()
	base := t.TempDir()
	return &config.Paths{
		Data:   filepath.Join(base, "data"),
		Config: filepath.Join(base, "config"),
		Cache:  filepath.Join(base, "cache"),
		State:  filepath.Join(base, "state"),
	}
}

func fastThresholds() config.Config {
	cfg := config.Config{Thresholds: config.DefaultThresholds()}
	cfg.Thresholds.HeartbeatCheckInterval = 5 * time.Millisecond
	cfg.Thresholds.StreamPollInterval = 5 * time.Millisecond
	cfg.Thresholds.CheckpointInterval = time.Hour
	cfg.Thresholds.WALFlushInterval = 5 * time.Millisecond
	return cfg
}

func TestDaemon_StartRecoversAndShutdownCheckpoints(t *testing.T) {
	eventbus.Reset()
	paths := testPaths(t)
	if err := paths.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	cfg := fastThresholds()

	d := New(paths, &cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !d.Recoverer.NeedsRecovery() {
		t.Error("recovery marker should be present while the daemon is running")
	}

	if err := d.Sessions.CreateSession(ctx, types.Session{ID: "s1", Title: "hi"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ids, err := d.Checkpointer.List()
	if err != nil {
		t.Fatalf("List checkpoints: %v", err)
	}
	if len(ids) == 0 {
		t.Error("expected Shutdown to have written a final checkpoint")
	}
}

func TestDaemon_UncleanShutdownLeavesMarkerForNextStart(t *testing.T) {
	eventbus.Reset()
	paths := testPaths(t)
	if err := paths.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	cfg := fastThresholds()
	ctx := context.Background()

	first := New(paths, &cfg)
	if err := first.Start(ctx); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := first.Sessions.CreateSession(ctx, types.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// Simulate a crash: no Shutdown call, marker stays in place.

	second := New(paths, &cfg)
	if !second.Recoverer.NeedsRecovery() {
		t.Fatal("expected the recovery marker from the unclean first run to still be present")
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("second Start (recovery): %v", err)
	}
	defer second.Shutdown(ctx)

	got, err := second.Sessions.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession after recovery: %v", err)
	}
	if got.ID != "s1" {
		t.Errorf("recovered session = %+v", got)
	}
}
