package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencode-ai/sessiond/pkg/types"
)

func TestRecoverer_NeedsRecoveryReflectsMarkerPresence(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	cp := NewCheckpointer(store, filepath.Join(base, "checkpoints"), time.Hour, 3, fixedSnapshot(nil, nil))
	r := NewRecoverer(base, cp, filepath.Join(base, "wal.jsonl"),
		func(ctx context.Context, e types.WALEntry) error { return nil },
		func(ctx context.Context, la []types.LastActiveEntry) error { return nil },
	)

	if r.NeedsRecovery() {
		t.Error("fresh directory should not need recovery")
	}
	if err := r.MarkActive(); err != nil {
		t.Fatalf("MarkActive failed: %v", err)
	}
	if !r.NeedsRecovery() {
		t.Error("expected NeedsRecovery true after MarkActive")
	}
	if err := r.ClearMarker(); err != nil {
		t.Fatalf("ClearMarker failed: %v", err)
	}
	if r.NeedsRecovery() {
		t.Error("expected NeedsRecovery false after ClearMarker")
	}
}

func TestRecoverer_RunReplaysWALAndRemovesFile(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	walPath := filepath.Join(base, "wal.jsonl")

	w := NewWAL(walPath, time.Hour, 0)
	ctx := context.Background()
	if err := w.Append(ctx, types.OpSessionCreate, map[string]string{"id": "s1"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(ctx, types.OpMessageCreate, map[string]string{"id": "m1"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var replayed []types.WALOperation
	cp := NewCheckpointer(store, filepath.Join(base, "checkpoints"), time.Hour, 3, fixedSnapshot(nil, nil))
	r := NewRecoverer(base, cp, walPath,
		func(ctx context.Context, e types.WALEntry) error {
			replayed = append(replayed, e.Operation)
			return nil
		},
		func(ctx context.Context, la []types.LastActiveEntry) error { return nil },
	)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(replayed) != 2 || replayed[0] != types.OpSessionCreate || replayed[1] != types.OpMessageCreate {
		t.Errorf("expected both entries replayed in order, got %v", replayed)
	}
	if _, err := os.Stat(walPath); !os.IsNotExist(err) {
		t.Error("expected wal file removed after successful replay")
	}
}

func TestRecoverer_RunSkipsFailingEntriesButCompletes(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	walPath := filepath.Join(base, "wal.jsonl")

	w := NewWAL(walPath, time.Hour, 0)
	ctx := context.Background()
	if err := w.Append(ctx, types.OpSessionCreate, map[string]string{"id": "bad"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append(ctx, types.OpSessionCreate, map[string]string{"id": "good"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	var applied int
	cp := NewCheckpointer(store, filepath.Join(base, "checkpoints"), time.Hour, 3, fixedSnapshot(nil, nil))
	first := true
	r := NewRecoverer(base, cp, walPath,
		func(ctx context.Context, e types.WALEntry) error {
			if first {
				first = false
				return errFailingEntry
			}
			applied++
			return nil
		},
		func(ctx context.Context, la []types.LastActiveEntry) error { return nil },
	)

	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run should not fail outright when one entry errors: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected the second entry to still be applied, got applied=%d", applied)
	}
}

func TestRecoverer_RunRestoresLastActiveFromNewestCheckpoint(t *testing.T) {
	base := t.TempDir()
	store := NewStore(base)
	walPath := filepath.Join(base, "wal.jsonl")

	want := []types.LastActiveEntry{{SessionID: "s1", UpdatedAt: 42}}
	cp := NewCheckpointer(store, filepath.Join(base, "checkpoints"), time.Hour, 3, fixedSnapshot(nil, want))
	if _, err := cp.Create(context.Background()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	var restored []types.LastActiveEntry
	r := NewRecoverer(base, cp, walPath,
		func(ctx context.Context, e types.WALEntry) error { return nil },
		func(ctx context.Context, la []types.LastActiveEntry) error {
			restored = la
			return nil
		},
	)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(restored) != 1 || restored[0].SessionID != "s1" {
		t.Errorf("expected last-active restored from checkpoint, got %+v", restored)
	}
}

var errFailingEntry = &replayError{"intentional test failure"}

type replayError struct{ msg string }

func (e *replayError) Error() string { return e.msg }
