package statestore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

func waitForPatch(t *testing.T, store *Store, trigger func()) Patch {
	t.Helper()
	ch := make(chan Patch, 1)
	unsub := store.Subscribe(func(p Patch) {
		select {
		case ch <- p:
		default:
		}
	})
	defer unsub()

	trigger()

	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch notification")
		return Patch{}
	}
}

func TestStore_SessionUpsertAndDelete(t *testing.T) {
	store := New()
	defer store.Close()

	waitForPatch(t, store, func() {
		store.Apply(eventbus.Event{Type: eventbus.SessionUpdated, Data: eventbus.SessionUpdatedData{Info: &types.Session{ID: "s1", Title: "hello"}}})
	})

	snap := store.Snapshot()
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != "s1" {
		t.Fatalf("sessions = %+v", snap.Sessions)
	}

	waitForPatch(t, store, func() {
		store.Apply(eventbus.Event{Type: eventbus.SessionDeleted, Data: eventbus.SessionDeletedData{Info: &types.Session{ID: "s1"}}})
	})
	snap = store.Snapshot()
	if len(snap.Sessions) != 0 {
		t.Fatalf("sessions after delete = %+v", snap.Sessions)
	}
}

// TestStore_MessageWindowEviction implements spec.md §8 scenario 5: emitting
// message.updated for ids m001..m101 in order must leave exactly 100
// messages, with m002 the oldest survivor and m001's parts gone.
func TestStore_MessageWindowEviction(t *testing.T) {
	store := New()
	defer store.Close()

	const sessionID = "s1"

	store.Apply(eventbus.Event{
		Type: eventbus.MessagePartUpdated,
		Data: eventbus.MessagePartUpdatedData{Part: &types.TextPart{ID: "p1", SessionID: sessionID, MessageID: "m001", Type: types.PartText, Text: "hi"}},
	})

	var last Patch
	for i := 1; i <= 101; i++ {
		id := fmt.Sprintf("m%03d", i)
		last = waitForPatch(t, store, func() {
			store.Apply(eventbus.Event{
				Type: eventbus.MessageUpdated,
				Data: eventbus.MessageUpdatedData{Info: &types.Message{ID: id, SessionID: sessionID, Role: types.RoleUser}},
			})
		})
	}
	_ = last

	snap := store.Snapshot()
	msgs := snap.MessagesBySession[sessionID]
	if len(msgs) != 100 {
		t.Fatalf("len(messages) = %d, want 100", len(msgs))
	}
	if msgs[0].ID != "m002" {
		t.Fatalf("oldest survivor = %s, want m002", msgs[0].ID)
	}
	if _, ok := snap.PartsByMessage["m001"]; ok {
		t.Error("m001's parts should have been cascade-deleted on eviction")
	}
}

func TestStore_PermissionAskedAndReplied(t *testing.T) {
	store := New()
	defer store.Close()

	waitForPatch(t, store, func() {
		store.Apply(eventbus.Event{Type: eventbus.PermissionAsked, Data: eventbus.PermissionAskedData{
			Permission: types.Permission{ID: "p1", SessionID: "s1", Title: "run bash"},
		}})
	})
	snap := store.Snapshot()
	if len(snap.PermissionsBySession["s1"]) != 1 {
		t.Fatalf("permissions = %+v", snap.PermissionsBySession["s1"])
	}

	waitForPatch(t, store, func() {
		store.Apply(eventbus.Event{Type: eventbus.PermissionReplied, Data: eventbus.PermissionRepliedData{
			PermissionID: "p1", SessionID: "s1", Response: "once",
		}})
	})
	snap = store.Snapshot()
	if len(snap.PermissionsBySession["s1"]) != 0 {
		t.Fatalf("permissions after reply = %+v", snap.PermissionsBySession["s1"])
	}
}

func TestStore_PendingModeChangeSignal(t *testing.T) {
	store := New()
	defer store.Close()

	if _, ok := store.TakePendingModeChange(); ok {
		t.Fatal("no signal should be pending yet")
	}

	waitForPatch(t, store, func() {
		store.Apply(eventbus.Event{
			Type: eventbus.MessagePartUpdated,
			Data: eventbus.MessagePartUpdatedData{Part: &types.ToolPart{
				ID: "tp1", SessionID: "s1", MessageID: "m1", Type: types.PartToolInvocation,
				Tool: "switch_mode", State: types.ToolCompleted,
				Metadata: map[string]any{"mode": "plan"},
			}},
		})
	})

	sig, ok := store.TakePendingModeChange()
	if !ok {
		t.Fatal("expected a pending mode-change signal")
	}
	if sig.Mode != "plan" || sig.SessionID != "s1" {
		t.Errorf("signal = %+v", sig)
	}
	if _, ok := store.TakePendingModeChange(); ok {
		t.Error("signal should be one-shot: second take must report ok=false")
	}
}

func TestStore_BootstrapAppliesAtomically(t *testing.T) {
	store := New()
	defer store.Close()

	patch := waitForPatch(t, store, func() {
		err := store.Bootstrap(context.Background(), Fetchers{
			Providers:    func(ctx context.Context) (types.ProviderState, error) { return types.ProviderState{Providers: []string{"anthropic"}}, nil },
			ProviderList: func(ctx context.Context) ([]string, error) { return []string{"anthropic"}, nil },
			Agents:       func(ctx context.Context) ([]string, error) { return []string{"build"}, nil },
			Config:       func(ctx context.Context) (map[string]any, error) { return map[string]any{"model": "claude"}, nil },
		}, false)
		if err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
	})
	if len(patch.Keys) == 0 {
		t.Fatal("expected a non-empty batch patch from Bootstrap's atomic apply")
	}

	snap := store.Snapshot()
	if len(snap.Agents) != 1 || snap.Agents[0] != "build" {
		t.Fatalf("agents = %+v", snap.Agents)
	}
	if len(snap.Providers) != 1 {
		t.Fatalf("providers = %+v", snap.Providers)
	}
}

func TestStore_DeepSyncDeduplicatesPerSession(t *testing.T) {
	store := New()
	defer store.Close()

	var calls int
	var mu sync.Mutex
	fetchers := Fetchers{
		MessageHistory: func(ctx context.Context, sessionID string) ([]types.Message, map[string][]types.Part, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return []types.Message{{ID: "m1", SessionID: sessionID}}, nil, nil
		},
	}

	if err := store.DeepSync(context.Background(), "s1", fetchers); err != nil {
		t.Fatalf("first DeepSync: %v", err)
	}
	if err := store.DeepSync(context.Background(), "s1", fetchers); err != nil {
		t.Fatalf("second DeepSync: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("MessageHistory called %d times, want 1 (deep sync must be one-shot per session)", calls)
	}
}
