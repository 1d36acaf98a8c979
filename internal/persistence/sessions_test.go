package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

func newTestSessions(t *testing.T) *Sessions {
	t.Helper()
	store := NewStore(t.TempDir())
	var published []eventbus.Event
	return NewSessions(store, nil, func(ev eventbus.Event) { published = append(published, ev) })
}

func TestSessions_CreateGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	var published []eventbus.Event
	sessions := NewSessions(NewStore(t.TempDir()), nil, func(ev eventbus.Event) { published = append(published, ev) })

	if err := sessions.CreateSession(ctx, types.Session{ID: "s1", Title: "hello"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := sessions.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want hello", got.Title)
	}

	if err := sessions.UpdateSession(ctx, types.Session{ID: "s1", Title: "updated"}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	got, _ = sessions.GetSession(ctx, "s1")
	if got.Title != "updated" {
		t.Errorf("Title after update = %q, want updated", got.Title)
	}

	if err := sessions.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := sessions.GetSession(ctx, "s1"); err != ErrNotFound {
		t.Errorf("GetSession after delete = %v, want ErrNotFound", err)
	}

	if len(published) != 3 {
		t.Fatalf("published %d events, want 3 (created, updated, deleted)", len(published))
	}
	if published[0].Type != eventbus.SessionCreated || published[1].Type != eventbus.SessionUpdated || published[2].Type != eventbus.SessionDeleted {
		t.Errorf("published topics = %+v", published)
	}
}

func TestSessions_DeleteAbsentSessionIsNoop(t *testing.T) {
	sessions := newTestSessions(t)
	if err := sessions.DeleteSession(context.Background(), "missing"); err != nil {
		t.Fatalf("DeleteSession on absent session: %v", err)
	}
}

func TestSessions_ListSessions(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	for _, id := range []string{"s1", "s2", "s3"} {
		if err := sessions.CreateSession(ctx, types.Session{ID: id}); err != nil {
			t.Fatalf("CreateSession(%s): %v", id, err)
		}
	}
	got, err := sessions.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
}

func TestSessions_MessagesAndTodos(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	if err := sessions.CreateMessage(ctx, types.Message{ID: "m1", SessionID: "s1", Role: types.RoleUser}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if err := sessions.CreateMessage(ctx, types.Message{ID: "m2", SessionID: "s1", Role: types.RoleAssistant}); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	msgs, err := sessions.ListMessages(ctx, "s1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(msgs))
	}

	todos, err := sessions.GetTodos(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTodos on absent: %v", err)
	}
	if todos != nil {
		t.Errorf("todos = %+v, want nil before any update", todos)
	}

	want := []types.Todo{{ID: "t1", SessionID: "s1", Content: "write tests", Status: types.TodoPending}}
	if err := sessions.UpdateTodos(ctx, "s1", want); err != nil {
		t.Fatalf("UpdateTodos: %v", err)
	}
	got, err := sessions.GetTodos(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTodos: %v", err)
	}
	if len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("todos = %+v", got)
	}
}

func TestSessions_ActivateSessionIsPersonaKeyed(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)
	now := time.UnixMilli(1000)

	if err := sessions.ActivateSession(ctx, types.PersonaZee, "s1", nil, now); err != nil {
		t.Fatalf("ActivateSession(zee): %v", err)
	}
	if err := sessions.ActivateSession(ctx, types.PersonaStanley, "s2", nil, now); err != nil {
		t.Fatalf("ActivateSession(stanley): %v", err)
	}

	entries, err := sessions.LastActive(ctx)
	if err != nil {
		t.Fatalf("LastActive: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2 (one per persona)", len(entries))
	}

	// Reactivating zee under a different session must replace, not add.
	if err := sessions.ActivateSession(ctx, types.PersonaZee, "s3", nil, now); err != nil {
		t.Fatalf("ActivateSession(zee, again): %v", err)
	}
	entries, _ = sessions.LastActive(ctx)
	if len(entries) != 2 {
		t.Fatalf("len(entries) after re-activate = %d, want 2", len(entries))
	}
}

func TestSessions_RestoreLastActive(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	restored := []types.LastActiveEntry{
		{Persona: types.PersonaZee, SessionID: "s1", UpdatedAt: 5},
		{Persona: types.PersonaJohny, SessionID: "s2", UpdatedAt: 6},
	}
	if err := sessions.RestoreLastActive(ctx, restored); err != nil {
		t.Fatalf("RestoreLastActive: %v", err)
	}
	got, err := sessions.LastActive(ctx)
	if err != nil {
		t.Fatalf("LastActive: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestSessions_Snapshot(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	if err := sessions.CreateSession(ctx, types.Session{ID: "s1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := sessions.UpdateTodos(ctx, "s1", []types.Todo{{ID: "t1", SessionID: "s1"}}); err != nil {
		t.Fatalf("UpdateTodos: %v", err)
	}
	if err := sessions.ActivateSession(ctx, types.PersonaZee, "s1", nil, time.UnixMilli(1)); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}

	snap, lastActive, err := sessions.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].Session.ID != "s1" || len(snap[0].Todos) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if len(lastActive) != 1 {
		t.Fatalf("lastActive = %+v", lastActive)
	}
}

func TestSessions_ApplyWALEntryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	sessions := newTestSessions(t)

	entry := types.WALEntry{
		Operation: types.OpSessionCreate,
		Payload:   types.Session{ID: "s1", Title: "from wal"},
	}
	if err := sessions.ApplyWALEntry(ctx, entry); err != nil {
		t.Fatalf("ApplyWALEntry: %v", err)
	}
	if err := sessions.ApplyWALEntry(ctx, entry); err != nil {
		t.Fatalf("ApplyWALEntry (replayed twice): %v", err)
	}
	got, err := sessions.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "from wal" {
		t.Errorf("Title = %q, want %q", got.Title, "from wal")
	}

	unknown := types.WALEntry{Operation: types.WALOperation("bogus")}
	if err := sessions.ApplyWALEntry(ctx, unknown); err == nil {
		t.Error("expected an error for an unknown wal operation")
	}
}
