package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

func sessionPath(id string) []string           { return []string{"sessions", id} }
func messagePath(sessionID, id string) []string { return []string{"sessions", sessionID, "messages", id} }
func messagesDirPath(sessionID string) []string { return []string{"sessions", sessionID, "messages"} }
func todosPath(sessionID string) []string       { return []string{"sessions", sessionID, "todos"} }

var sessionsDirPath = []string{"sessions"}
var lastActivePath = []string{"last-active"}

// todoUpdatePayload is the WAL payload for a todo-update entry: Store.Put
// keys todos by session id, so replay needs the id alongside the list.
type todoUpdatePayload struct {
	SessionID string       `json:"sessionID"`
	Todos     []types.Todo `json:"todos"`
}

// Sessions is the write-through repository for session/message/todo entity
// records, layered on Store. Every create/update/activate call WAL-logs the
// operation before applying it to the on-disk store and publishing the
// corresponding bus event — matching spec.md §3's durability invariant that
// every acknowledged operation has a WAL entry before the caller sees
// success. DeleteSession and RestoreLastActive write without a WAL entry.
type Sessions struct {
	store   *Store
	wal     *WAL
	publish func(eventbus.Event)

	// stateMu serializes the last-active read-modify-write.
	stateMu sync.Mutex
}

// NewSessions creates a Sessions repository. wal may be nil (WAL disabled);
// publish defaults to eventbus.Publish when nil.
func NewSessions(store *Store, wal *WAL, publish func(eventbus.Event)) *Sessions {
	if publish == nil {
		publish = eventbus.Publish
	}
	return &Sessions{store: store, wal: wal, publish: publish}
}

func (s *Sessions) logOp(ctx context.Context, op types.WALOperation, payload any) error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Append(ctx, op, payload)
}

// CreateSession persists a new session and publishes session.created.
func (s *Sessions) CreateSession(ctx context.Context, session types.Session) error {
	if err := s.logOp(ctx, types.OpSessionCreate, session); err != nil {
		return fmt.Errorf("persistence: log session create: %w", err)
	}
	if err := s.store.Put(ctx, sessionPath(session.ID), session); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.SessionCreated, Data: eventbus.SessionCreatedData{Info: &session}})
	return nil
}

// UpdateSession persists a mutated session and publishes session.updated.
func (s *Sessions) UpdateSession(ctx context.Context, session types.Session) error {
	if err := s.logOp(ctx, types.OpSessionUpdate, session); err != nil {
		return fmt.Errorf("persistence: log session update: %w", err)
	}
	if err := s.store.Put(ctx, sessionPath(session.ID), session); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.SessionUpdated, Data: eventbus.SessionUpdatedData{Info: &session}})
	return nil
}

// DeleteSession removes a session and publishes session.deleted. Deleting
// an absent session is a no-op (no event is published).
func (s *Sessions) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, sessionPath(sessionID)); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.SessionDeleted, Data: eventbus.SessionDeletedData{Info: session}})
	return nil
}

// GetSession reads a single session. Returns ErrNotFound if absent.
func (s *Sessions) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	var session types.Session
	if err := s.store.Get(ctx, sessionPath(sessionID), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions returns every persisted session. Entries that fail to parse
// are skipped, matching Store.Scan's per-entry tolerance.
func (s *Sessions) ListSessions(ctx context.Context) ([]types.Session, error) {
	ids, err := s.store.List(ctx, sessionsDirPath)
	if err != nil {
		return nil, err
	}
	out := make([]types.Session, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		// A session with messages or todos has both sessions/<id>.json and
		// a sessions/<id>/ directory; List reports both under the same key.
		if seen[id] {
			continue
		}
		seen[id] = true
		session, err := s.GetSession(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, *session)
	}
	return out, nil
}

// CreateMessage persists a message and publishes message.updated — message
// creation and update share one topic per spec.md §4.5.3's insert/replace
// contract.
func (s *Sessions) CreateMessage(ctx context.Context, message types.Message) error {
	if err := s.logOp(ctx, types.OpMessageCreate, message); err != nil {
		return fmt.Errorf("persistence: log message create: %w", err)
	}
	if err := s.store.Put(ctx, messagePath(message.SessionID, message.ID), message); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.MessageUpdated, Data: eventbus.MessageUpdatedData{Info: &message}})
	return nil
}

// ListMessages returns every message persisted for sessionID.
func (s *Sessions) ListMessages(ctx context.Context, sessionID string) ([]types.Message, error) {
	var out []types.Message
	err := s.store.Scan(ctx, messagesDirPath(sessionID), func(key string, data json.RawMessage) error {
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

// UpdateTodos replaces a session's todo list wholesale (spec.md §3's
// Reconciliation: whole-record replacement) and publishes todo.updated.
func (s *Sessions) UpdateTodos(ctx context.Context, sessionID string, todos []types.Todo) error {
	if err := s.logOp(ctx, types.OpTodoUpdate, todoUpdatePayload{SessionID: sessionID, Todos: todos}); err != nil {
		return fmt.Errorf("persistence: log todo update: %w", err)
	}
	if err := s.store.Put(ctx, todosPath(sessionID), todos); err != nil {
		return err
	}
	s.publish(eventbus.Event{Type: eventbus.TodoUpdated, Data: eventbus.TodoUpdatedData{SessionID: sessionID, Todos: todos}})
	return nil
}

// GetTodos returns sessionID's todos, or nil if none have been recorded.
func (s *Sessions) GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	var todos []types.Todo
	if err := s.store.Get(ctx, todosPath(sessionID), &todos); err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return todos, nil
}

// ActivateSession records persona's currently active session/chat.
func (s *Sessions) ActivateSession(ctx context.Context, persona types.Persona, sessionID string, chatID *string, now time.Time) error {
	entry := types.LastActiveEntry{Persona: persona, SessionID: sessionID, ChatID: chatID, UpdatedAt: now.UnixMilli()}
	if err := s.logOp(ctx, types.OpSessionActivate, entry); err != nil {
		return fmt.Errorf("persistence: log session activate: %w", err)
	}
	return s.setLastActive(ctx, entry)
}

func (s *Sessions) setLastActive(ctx context.Context, entry types.LastActiveEntry) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	records, err := s.lastActiveRecords(ctx)
	if err != nil {
		return err
	}
	records[entry.Persona] = entry
	return s.store.Put(ctx, lastActivePath, records)
}

func (s *Sessions) lastActiveRecords(ctx context.Context) (map[types.Persona]types.LastActiveEntry, error) {
	var records map[types.Persona]types.LastActiveEntry
	if err := s.store.Get(ctx, lastActivePath, &records); err != nil && err != ErrNotFound {
		return nil, err
	}
	if records == nil {
		records = make(map[types.Persona]types.LastActiveEntry)
	}
	return records, nil
}

// LastActive returns the current last-active state as a flat list, the
// shape checkpoint snapshots and recovery restores carry.
func (s *Sessions) LastActive(ctx context.Context) ([]types.LastActiveEntry, error) {
	records, err := s.lastActiveRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.LastActiveEntry, 0, len(records))
	for _, e := range records {
		out = append(out, e)
	}
	return out, nil
}

// RestoreLastActive installs a checkpoint's last-active snapshot wholesale,
// the only state a checkpoint restore actually overwrites (spec.md §4.2.3:
// "session/todo state remains as currently present in storage").
func (s *Sessions) RestoreLastActive(ctx context.Context, entries []types.LastActiveEntry) error {
	records := make(map[types.Persona]types.LastActiveEntry, len(entries))
	for _, e := range entries {
		records[e.Persona] = e
	}
	return s.store.Put(ctx, lastActivePath, records)
}

// Snapshot builds the checkpoint payload of spec.md §4.2.2: every session
// paired with its todos, plus the current last-active state.
func (s *Sessions) Snapshot(ctx context.Context) ([]types.SessionTodos, []types.LastActiveEntry, error) {
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		return nil, nil, err
	}
	out := make([]types.SessionTodos, 0, len(sessions))
	for _, session := range sessions {
		todos, err := s.GetTodos(ctx, session.ID)
		if err != nil {
			todos = nil
		}
		out = append(out, types.SessionTodos{Session: session, Todos: todos})
	}
	lastActive, err := s.LastActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	return out, lastActive, nil
}

// ApplyWALEntry replays a single WAL entry against live state. It never
// publishes — the mutator that originally appended the entry either
// already published before crashing, or the replayed mutation is simply
// catching the store back up to what the WAL says was durably committed.
func (s *Sessions) ApplyWALEntry(ctx context.Context, entry types.WALEntry) error {
	switch entry.Operation {
	case types.OpSessionCreate, types.OpSessionUpdate:
		session, err := decodePayload[types.Session](entry.Payload)
		if err != nil {
			return err
		}
		return s.store.Put(ctx, sessionPath(session.ID), session)
	case types.OpMessageCreate:
		message, err := decodePayload[types.Message](entry.Payload)
		if err != nil {
			return err
		}
		return s.store.Put(ctx, messagePath(message.SessionID, message.ID), message)
	case types.OpTodoUpdate:
		payload, err := decodePayload[todoUpdatePayload](entry.Payload)
		if err != nil {
			return err
		}
		return s.store.Put(ctx, todosPath(payload.SessionID), payload.Todos)
	case types.OpSessionActivate:
		active, err := decodePayload[types.LastActiveEntry](entry.Payload)
		if err != nil {
			return err
		}
		return s.setLastActive(ctx, active)
	default:
		return fmt.Errorf("persistence: unknown wal operation %q", entry.Operation)
	}
}

// decodePayload round-trips a WAL entry's generically-decoded payload (a
// map[string]any, since types.WALEntry.Payload is typed any so the WAL file
// format stays plain JSON) back into its concrete Go type.
func decodePayload[T any](payload any) (T, error) {
	var out T
	data, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
