package statestore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/sessiond/pkg/types"
)

// DeepSync performs the one-shot per-session fetch of spec.md §4.5.5: full
// message/part history (capped at the same messageWindowCap), todos, and
// diff, for a session that has just become focused. Deduplicated per
// session for the store's lifetime — a second call for an already-synced
// session is a no-op.
func (s *Store) DeepSync(ctx context.Context, sessionID string, f Fetchers) error {
	if s.IsSynced(sessionID) {
		return nil
	}

	var (
		messages []types.Message
		parts    map[string][]types.Part
		todos    []types.Todo
		diff     types.SessionSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	if f.MessageHistory != nil {
		g.Go(func() (err error) { messages, parts, err = f.MessageHistory(gctx, sessionID); return })
	}
	if f.Todos != nil {
		g.Go(func() (err error) { todos, err = f.Todos(gctx, sessionID); return })
	}
	if f.Diff != nil {
		g.Go(func() (err error) { diff, err = f.Diff(gctx, sessionID); return })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var alreadySynced bool
	s.submit(func(st *state) {
		if st.synced[sessionID] {
			// Lost a race with a concurrent DeepSync call for the same
			// session; the winner's apply already landed, so skip ours.
			alreadySynced = true
			return
		}
		st.synced[sessionID] = true

		seq := NewOrdered[types.Message]()
		for _, m := range messages {
			seq.Upsert(m)
		}
		for seq.Len() > messageWindowCap {
			oldest := seq.RemoveAt(0)
			deleteMessageParts(st, oldest.ID)
		}
		st.messagesBySession[sessionID] = seq

		surviving := make(map[string]bool, seq.Len())
		for _, m := range seq.Items() {
			surviving[m.ID] = true
		}
		for messageID, ps := range parts {
			if !surviving[messageID] {
				continue
			}
			partSeq := NewOrderedFunc(func(p types.Part) string { return p.PartID() })
			for _, p := range ps {
				partSeq.Upsert(p)
			}
			st.partsByMessage[messageID] = partSeq
		}

		todoSeq := NewOrdered[types.Todo]()
		for _, t := range todos {
			todoSeq.Upsert(t)
		}
		st.todosBySession[sessionID] = todoSeq

		st.diffBySession[sessionID] = diff
	})
	if alreadySynced {
		return nil
	}

	s.touchNow("messagesBySession", "partsByMessage", "todosBySession", "diffBySession")
	return nil
}
