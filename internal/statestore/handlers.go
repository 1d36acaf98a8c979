package statestore

import (
	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// messageWindowCap is the per-session retention cap from spec.md §4.5.1 and
// §6.4: at most this many of the most recent messages are kept per session,
// with part cascade-delete on eviction.
const messageWindowCap = 100

// applyEvent is the topic -> action dispatch table of spec.md §4.5.3. It
// returns the projected-collection keys touched, for the caller to mark
// dirty against the batch-boundary notification.
func applyEvent(st *state, ev eventbus.Event) []string {
	switch ev.Type {
	case eventbus.SessionUpdated:
		if d, ok := ev.Data.(eventbus.SessionUpdatedData); ok && d.Info != nil {
			st.sessions.Upsert(*d.Info)
			return []string{"sessions"}
		}
	case eventbus.SessionDeleted:
		if d, ok := ev.Data.(eventbus.SessionDeletedData); ok && d.Info != nil {
			st.sessions.Remove(d.Info.ID)
			return []string{"sessions"}
		}
	case eventbus.SessionStatus:
		if d, ok := ev.Data.(eventbus.SessionStatusData); ok {
			st.sessionStatus[d.SessionID] = d.Status
			return []string{"sessionStatus"}
		}
	case eventbus.SessionDiff:
		if d, ok := ev.Data.(eventbus.SessionDiffData); ok {
			st.diffBySession[d.SessionID] = d.Summary
			return []string{"diffBySession"}
		}

	case eventbus.MessageUpdated:
		if d, ok := ev.Data.(eventbus.MessageUpdatedData); ok && d.Info != nil {
			applyMessageUpdated(st, *d.Info)
			return []string{"messagesBySession", "partsByMessage"}
		}
	case eventbus.MessageRemoved:
		if d, ok := ev.Data.(eventbus.MessageRemovedData); ok {
			if seq, exists := st.messagesBySession[d.SessionID]; exists {
				seq.Remove(d.MessageID)
			}
			deleteMessageParts(st, d.MessageID)
			return []string{"messagesBySession", "partsByMessage"}
		}

	case eventbus.MessagePartUpdated:
		if d, ok := ev.Data.(eventbus.MessagePartUpdatedData); ok && d.Part != nil {
			applyPartUpdated(st, d.Part)
			return []string{"partsByMessage"}
		}
	case eventbus.MessagePartRemoved:
		if d, ok := ev.Data.(eventbus.MessagePartRemovedData); ok {
			if seq, exists := st.partsByMessage[d.MessageID]; exists {
				seq.Remove(d.PartID)
			}
			return []string{"partsByMessage"}
		}

	case eventbus.TodoUpdated:
		if d, ok := ev.Data.(eventbus.TodoUpdatedData); ok {
			seq := NewOrdered[types.Todo]()
			for _, t := range d.Todos {
				seq.Upsert(t)
			}
			st.todosBySession[d.SessionID] = seq
			return []string{"todosBySession"}
		}

	case eventbus.PermissionAsked:
		if d, ok := ev.Data.(eventbus.PermissionAskedData); ok {
			seq := sessionPermissions(st, d.Permission.SessionID)
			seq.Upsert(d.Permission)
			return []string{"permissionsBySession"}
		}
	case eventbus.PermissionReplied:
		if d, ok := ev.Data.(eventbus.PermissionRepliedData); ok {
			if seq, exists := st.permissionsBySession[d.SessionID]; exists {
				seq.Remove(d.PermissionID)
			}
			return []string{"permissionsBySession"}
		}

	case eventbus.QuestionAsked:
		if d, ok := ev.Data.(eventbus.QuestionAskedData); ok {
			seq := sessionQuestions(st, d.Question.SessionID)
			seq.Upsert(d.Question)
			return []string{"questionsBySession"}
		}
	case eventbus.QuestionReplied:
		if d, ok := ev.Data.(eventbus.QuestionRepliedData); ok {
			if seq, exists := st.questionsBySession[d.SessionID]; exists {
				seq.Remove(d.QuestionID)
			}
			return []string{"questionsBySession"}
		}
	case eventbus.QuestionRejected:
		if d, ok := ev.Data.(eventbus.QuestionRejectedData); ok {
			if seq, exists := st.questionsBySession[d.SessionID]; exists {
				seq.Remove(d.QuestionID)
			}
			return []string{"questionsBySession"}
		}

	case eventbus.LSPUpdated:
		if d, ok := ev.Data.(eventbus.LSPUpdatedData); ok {
			st.lsp[d.Server.Name] = d.Server
			return []string{"lsp"}
		}
	case eventbus.VCSBranchUpdated:
		if d, ok := ev.Data.(eventbus.VCSBranchUpdatedData); ok {
			st.vcs[d.Branch.Directory] = d.Branch
			return []string{"vcs"}
		}

	case eventbus.ServerInstanceDisposed:
		// The full rebuild itself is driven by the caller re-running
		// Bootstrap (a suspending round-trip); here we only clear the
		// now-stale projection so nothing briefly shows mismatched state
		// from the previous server instance.
		resetForRebuild(st)
		return []string{"sessions", "messagesBySession", "partsByMessage", "todosBySession",
			"permissionsBySession", "questionsBySession", "mcp", "lsp", "provider", "agents"}
	}
	return nil
}

func sessionPermissions(st *state, sessionID string) *Ordered[types.Permission] {
	seq, ok := st.permissionsBySession[sessionID]
	if !ok {
		seq = NewOrdered[types.Permission]()
		st.permissionsBySession[sessionID] = seq
	}
	return seq
}

func sessionQuestions(st *state, sessionID string) *Ordered[types.Question] {
	seq, ok := st.questionsBySession[sessionID]
	if !ok {
		seq = NewOrdered[types.Question]()
		st.questionsBySession[sessionID] = seq
	}
	return seq
}

func sessionMessages(st *state, sessionID string) *Ordered[types.Message] {
	seq, ok := st.messagesBySession[sessionID]
	if !ok {
		seq = NewOrdered[types.Message]()
		st.messagesBySession[sessionID] = seq
	}
	return seq
}

func messageParts(st *state, messageID string) *Ordered[types.Part] {
	seq, ok := st.partsByMessage[messageID]
	if !ok {
		seq = NewOrderedFunc(func(p types.Part) string { return p.PartID() })
		st.partsByMessage[messageID] = seq
	}
	return seq
}

// applyMessageUpdated inserts/replaces msg in its session's ordered
// sequence and evicts the oldest entry — cascading to its parts — if the
// window cap is exceeded, per spec.md's message-window-cap invariant.
func applyMessageUpdated(st *state, msg types.Message) {
	seq := sessionMessages(st, msg.SessionID)
	seq.Upsert(msg)
	if seq.Len() > messageWindowCap {
		oldest := seq.RemoveAt(0)
		deleteMessageParts(st, oldest.ID)
	}
}

func deleteMessageParts(st *state, messageID string) {
	delete(st.partsByMessage, messageID)
}

// applyPartUpdated inserts/replaces part in its message's ordered sequence
// and, if it is a completed tool invocation carrying a "mode" metadata
// value, raises the one-shot pending-mode-change signal (spec.md §4.5.3).
func applyPartUpdated(st *state, part types.Part) {
	seq := messageParts(st, part.PartMessageID())
	seq.Upsert(part)

	tp, ok := part.(*types.ToolPart)
	if !ok || tp.State != types.ToolCompleted || tp.Metadata == nil {
		return
	}
	mode, ok := tp.Metadata["mode"].(string)
	if !ok || mode == "" {
		return
	}
	st.pendingModeChange = &types.ModeChangeSignal{
		SessionID: tp.SessionID,
		MessageID: tp.MessageID,
		PartID:    tp.ID,
		Mode:      mode,
	}
}

// resetForRebuild discards the ordered projections ahead of a full
// bootstrap rebuild triggered by server.instance.disposed (spec.md §4.5.3/
// §4.5.4). Latest-value slots (vcs/path/daemon/health) are left in place;
// they get refreshed by their own non-blocking fetches regardless.
func resetForRebuild(st *state) {
	st.sessions = NewOrdered[types.Session]()
	st.messagesBySession = make(map[string]*Ordered[types.Message])
	st.partsByMessage = make(map[string]*Ordered[types.Part])
	st.todosBySession = make(map[string]*Ordered[types.Todo])
	st.permissionsBySession = make(map[string]*Ordered[types.Permission])
	st.questionsBySession = make(map[string]*Ordered[types.Question])
	st.mcp = make(map[string]types.MCPServerState)
	st.provider = types.ProviderState{}
	st.agents = nil
}
