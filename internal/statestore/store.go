// Package statestore maintains a reactive, client-side projection of
// server-originated session/message/part events (spec.md §4.5). All
// mutations run on a single logical execution context — a cooperative
// command loop, not a lock — so that a batch of events applied together is
// always observed by subscribers as one atomic transition.
package statestore

import (
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// state is the store's live projected data. It is only ever touched from
// the command-loop goroutine in Store.run, which is what lets every
// mutation here be lock-free.
type state struct {
	sessions *Ordered[types.Session]

	messagesBySession    map[string]*Ordered[types.Message]
	partsByMessage       map[string]*Ordered[types.Part]
	todosBySession       map[string]*Ordered[types.Todo]
	permissionsBySession map[string]*Ordered[types.Permission]
	questionsBySession   map[string]*Ordered[types.Question]
	diffBySession        map[string]types.SessionSummary
	sessionStatus        map[string]types.SessionStatus

	mcp        map[string]types.MCPServerState
	lsp        map[string]types.LSPServerState
	provider   types.ProviderState
	providers  []string
	agents     []string
	commands   []string
	formatters []string
	config     map[string]any
	vcs        map[string]types.VCSBranch
	path       map[string]types.PathInfo
	daemon     types.DaemonInfo
	health     types.HealthInfo

	pendingModeChange *types.ModeChangeSignal

	synced map[string]bool
}

func newState() *state {
	return &state{
		sessions:             NewOrdered[types.Session](),
		messagesBySession:    make(map[string]*Ordered[types.Message]),
		partsByMessage:       make(map[string]*Ordered[types.Part]),
		todosBySession:       make(map[string]*Ordered[types.Todo]),
		permissionsBySession: make(map[string]*Ordered[types.Permission]),
		questionsBySession:   make(map[string]*Ordered[types.Question]),
		diffBySession:        make(map[string]types.SessionSummary),
		sessionStatus:        make(map[string]types.SessionStatus),
		mcp:                  make(map[string]types.MCPServerState),
		lsp:                  make(map[string]types.LSPServerState),
		vcs:                  make(map[string]types.VCSBranch),
		path:                 make(map[string]types.PathInfo),
		synced:               make(map[string]bool),
	}
}

// Patch describes one coalesced batch of mutations: the set of projected
// collections touched since the previous notification. Observers receive
// exactly one Patch per batch window, matching spec.md §4.5's "single
// coherent transition" requirement.
type Patch struct {
	Keys []string
}

func (p *Patch) touch(key string) {
	for _, k := range p.Keys {
		if k == key {
			return
		}
	}
	p.Keys = append(p.Keys, key)
}

// Store is the reactive client-side projection. Construct with New.
type Store struct {
	cmds chan func(*state)
	stop chan struct{}
	done chan struct{}

	obsMu     sync.Mutex
	observers []func(Patch)
	pending   Patch
	timer     *time.Timer
}

// New creates a Store and starts its command loop.
func New() *Store {
	s := &Store{
		cmds: make(chan func(*state), 256),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Store) run() {
	defer close(s.done)
	st := newState()
	for {
		select {
		case fn := <-s.cmds:
			fn(st)
		case <-s.stop:
			// Drain anything already queued so in-flight callers waiting on
			// a reply channel don't block forever.
			for {
				select {
				case fn := <-s.cmds:
					fn(st)
				default:
					return
				}
			}
		}
	}
}

// Close stops the command loop. Safe to call once; subsequent calls are a
// no-op.
func (s *Store) Close() {
	select {
	case <-s.stop:
		return
	default:
	}
	close(s.stop)
	<-s.done
}

// Subscribe registers fn to be called once per coalesced batch boundary
// with the set of collections that changed. Returns an unsubscribe handle,
// safe to invoke at any time including from inside fn.
func (s *Store) Subscribe(fn func(Patch)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	idx := len(s.observers)
	s.observers = append(s.observers, fn)
	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		if idx < len(s.observers) {
			s.observers[idx] = nil
		}
	}
}

// touch marks key dirty for the in-flight batch and, if no flush is yet
// scheduled, starts one after BatchWindow — the same coalescing window the
// event bus itself uses, so a bus-delivered batch collapses into exactly
// one store-level transition.
func (s *Store) touch(key string) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.pending.touch(key)
	if s.timer == nil {
		s.timer = time.AfterFunc(eventbus.BatchWindow, s.flush)
	}
}

// touchNow marks key dirty and flushes synchronously, bypassing the
// coalescing window. Used by Bootstrap's initial apply, which must never be
// observed as a briefly-empty intermediate state (spec.md §4.5.4).
func (s *Store) touchNow(keys ...string) {
	s.obsMu.Lock()
	for _, k := range keys {
		s.pending.touch(k)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.obsMu.Unlock()
	s.flush()
}

func (s *Store) flush() {
	s.obsMu.Lock()
	patch := s.pending
	s.pending = Patch{}
	s.timer = nil
	obs := append([]func(Patch){}, s.observers...)
	s.obsMu.Unlock()

	if len(patch.Keys) == 0 {
		return
	}
	for _, fn := range obs {
		if fn != nil {
			fn(patch)
		}
	}
}

// submit runs fn against the live state on the command loop and blocks
// until it has completed.
func (s *Store) submit(fn func(*state)) {
	done := make(chan struct{})
	s.cmds <- func(st *state) {
		fn(st)
		close(done)
	}
	<-done
}

// Apply routes a single bus event to its projection handler and schedules a
// coalesced notification. Events are applied in the order Apply is called,
// matching the bus's own per-topic ordering guarantee.
func (s *Store) Apply(ev eventbus.Event) {
	s.cmds <- func(st *state) {
		for _, key := range applyEvent(st, ev) {
			s.touch(key)
		}
	}
}

// Snapshot is a read-only, defensively-copied view of the projected state,
// safe to use after the call returns.
type Snapshot struct {
	Sessions             []types.Session
	MessagesBySession    map[string][]types.Message
	PartsByMessage       map[string][]types.Part
	TodosBySession       map[string][]types.Todo
	PermissionsBySession map[string][]types.Permission
	QuestionsBySession   map[string][]types.Question
	DiffBySession        map[string]types.SessionSummary
	SessionStatus        map[string]types.SessionStatus

	MCP        map[string]types.MCPServerState
	LSP        map[string]types.LSPServerState
	Provider   types.ProviderState
	Providers  []string
	Agents     []string
	Commands   []string
	Formatters []string
	Config     map[string]any
	VCS        map[string]types.VCSBranch
	Path       map[string]types.PathInfo
	Daemon     types.DaemonInfo
	Health     types.HealthInfo
}

// Snapshot returns a defensive copy of the entire projected state.
func (s *Store) Snapshot() Snapshot {
	var snap Snapshot
	s.submit(func(st *state) {
		snap = Snapshot{
			Sessions:             st.sessions.Items(),
			MessagesBySession:    make(map[string][]types.Message, len(st.messagesBySession)),
			PartsByMessage:       make(map[string][]types.Part, len(st.partsByMessage)),
			TodosBySession:       make(map[string][]types.Todo, len(st.todosBySession)),
			PermissionsBySession: make(map[string][]types.Permission, len(st.permissionsBySession)),
			QuestionsBySession:   make(map[string][]types.Question, len(st.questionsBySession)),
			DiffBySession:        copySummaryMap(st.diffBySession),
			SessionStatus:        copyStatusMap(st.sessionStatus),
			MCP:                  copyMCPMap(st.mcp),
			LSP:                  copyLSPMap(st.lsp),
			Provider:             st.provider,
			Providers:            append([]string(nil), st.providers...),
			Agents:               append([]string(nil), st.agents...),
			Commands:             append([]string(nil), st.commands...),
			Formatters:           append([]string(nil), st.formatters...),
			Config:               st.config,
			VCS:                  copyVCSMap(st.vcs),
			Path:                 copyPathMap(st.path),
			Daemon:               st.daemon,
			Health:               st.health,
		}
		for sid, seq := range st.messagesBySession {
			snap.MessagesBySession[sid] = seq.Items()
		}
		for mid, seq := range st.partsByMessage {
			snap.PartsByMessage[mid] = seq.Items()
		}
		for sid, seq := range st.todosBySession {
			snap.TodosBySession[sid] = seq.Items()
		}
		for sid, seq := range st.permissionsBySession {
			snap.PermissionsBySession[sid] = seq.Items()
		}
		for sid, seq := range st.questionsBySession {
			snap.QuestionsBySession[sid] = seq.Items()
		}
	})
	return snap
}

// TakePendingModeChange returns and clears the one-shot mode-change signal,
// if one is pending. Safe to poll repeatedly; returns ok=false once
// consumed.
func (s *Store) TakePendingModeChange() (sig types.ModeChangeSignal, ok bool) {
	s.submit(func(st *state) {
		if st.pendingModeChange != nil {
			sig = *st.pendingModeChange
			ok = true
			st.pendingModeChange = nil
		}
	})
	return sig, ok
}

// IsSynced reports whether sessionID has already had its one-shot deep sync
// performed (spec.md §4.5.5).
func (s *Store) IsSynced(sessionID string) bool {
	var synced bool
	s.submit(func(st *state) { synced = st.synced[sessionID] })
	return synced
}

func copySummaryMap(m map[string]types.SessionSummary) map[string]types.SessionSummary {
	cp := make(map[string]types.SessionSummary, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyStatusMap(m map[string]types.SessionStatus) map[string]types.SessionStatus {
	cp := make(map[string]types.SessionStatus, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyMCPMap(m map[string]types.MCPServerState) map[string]types.MCPServerState {
	cp := make(map[string]types.MCPServerState, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyLSPMap(m map[string]types.LSPServerState) map[string]types.LSPServerState {
	cp := make(map[string]types.LSPServerState, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyVCSMap(m map[string]types.VCSBranch) map[string]types.VCSBranch {
	cp := make(map[string]types.VCSBranch, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func copyPathMap(m map[string]types.PathInfo) map[string]types.PathInfo {
	cp := make(map[string]types.PathInfo, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
