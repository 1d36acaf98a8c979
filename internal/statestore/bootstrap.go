package statestore

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/opencode-ai/sessiond/internal/logging"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// Fetchers supplies the suspending, HTTP-like round-trips Bootstrap and
// DeepSync need. Every field is optional; a nil fetcher is simply skipped.
// Production wires these against the (external, out-of-scope) transport
// client; tests supply fakes.
type Fetchers struct {
	Providers    func(ctx context.Context) (types.ProviderState, error)
	ProviderList func(ctx context.Context) ([]string, error)
	Agents       func(ctx context.Context) ([]string, error)
	Config       func(ctx context.Context) (map[string]any, error)
	Sessions     func(ctx context.Context) ([]types.Session, error)

	Commands     func(ctx context.Context) ([]string, error)
	LSP          func(ctx context.Context) ([]types.LSPServerState, error)
	MCP          func(ctx context.Context) ([]types.MCPServerState, error)
	Formatters   func(ctx context.Context) ([]string, error)
	SessionStatus func(ctx context.Context) (map[string]types.SessionStatus, error)
	VCS          func(ctx context.Context) ([]types.VCSBranch, error)
	Paths        func(ctx context.Context) ([]types.PathInfo, error)
	DaemonHealth func(ctx context.Context) (types.DaemonInfo, types.HealthInfo, error)

	MessageHistory func(ctx context.Context, sessionID string) ([]types.Message, map[string][]types.Part, error)
	Todos          func(ctx context.Context, sessionID string) ([]types.Todo, error)
	Diff           func(ctx context.Context, sessionID string) (types.SessionSummary, error)
}

// Bootstrap runs the parallel initial fetch of spec.md §4.5.4: providers,
// provider list, agents, config and (if continuation is requested) the full
// session list, applied as one atomic batch so no subscriber ever observes
// a briefly-empty intermediate state. It then kicks off the non-blocking
// follow-up fetches (command list, LSP, MCP, formatter, session status,
// VCS, paths, daemon health) in the background; those update the store
// independently as each resolves.
func (s *Store) Bootstrap(ctx context.Context, f Fetchers, continuation bool) error {
	var (
		providers    types.ProviderState
		providerList []string
		agents       []string
		cfg          map[string]any
		sessions     []types.Session
	)

	g, gctx := errgroup.WithContext(ctx)
	if f.Providers != nil {
		g.Go(func() (err error) { providers, err = f.Providers(gctx); return })
	}
	if f.ProviderList != nil {
		g.Go(func() (err error) { providerList, err = f.ProviderList(gctx); return })
	}
	if f.Agents != nil {
		g.Go(func() (err error) { agents, err = f.Agents(gctx); return })
	}
	if f.Config != nil {
		g.Go(func() (err error) { cfg, err = f.Config(gctx); return })
	}
	if continuation && f.Sessions != nil {
		g.Go(func() (err error) { sessions, err = f.Sessions(gctx); return })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.submit(func(st *state) {
		st.provider = providers
		st.providers = providerList
		st.agents = agents
		st.config = cfg
		if continuation {
			seq := NewOrdered[types.Session]()
			for _, sess := range sessions {
				seq.Upsert(sess)
			}
			st.sessions = seq
		}
	})
	s.touchNow("provider", "providers", "agents", "config", "sessions")

	go s.runNonBlockingFetches(ctx, f)
	return nil
}

// runNonBlockingFetches issues the follow-up fetches concurrently and
// applies each result to the store as soon as it resolves, independent of
// the others — unlike Bootstrap's initial apply, these are never required
// to land together.
func (s *Store) runNonBlockingFetches(ctx context.Context, f Fetchers) {
	run := func(name string, fn func() error) {
		if err := fn(); err != nil {
			logging.Warn().Err(err).Str("fetch", name).Msg("statestore: non-blocking bootstrap fetch failed")
		}
	}

	if f.Commands != nil {
		go run("commands", func() error {
			cmds, err := f.Commands(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) { st.commands = cmds })
			s.touch("commands")
			return nil
		})
	}
	if f.LSP != nil {
		go run("lsp", func() error {
			servers, err := f.LSP(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				for _, srv := range servers {
					st.lsp[srv.Name] = srv
				}
			})
			s.touch("lsp")
			return nil
		})
	}
	if f.MCP != nil {
		go run("mcp", func() error {
			servers, err := f.MCP(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				for _, srv := range servers {
					st.mcp[srv.Name] = srv
				}
			})
			s.touch("mcp")
			return nil
		})
	}
	if f.Formatters != nil {
		go run("formatters", func() error {
			formatters, err := f.Formatters(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) { st.formatters = formatters })
			s.touch("formatters")
			return nil
		})
	}
	if f.SessionStatus != nil {
		go run("sessionStatus", func() error {
			statuses, err := f.SessionStatus(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				for id, status := range statuses {
					st.sessionStatus[id] = status
				}
			})
			s.touch("sessionStatus")
			return nil
		})
	}
	if f.VCS != nil {
		go run("vcs", func() error {
			branches, err := f.VCS(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				for _, b := range branches {
					st.vcs[b.Directory] = b
				}
			})
			s.touch("vcs")
			return nil
		})
	}
	if f.Paths != nil {
		go run("paths", func() error {
			paths, err := f.Paths(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				for _, p := range paths {
					st.path[p.Directory] = p
				}
			})
			s.touch("path")
			return nil
		})
	}
	if f.DaemonHealth != nil {
		go run("daemonHealth", func() error {
			daemon, health, err := f.DaemonHealth(ctx)
			if err != nil {
				return err
			}
			s.submit(func(st *state) {
				st.daemon = daemon
				st.health = health
			})
			s.touch("daemon")
			s.touch("health")
			return nil
		})
	}
}
