package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time   { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newEventCapture() (*Registry, *fakeClock, func() []eventbus.Event) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var events []eventbus.Event
	r := New(clock.Now, func(e eventbus.Event) { events = append(events, e) })
	return r, clock, func() []eventbus.Event { return events }
}

func TestRegisterNewAndExisting(t *testing.T) {
	r, _, events := newEventCapture()

	p := r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, Name: "alpha"})
	require.Equal(t, types.StatusActive, p.Status)
	require.Len(t, events(), 1)
	assert.Equal(t, eventbus.ProcessRegistered, events()[0].Type)

	// Re-registering the same id folds into an update.
	p2 := r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, Name: "alpha", Capabilities: []string{"bash"}})
	assert.Equal(t, types.StatusActive, p2.Status)
	assert.Equal(t, []string{"bash"}, p2.Capabilities)
}

func TestRegisterGeneratesIDWhenAbsent(t *testing.T) {
	r, _, _ := newEventCapture()
	p := r.Register(RegisterInput{Type: types.ProcessWorker})
	assert.NotEmpty(t, p.ID)
}

func TestDeregisterUnknownReturnsFalse(t *testing.T) {
	r, _, _ := newEventCapture()
	assert.False(t, r.Deregister("nope"))
}

func TestDeregisterRoundTrip(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent})
	assert.True(t, r.Deregister("p1"))
	assert.Nil(t, r.Get("p1"))
}

func TestHeartbeatRestoresOffline(t *testing.T) {
	r, _, events := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent})
	offline := types.StatusOffline
	r.Update("p1", UpdatePatch{Status: &offline})

	snap := r.Heartbeat("p1")
	require.NotNil(t, snap)
	assert.Equal(t, types.StatusActive, snap.Status)

	var sawStatusChanged, sawHeartbeat bool
	for _, e := range events() {
		if e.Type == eventbus.ProcessStatusChanged {
			sawStatusChanged = true
		}
		if e.Type == eventbus.ProcessHeartbeat {
			sawHeartbeat = true
		}
	}
	assert.True(t, sawStatusChanged)
	assert.True(t, sawHeartbeat)
}

func TestHeartbeatUnknownReturnsNil(t *testing.T) {
	r, _, _ := newEventCapture()
	assert.Nil(t, r.Heartbeat("nope"))
}

func TestUpdatePublishesOnlyOnStatusChange(t *testing.T) {
	r, _, events := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent})
	base := len(events())

	task := "build"
	r.Update("p1", UpdatePatch{CurrentTask: &task})
	assert.Len(t, events(), base) // no status_changed: status unchanged

	busy := types.StatusBusy
	r.Update("p1", UpdatePatch{Status: &busy})
	assert.Len(t, events(), base+1)
}

func TestListFilterConjunctive(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, SwarmID: "sw1", Capabilities: []string{"bash", "edit"}})
	r.Register(RegisterInput{ID: "p2", Type: types.ProcessAgent, SwarmID: "sw2", Capabilities: []string{"bash"}})
	r.Register(RegisterInput{ID: "p3", Type: types.ProcessWorker, SwarmID: "sw1", Capabilities: []string{"bash", "edit"}})

	got := r.List(types.ProcessFilter{Type: types.ProcessAgent, SwarmID: "sw1", Capabilities: []string{"edit"}})
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestFindAvailableExcludesOfflineAndBusy(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, Capabilities: []string{"bash"}})
	busy := types.StatusBusy
	r.Register(RegisterInput{ID: "p2", Type: types.ProcessAgent, Capabilities: []string{"bash"}})
	r.Update("p2", UpdatePatch{Status: &busy})

	got := r.FindAvailable([]string{"bash"})
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
}

func TestStats(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, SwarmID: "sw1"})
	r.Register(RegisterInput{ID: "p2", Type: types.ProcessWorker})

	stats := r.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByType[types.ProcessAgent])
	assert.Equal(t, 1, stats.SwarmCount)
	assert.Equal(t, 1, stats.ActiveAgents)
}

func TestSnapshotIsolation(t *testing.T) {
	r, _, _ := newEventCapture()
	p := r.Register(RegisterInput{ID: "p1", Type: types.ProcessAgent, Capabilities: []string{"bash"}})
	p.Capabilities[0] = "mutated"

	fresh := r.Get("p1")
	assert.Equal(t, "bash", fresh.Capabilities[0])
}
