package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sessiond/pkg/types"
)

func TestWorkStealerSelectsLeastLoaded(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "a1", Type: types.ProcessAgent, Capabilities: []string{"bash"}})
	r.Register(RegisterInput{ID: "a2", Type: types.ProcessAgent, Capabilities: []string{"bash"}})

	ws := NewWorkStealer(r)
	ws.AssignTask("a1")
	ws.AssignTask("a1")
	ws.AssignTask("a2")

	chosen := ws.SelectAgent([]string{"bash"})
	require.NotNil(t, chosen)
	assert.Equal(t, "a2", chosen.ID)
}

func TestWorkStealerSelectAgentRespectsCapabilities(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "a1", Type: types.ProcessAgent, Capabilities: []string{"bash"}})

	ws := NewWorkStealer(r)
	assert.Nil(t, ws.SelectAgent([]string{"edit"}))
}

func TestWorkStealerCompleteTaskUpdatesAverage(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "a1", Type: types.ProcessAgent})
	ws := NewWorkStealer(r)

	ws.AssignTask("a1")
	ws.CompleteTask("a1", WorkloadSample{Duration: 100 * time.Millisecond})
	ws.CompleteTask("a1", WorkloadSample{Duration: 300 * time.Millisecond})

	ws.mu.Lock()
	avg := ws.workloads["a1"].AvgDurationMs
	taskCount := ws.workloads["a1"].TaskCount
	ws.mu.Unlock()

	assert.InDelta(t, 200, avg, 0.001)
	assert.Equal(t, 0, taskCount)
}

func TestWorkStealerRebalanceNilWhenAlreadyLeastLoaded(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "a1", Type: types.ProcessAgent})
	ws := NewWorkStealer(r)
	assert.Nil(t, ws.Rebalance("a1", nil))
}

func TestWorkStealerMetrics(t *testing.T) {
	r, _, _ := newEventCapture()
	r.Register(RegisterInput{ID: "a1", Type: types.ProcessAgent})
	r.Register(RegisterInput{ID: "a2", Type: types.ProcessAgent})
	ws := NewWorkStealer(r)
	ws.AssignTask("a1")
	ws.AssignTask("a1")
	ws.AssignTask("a1")
	ws.UpdateLoad("a2", 0, 0) // ensures a2 has a tracked (zero) workload entry

	m := ws.Metrics()
	assert.Equal(t, 3.0, m.Imbalance)
}
