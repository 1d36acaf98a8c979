package registry

import (
	"sync"
	"time"

	"github.com/opencode-ai/sessiond/pkg/types"
)

// WorkloadSample is one completed-task observation used to update an
// agent's rolling workload.
type WorkloadSample struct {
	Duration time.Duration
}

// Workload tracks per-agent load: how many tasks it is carrying and the
// rolling average duration of its recently completed ones. Grounded in the
// bin-packing placement style of a container scheduler, adapted here from
// container placement to agent task assignment.
type Workload struct {
	AgentID         string  `json:"agentID"`
	TaskCount       int     `json:"taskCount"`
	AvgDurationMs   float64 `json:"avgDurationMs"`
	CPUPercent      float64 `json:"cpuPercent"`
	MemoryPercent   float64 `json:"memoryPercent"`
	completedSamples int
}

// RebalanceMetrics summarizes work-stealing activity across the pool.
type RebalanceMetrics struct {
	Imbalance     float64 `json:"imbalance"`
	StealRequests int     `json:"stealRequests"`
}

// WorkStealer tracks per-agent workload and selects the least-loaded
// eligible agent for a task. Agent CPU/mem load is self-declared through
// UpdateLoad; the host process is not sampled.
type WorkStealer struct {
	registry *Registry

	mu        sync.Mutex
	workloads map[string]*Workload
	steals    int
}

// NewWorkStealer creates a WorkStealer backed by registry.
func NewWorkStealer(registry *Registry) *WorkStealer {
	return &WorkStealer{
		registry:  registry,
		workloads: make(map[string]*Workload),
	}
}

// AssignTask records that agentID has picked up one more task.
func (w *WorkStealer) AssignTask(agentID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wl := w.workloadLocked(agentID)
	wl.TaskCount++
}

// CompleteTask records that agentID finished a task, folding duration into
// its rolling average and decrementing its in-flight count.
func (w *WorkStealer) CompleteTask(agentID string, sample WorkloadSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wl := w.workloadLocked(agentID)
	if wl.TaskCount > 0 {
		wl.TaskCount--
	}
	wl.completedSamples++
	n := float64(wl.completedSamples)
	wl.AvgDurationMs += (float64(sample.Duration.Milliseconds()) - wl.AvgDurationMs) / n
}

// UpdateLoad sets agentID's self-declared CPU/memory load. Registry.Update
// does not call it; callers pass the values directly.
func (w *WorkStealer) UpdateLoad(agentID string, cpuPercent, memoryPercent float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wl := w.workloadLocked(agentID)
	wl.CPUPercent = cpuPercent
	wl.MemoryPercent = memoryPercent
}

func (w *WorkStealer) workloadLocked(agentID string) *Workload {
	wl, ok := w.workloads[agentID]
	if !ok {
		wl = &Workload{AgentID: agentID}
		w.workloads[agentID] = wl
	}
	return wl
}

// SelectAgent picks the least-loaded registered process whose capabilities
// satisfy required, among those currently active or idle. Returns nil if no
// eligible agent exists. Selection alone never counts as a steal; steals
// are counted by Rebalance.
func (w *WorkStealer) SelectAgent(required []string) *types.Process {
	candidates := w.registry.FindAvailable(required)
	if len(candidates) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var best *types.Process
	bestLoad := -1
	for _, p := range candidates {
		wl, ok := w.workloads[p.ID]
		load := 0
		if ok {
			load = wl.TaskCount
		}
		if bestLoad == -1 || load < bestLoad {
			best = p
			bestLoad = load
		}
	}
	return best
}

// Rebalance reports whether taskHolder should yield its task to a less
// loaded eligible agent, and to whom. Returns nil if taskHolder is already
// the least loaded, or no other eligible agent exists.
func (w *WorkStealer) Rebalance(taskHolder string, required []string) *types.Process {
	candidate := w.SelectAgent(required)
	if candidate == nil || candidate.ID == taskHolder {
		return nil
	}

	w.mu.Lock()
	holderLoad := 0
	if wl, ok := w.workloads[taskHolder]; ok {
		holderLoad = wl.TaskCount
	}
	candidateLoad := 0
	if wl, ok := w.workloads[candidate.ID]; ok {
		candidateLoad = wl.TaskCount
	}
	if candidateLoad >= holderLoad {
		w.mu.Unlock()
		return nil
	}
	w.steals++
	w.mu.Unlock()

	return candidate
}

// Metrics computes pool-wide imbalance (max task count minus min, across
// every agent with a tracked workload entry) and the cumulative
// steal-request count.
func (w *WorkStealer) Metrics() RebalanceMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()

	min, max := -1, -1
	for _, wl := range w.workloads {
		if min == -1 || wl.TaskCount < min {
			min = wl.TaskCount
		}
		if max == -1 || wl.TaskCount > max {
			max = wl.TaskCount
		}
	}
	imbalance := 0.0
	if max >= 0 {
		imbalance = float64(max - min)
	}
	return RebalanceMetrics{Imbalance: imbalance, StealRequests: w.steals}
}
