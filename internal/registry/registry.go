// Package registry maintains an in-memory liveness view of every cooperating
// process (agent, swarm, worker, daemon, queen) registered with the daemon,
// with heartbeat-based liveness detection and capability-indexed lookup for
// orchestration and admission control.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/sessiond/internal/eventbus"
	"github.com/opencode-ai/sessiond/pkg/types"
)

// RegisterInput is the input to Register.
type RegisterInput struct {
	ID           string
	Type         types.ProcessType
	Name         string
	ParentID     string
	SwarmID      string
	Capabilities []string
	Metadata     map[string]any
	Host         string
}

// UpdatePatch is a partial update applied by Update.
type UpdatePatch struct {
	Status       *types.ProcessStatus
	CurrentTask  *string
	Capabilities []string
	Metadata     map[string]any
}

// Registry holds the process map under a single RWMutex. Snapshots returned
// to callers are always copies, never the live entry, per the daemon's
// ownership rule that this is the single owner of the map.
type Registry struct {
	mu        sync.RWMutex
	processes map[string]*types.Process
	now       func() time.Time
	publish   func(eventbus.Event)
}

// New creates an empty Registry. now/publish default to time.Now and
// eventbus.Publish when nil.
func New(now func() time.Time, publish func(eventbus.Event)) *Registry {
	if now == nil {
		now = time.Now
	}
	if publish == nil {
		publish = eventbus.Publish
	}
	return &Registry{
		processes: make(map[string]*types.Process),
		now:       now,
		publish:   publish,
	}
}

// Register adds a new process, or folds into Update if the id already
// exists (status forced to active either way). Publishes registered or
// status_changed accordingly.
func (r *Registry) Register(input RegisterInput) *types.Process {
	r.mu.Lock()

	if input.ID != "" {
		if existing, ok := r.processes[input.ID]; ok {
			r.mu.Unlock()
			active := types.StatusActive
			patch := UpdatePatch{
				Status:       &active,
				Capabilities: input.Capabilities,
				Metadata:     input.Metadata,
			}
			_ = existing
			return r.Update(input.ID, patch)
		}
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := r.now()
	p := &types.Process{
		ID:            id,
		Type:          input.Type,
		Name:          input.Name,
		ParentID:      input.ParentID,
		SwarmID:       input.SwarmID,
		Capabilities:  append([]string(nil), input.Capabilities...),
		Status:        types.StatusActive,
		Metadata:      copyMetadata(input.Metadata),
		Host:          input.Host,
		LastHeartbeat: now.UnixMilli(),
		RegisteredAt:  now.UnixMilli(),
	}
	r.processes[id] = p
	snapshot := p.Snapshot()
	r.mu.Unlock()

	r.publish(eventbus.Event{
		Type: eventbus.ProcessRegistered,
		Data: eventbus.ProcessRegisteredData{Process: snapshot},
	})
	return snapshot
}

// Deregister removes a process. Returns false if it was absent.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	_, ok := r.processes[id]
	if ok {
		delete(r.processes, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.publish(eventbus.Event{
		Type: eventbus.ProcessDeregistered,
		Data: eventbus.ProcessDeregisteredData{ProcessID: id},
	})
	return true
}

// Heartbeat refreshes lastHeartbeat for id. If the process was offline, it
// transitions to active and a status_changed event is published alongside
// the unconditional heartbeat event. Returns nil if id is unknown.
func (r *Registry) Heartbeat(id string) *types.Process {
	r.mu.Lock()
	p, ok := r.processes[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	now := r.now()
	prevStatus := p.Status
	wasOffline := prevStatus == types.StatusOffline
	p.LastHeartbeat = now.UnixMilli()
	if wasOffline {
		p.Status = types.StatusActive
	}
	snapshot := p.Snapshot()
	r.mu.Unlock()

	if wasOffline {
		r.publish(eventbus.Event{
			Type: eventbus.ProcessStatusChanged,
			Data: eventbus.ProcessStatusChangedData{ProcessID: id, Prev: prevStatus, Status: types.StatusActive},
		})
	}
	r.publish(eventbus.Event{
		Type: eventbus.ProcessHeartbeat,
		Data: eventbus.ProcessHeartbeatData{ProcessID: id, At: snapshot.LastHeartbeat},
	})
	return snapshot
}

// Update applies a partial patch to process id, refreshing its heartbeat.
// Publishes status_changed only if the status field actually transitioned.
// Returns nil if id is unknown.
func (r *Registry) Update(id string, patch UpdatePatch) *types.Process {
	r.mu.Lock()
	p, ok := r.processes[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	prevStatus := p.Status
	p.LastHeartbeat = r.now().UnixMilli()
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.CurrentTask != nil {
		p.CurrentTask = *patch.CurrentTask
	}
	if patch.Capabilities != nil {
		p.Capabilities = append([]string(nil), patch.Capabilities...)
	}
	if patch.Metadata != nil {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			p.Metadata[k] = v
		}
	}
	changed := prevStatus != p.Status
	snapshot := p.Snapshot()
	r.mu.Unlock()

	if changed {
		r.publish(eventbus.Event{
			Type: eventbus.ProcessStatusChanged,
			Data: eventbus.ProcessStatusChangedData{ProcessID: id, Prev: prevStatus, Status: snapshot.Status},
		})
	}
	return snapshot
}

// Get returns a snapshot of process id, or nil if unknown.
func (r *Registry) Get(id string) *types.Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processes[id]
	if !ok {
		return nil
	}
	return p.Snapshot()
}

// List returns snapshots of every process matching filter.
func (r *Registry) List(filter types.ProcessFilter) []*types.Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Process
	for _, p := range r.processes {
		if filter.Matches(p) {
			out = append(out, p.Snapshot())
		}
	}
	return out
}

// GetBySwarm returns snapshots of every process in swarmID.
func (r *Registry) GetBySwarm(swarmID string) []*types.Process {
	return r.List(types.ProcessFilter{SwarmID: swarmID})
}

// GetSwarms returns the distinct, non-empty swarm ids currently registered.
func (r *Registry) GetSwarms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.processes {
		if p.SwarmID == "" || seen[p.SwarmID] {
			continue
		}
		seen[p.SwarmID] = true
		out = append(out, p.SwarmID)
	}
	return out
}

// FindAvailable returns snapshots of active/idle processes carrying every
// capability in capabilities.
func (r *Registry) FindAvailable(capabilities []string) []*types.Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*types.Process
	for _, p := range r.processes {
		if p.Status != types.StatusActive && p.Status != types.StatusIdle {
			continue
		}
		if p.HasCapabilities(capabilities) {
			out = append(out, p.Snapshot())
		}
	}
	return out
}

// Stats summarizes the registry for the external stats surface (spec.md
// §6.3): totals, counts by type, counts by status, swarm count, and active
// agent count.
func (r *Registry) Stats() types.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.RegistryStats{
		ByType:   make(map[types.ProcessType]int),
		ByStatus: make(map[types.ProcessStatus]int),
	}
	swarms := make(map[string]bool)
	for _, p := range r.processes {
		stats.Total++
		stats.ByType[p.Type]++
		stats.ByStatus[p.Status]++
		if p.SwarmID != "" {
			swarms[p.SwarmID] = true
		}
		if p.Type == types.ProcessAgent && p.Status == types.StatusActive {
			stats.ActiveAgents++
		}
	}
	stats.SwarmCount = len(swarms)
	return stats
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
