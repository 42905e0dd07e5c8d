// Package registry holds the authoritative table of known agents and their
// liveness state.
//
// A Registry is not safe for concurrent use. The hub owns exactly one and
// serializes every call to it, including the periodic sweep.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/dyluth/warren/pkg/comms"
)

// Registry is the in-memory agent table. Agents are never removed, only marked offline.
type Registry struct {
	agents map[string]*comms.Agent
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{agents: make(map[string]*comms.Agent)}
}

// Register upserts an agent under its trimmed id. The agent is forced online
// and its heartbeat refreshed; registered_at is only set the first time an id
// is seen.
func (r *Registry) Register(reg comms.Registration, now time.Time) (comms.Agent, error) {
	reg.Normalize()
	if err := reg.Validate(); err != nil {
		return comms.Agent{}, err
	}

	capabilities := append([]string{}, reg.Capabilities...)

	agent, ok := r.agents[reg.ID]
	if !ok {
		agent = &comms.Agent{ID: reg.ID, RegisteredAt: now}
		r.agents[reg.ID] = agent
	}
	agent.Name = reg.Name
	agent.Description = reg.Description
	agent.Capabilities = capabilities
	agent.Status = comms.StatusOnline
	touch(agent, now)

	return snapshot(agent), nil
}

// Heartbeat refreshes an agent's liveness timer and brings it back online.
// Returns comms.ErrNotFound if the agent never registered.
func (r *Registry) Heartbeat(id string, now time.Time) (comms.Agent, error) {
	agent, err := r.lookup(id)
	if err != nil {
		return comms.Agent{}, err
	}

	touch(agent, now)
	agent.Status = comms.StatusOnline
	return snapshot(agent), nil
}

// SetActivity records a qualitative activity state without touching the liveness timer.
func (r *Registry) SetActivity(id, state, detail string, now time.Time) (comms.Agent, error) {
	if state == "" {
		return comms.Agent{}, fmt.Errorf("%w: activity state is required", comms.ErrMalformedRequest)
	}
	agent, err := r.lookup(id)
	if err != nil {
		return comms.Agent{}, err
	}

	agent.Activity = &comms.Activity{State: state, Detail: detail, UpdatedAt: now}
	return snapshot(agent), nil
}

// SetStatus sets an agent's status explicitly. The next heartbeat will bring
// a warning or offline agent back online.
func (r *Registry) SetStatus(id string, status comms.Status) (comms.Agent, error) {
	if err := status.Validate(); err != nil {
		return comms.Agent{}, fmt.Errorf("%w: %v", comms.ErrMalformedRequest, err)
	}
	agent, err := r.lookup(id)
	if err != nil {
		return comms.Agent{}, err
	}

	agent.Status = status
	return snapshot(agent), nil
}

// Get returns a snapshot of one agent.
func (r *Registry) Get(id string) (comms.Agent, bool) {
	agent, ok := r.agents[id]
	if !ok {
		return comms.Agent{}, false
	}
	return snapshot(agent), true
}

// List returns snapshots of every agent, ordered by id.
func (r *Registry) List() []comms.Agent {
	out := make([]comms.Agent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, snapshot(agent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the number of online agents and the total number of agents.
func (r *Registry) Counts() (online, total int) {
	for _, agent := range r.agents {
		if agent.Status == comms.StatusOnline {
			online++
		}
	}
	return online, len(r.agents)
}

// Sweep marks offline every online agent whose last heartbeat is more than
// timeout before now. Warning and offline agents are left alone.
// Returns snapshots of the agents that changed.
func (r *Registry) Sweep(now time.Time, timeout time.Duration) []comms.Agent {
	var changed []comms.Agent
	for _, agent := range r.agents {
		if agent.Status != comms.StatusOnline {
			continue
		}
		if now.Sub(agent.LastHeartbeat) > timeout {
			agent.Status = comms.StatusOffline
			changed = append(changed, snapshot(agent))
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	return changed
}

// Restore loads previously persisted agents, replacing any record with the same id.
func (r *Registry) Restore(agents []*comms.Agent) {
	for _, a := range agents {
		if a == nil || a.ID == "" {
			continue
		}
		restored := snapshot(a)
		r.agents[a.ID] = &restored
	}
}

func (r *Registry) lookup(id string) (*comms.Agent, error) {
	agent, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", comms.ErrNotFound, id)
	}
	return agent, nil
}

// touch advances the heartbeat; it never moves backwards.
func touch(agent *comms.Agent, now time.Time) {
	if now.After(agent.LastHeartbeat) {
		agent.LastHeartbeat = now
	}
}

func snapshot(agent *comms.Agent) comms.Agent {
	out := *agent
	out.Capabilities = append([]string{}, agent.Capabilities...)
	if agent.Activity != nil {
		activity := *agent.Activity
		out.Activity = &activity
	}
	return out
}
