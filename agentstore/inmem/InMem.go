// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
)

type InMem struct {
	agents map[model.AgentID]model.Agent
	logs   map[model.AgentID][]model.OnlineEvent
	lock   sync.RWMutex
}

func NewInMem() *InMem {
	return &InMem{
		agents: map[model.AgentID]model.Agent{},
		logs:   map[model.AgentID][]model.OnlineEvent{},
	}
}

func (i *InMem) RegisterAgent(_ context.Context, agent model.Agent) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.agents[agent.ID]; ok {
		return agentstore.AgentExistsError{ID: agent.ID}
	}
	i.agents[agent.ID] = agent
	return nil
}

func (i *InMem) FindAgent(_ context.Context, id model.AgentID) (model.Agent, error) {
	i.lock.RLock()
	defer i.lock.RUnlock()
	agent, ok := i.agents[id]
	if !ok {
		return model.Agent{}, agentstore.AgentUnknownError{ID: id}
	}
	return agent, nil
}

func (i *InMem) UpdateLastHeartbeat(_ context.Context, id model.AgentID, at time.Time, status model.Status) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	agent, ok := i.agents[id]
	if !ok {
		return agentstore.AgentUnknownError{ID: id}
	}
	agent.LastHeartbeat = at
	agent.Status = status
	i.agents[id] = agent
	return nil
}

func (i *InMem) AppendOnlineLog(_ context.Context, event model.OnlineEvent) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	if _, ok := i.agents[event.AgentID]; !ok {
		return agentstore.AgentUnknownError{ID: event.AgentID}
	}
	i.logs[event.AgentID] = append(i.logs[event.AgentID], event)
	return nil
}

// ListAgents returns every registered agent ordered by id.
func (i *InMem) ListAgents(_ context.Context) ([]model.Agent, error) {
	i.lock.RLock()
	defer i.lock.RUnlock()
	agents := make([]model.Agent, 0, len(i.agents))
	for _, a := range i.agents {
		agents = append(agents, a)
	}
	sort.Slice(agents, func(a, b int) bool {
		return agents[a].ID < agents[b].ID
	})
	return agents, nil
}

func (i *InMem) OnlineLogs(_ context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	limit = agentstore.NormalizeLimit(limit)
	i.lock.RLock()
	defer i.lock.RUnlock()
	if _, ok := i.agents[id]; !ok {
		return nil, agentstore.AgentUnknownError{ID: id}
	}
	logs := i.logs[id]
	result := make([]model.OnlineEvent, 0, limit)
	for j := len(logs) - 1; j >= 0 && len(result) < limit; j-- {
		result = append(result, logs[j])
	}
	return result, nil
}
