// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"errors"
	"time"

	"github.com/xmidt-org/lookout/model"
)

const (
	// TypeLabel is for labeling metrics; if there is a single metric for
	// successful queries, the TypeLabel and corresponding type can be used
	// when incrementing the metric.
	TypeLabel  = "type"
	InsertType = "insert"
	UpdateType = "update"
	ReadType   = "read"
	PingType   = "ping"
)

// DefaultLogLimit caps OnlineLogs when the caller passes a non-positive limit.
const DefaultLogLimit = 50

// S is the durable record of agents and their online/offline history.
type S interface {
	// RegisterAgent creates the agent's record. An existing record is left
	// untouched and an AgentExistsError is returned.
	RegisterAgent(ctx context.Context, agent model.Agent) error

	// FindAgent returns an AgentUnknownError if no such agent was registered.
	FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error)

	UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error
	AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// OnlineLogs returns the agent's most recent transitions, newest first.
	OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error)
}

// NormalizeLimit maps a non-positive limit to DefaultLogLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLogLimit
	}
	return limit
}

// EnsureAgent returns the agent's record. Unknown agents are registered as
// offline when autoRegister is set, otherwise the AgentUnknownError is
// returned unchanged. Losing a registration race to another caller returns
// the winner's record.
func EnsureAgent(ctx context.Context, s S, id model.AgentID, autoRegister bool, now time.Time) (model.Agent, error) {
	agent, err := s.FindAgent(ctx, id)
	if err == nil || !autoRegister || !errors.Is(err, ErrAgentUnknown) {
		return agent, err
	}
	agent = model.Agent{
		ID:        id,
		Status:    model.StatusOffline,
		CreatedAt: now,
	}
	err = s.RegisterAgent(ctx, agent)
	switch {
	case errors.Is(err, ErrAgentExists):
		return s.FindAgent(ctx, id)
	case err != nil:
		return model.Agent{}, err
	}
	return agent, nil
}
