// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/lookout/model"
)

type instrumentingStore struct {
	S
	measures Measures
}

// Instrument counts successful and failed queries by type. An unknown agent is
// an answer, not a failure.
func Instrument(s S, measures Measures) S {
	if measures.QuerySuccessCount == nil || measures.QueryFailureCount == nil {
		return s
	}
	return &instrumentingStore{S: s, measures: measures}
}

func (i *instrumentingStore) observe(queryType string, err error) {
	labels := prometheus.Labels{TypeLabel: queryType}
	if err != nil && !errors.Is(err, ErrAgentUnknown) {
		i.measures.QueryFailureCount.With(labels).Add(1.0)
		return
	}
	i.measures.QuerySuccessCount.With(labels).Add(1.0)
}

func (i *instrumentingStore) RegisterAgent(ctx context.Context, agent model.Agent) error {
	err := i.S.RegisterAgent(ctx, agent)
	i.observe(InsertType, err)
	return err
}

func (i *instrumentingStore) FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error) {
	agent, err := i.S.FindAgent(ctx, id)
	i.observe(ReadType, err)
	return agent, err
}

func (i *instrumentingStore) UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error {
	err := i.S.UpdateLastHeartbeat(ctx, id, at, status)
	i.observe(UpdateType, err)
	return err
}

func (i *instrumentingStore) AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error {
	err := i.S.AppendOnlineLog(ctx, event)
	i.observe(InsertType, err)
	return err
}

func (i *instrumentingStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, err := i.S.ListAgents(ctx)
	i.observe(ReadType, err)
	return agents, err
}

func (i *instrumentingStore) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	events, err := i.S.OnlineLogs(ctx, id, limit)
	i.observe(ReadType, err)
	return events, err
}
