// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package cassandra

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/xmidt-org/lookout/model"
)

type mockDB struct {
	mock.Mock
}

func (s *mockDB) RegisterAgent(_ context.Context, agent model.Agent) error {
	args := s.Called(agent)
	return args.Error(0)
}

func (s *mockDB) FindAgent(_ context.Context, id model.AgentID) (model.Agent, error) {
	args := s.Called(id)
	return args.Get(0).(model.Agent), args.Error(1)
}

func (s *mockDB) UpdateLastHeartbeat(_ context.Context, id model.AgentID, at time.Time, status model.Status) error {
	args := s.Called(id, at, status)
	return args.Error(0)
}

func (s *mockDB) AppendOnlineLog(_ context.Context, event model.OnlineEvent) error {
	args := s.Called(event)
	return args.Error(0)
}

func (s *mockDB) ListAgents(context.Context) ([]model.Agent, error) {
	args := s.Called()
	return args.Get(0).([]model.Agent), args.Error(1)
}

func (s *mockDB) OnlineLogs(_ context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	args := s.Called(id, limit)
	return args.Get(0).([]model.OnlineEvent), args.Error(1)
}

func (s *mockDB) Close() {
	s.Called()
}

func (s *mockDB) Ping() error {
	args := s.Called()
	return args.Error(0)
}
