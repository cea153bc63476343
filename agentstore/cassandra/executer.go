// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package cassandra

import (
	"context"
	"errors"
	"time"

	"github.com/gocql/gocql"
	"github.com/hailocab/go-hostpool"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/zap"
)

type dbStore interface {
	agentstore.S
	Close()
	Ping() error
}

var (
	noDataResponse = errors.New("no data from query")
	rowExists      = errors.New("row already exists")
	serverClosed   = errors.New("server is closed")
)

type cassandraExecutor struct {
	session *gocql.Session
	logger  *zap.Logger
}

func connect(clusterConfig *gocql.ClusterConfig, logger *zap.Logger) (dbStore, error) {
	clusterConfig.PoolConfig.HostSelectionPolicy = gocql.HostPoolHostPolicy(hostpool.New(nil))
	session, err := clusterConfig.CreateSession()
	if err != nil {
		return nil, err
	}

	return &cassandraExecutor{session: session, logger: logger}, nil
}

// RegisterAgent inserts with IF NOT EXISTS so a second registration cannot
// overwrite liveness already recorded for the id.
func (s *cassandraExecutor) RegisterAgent(ctx context.Context, agent model.Agent) error {
	existing := map[string]interface{}{}
	applied, err := s.session.Query(
		"INSERT INTO agents (id, name, computer_name, ip, status, last_heartbeat, created_at) VALUES (?,?,?,?,?,?,?) IF NOT EXISTS",
		agent.ID.String(), agent.Name, agent.ComputerName, agent.IP, string(agent.Status), agent.LastHeartbeat, agent.CreatedAt,
	).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return err
	}
	if !applied {
		return rowExists
	}
	return nil
}

func (s *cassandraExecutor) FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error) {
	var (
		agent  = model.Agent{ID: id}
		status string
	)
	iter := s.session.Query(
		"SELECT name, computer_name, ip, status, last_heartbeat, created_at FROM agents WHERE id = ?", id.String(),
	).WithContext(ctx).Iter()
	defer func() {
		if err := iter.Close(); err != nil {
			s.logger.Error("failed to close iter", zap.String("id", id.String()), zap.Error(err))
		}
	}()
	for iter.Scan(&agent.Name, &agent.ComputerName, &agent.IP, &status, &agent.LastHeartbeat, &agent.CreatedAt) {
		agent.Status = model.Status(status)
		return agent, nil
	}
	return model.Agent{}, noDataResponse
}

// UpdateLastHeartbeat uses a lightweight transaction so that unknown agents
// are not created by an upsert.
func (s *cassandraExecutor) UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error {
	applied, err := s.session.Query(
		"UPDATE agents SET last_heartbeat = ?, status = ? WHERE id = ? IF EXISTS", at, string(status), id.String(),
	).WithContext(ctx).ScanCAS()
	if err != nil {
		return err
	}
	if !applied {
		return noDataResponse
	}
	return nil
}

func (s *cassandraExecutor) AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error {
	return s.session.Query(
		"INSERT INTO agent_online_logs (id, at, status, reason) VALUES (?,?,?,?)",
		event.AgentID.String(), event.At, string(event.Status), event.Reason,
	).WithContext(ctx).Exec()
}

func (s *cassandraExecutor) ListAgents(ctx context.Context) ([]model.Agent, error) {
	result := []model.Agent{}
	var (
		id     string
		agent  model.Agent
		status string
	)
	iter := s.session.Query(
		"SELECT id, name, computer_name, ip, status, last_heartbeat, created_at FROM agents",
	).WithContext(ctx).Iter()
	for iter.Scan(&id, &agent.Name, &agent.ComputerName, &agent.IP, &status, &agent.LastHeartbeat, &agent.CreatedAt) {
		agent.ID = model.AgentID(id)
		agent.Status = model.Status(status)
		result = append(result, agent)
		agent = model.Agent{}
	}
	err := iter.Close()
	return result, err
}

// OnlineLogs relies on the table's descending clustering order on at.
func (s *cassandraExecutor) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	result := []model.OnlineEvent{}
	var (
		at     time.Time
		status string
		reason string
	)
	iter := s.session.Query(
		"SELECT at, status, reason FROM agent_online_logs WHERE id = ? LIMIT ?", id.String(), limit,
	).WithContext(ctx).Iter()
	for iter.Scan(&at, &status, &reason) {
		result = append(result, model.OnlineEvent{
			AgentID: id,
			Status:  model.Status(status),
			At:      at,
			Reason:  reason,
		})
	}
	err := iter.Close()
	return result, err
}

func (s *cassandraExecutor) Close() {
	s.session.Close()
}

func (s *cassandraExecutor) Ping() error {
	if s.session.Closed() {
		return serverClosed
	}
	return nil
}
