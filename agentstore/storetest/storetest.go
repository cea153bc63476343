// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
)

var (
	GenericTestTime = time.Date(2021, time.March, 4, 10, 30, 0, 0, time.UTC)

	GenericTestAgent = model.Agent{
		ID:           "7b3c1c0e-5c4b-4f53-9a55-0f1c2d3e4f50",
		Name:         "front desk",
		ComputerName: "DESK-01",
		IP:           "10.0.0.12",
		Status:       model.StatusOffline,
		CreatedAt:    GenericTestTime,
	}
)

// StoreTest runs the behavior every agentstore backend must share.
func StoreTest(s agentstore.S, t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	unknown := model.AgentID("00000000-0000-0000-0000-000000000000")

	t.Log("Unknown agent")
	_, err := s.FindAgent(ctx, unknown)
	assert.ErrorIs(err, agentstore.ErrAgentUnknown)
	err = s.UpdateLastHeartbeat(ctx, unknown, GenericTestTime, model.StatusOnline)
	assert.ErrorIs(err, agentstore.ErrAgentUnknown)

	t.Log("Register and find")
	require.NoError(s.RegisterAgent(ctx, GenericTestAgent))
	found, err := s.FindAgent(ctx, GenericTestAgent.ID)
	require.NoError(err)
	assertAgent(t, GenericTestAgent, found)

	t.Log("Heartbeat update")
	seen := GenericTestTime.Add(time.Minute)
	require.NoError(s.UpdateLastHeartbeat(ctx, GenericTestAgent.ID, seen, model.StatusOnline))
	found, err = s.FindAgent(ctx, GenericTestAgent.ID)
	require.NoError(err)
	assert.Equal(model.StatusOnline, found.Status)
	assert.True(seen.Equal(found.LastHeartbeat), "expected %v, got %v", seen, found.LastHeartbeat)
	assert.Equal(GenericTestAgent.Name, found.Name)

	t.Log("Registering a taken id keeps the existing record")
	impostor := GenericTestAgent
	impostor.Name = "impostor"
	impostor.Status = model.StatusOffline
	impostor.LastHeartbeat = time.Time{}
	err = s.RegisterAgent(ctx, impostor)
	assert.ErrorIs(err, agentstore.ErrAgentExists)
	found, err = s.FindAgent(ctx, GenericTestAgent.ID)
	require.NoError(err)
	assert.Equal(GenericTestAgent.Name, found.Name)
	assert.Equal(model.StatusOnline, found.Status)
	assert.True(seen.Equal(found.LastHeartbeat), "expected %v, got %v", seen, found.LastHeartbeat)

	t.Log("EnsureAgent returns the existing record")
	ensured, err := agentstore.EnsureAgent(ctx, s, GenericTestAgent.ID, true, GenericTestTime)
	require.NoError(err)
	assert.Equal(GenericTestAgent.Name, ensured.Name)
	assert.Equal(model.StatusOnline, ensured.Status)

	t.Log("Online logs, newest first")
	for i, status := range []model.Status{model.StatusOnline, model.StatusOffline, model.StatusOnline} {
		require.NoError(s.AppendOnlineLog(ctx, model.OnlineEvent{
			AgentID: GenericTestAgent.ID,
			Status:  status,
			At:      GenericTestTime.Add(time.Duration(i) * time.Second),
			Reason:  "test",
		}))
	}
	logs, err := s.OnlineLogs(ctx, GenericTestAgent.ID, 2)
	require.NoError(err)
	require.Len(logs, 2)
	assert.Equal(model.StatusOnline, logs[0].Status)
	assert.True(GenericTestTime.Add(2 * time.Second).Equal(logs[0].At))
	assert.Equal(model.StatusOffline, logs[1].Status)

	logs, err = s.OnlineLogs(ctx, GenericTestAgent.ID, 0)
	require.NoError(err)
	assert.Len(logs, 3)

	t.Log("Offline agents are still listed")
	require.NoError(s.UpdateLastHeartbeat(ctx, GenericTestAgent.ID, seen, model.StatusOffline))
	all, err := s.ListAgents(ctx)
	require.NoError(err)
	require.Len(all, 1)
	assert.Equal(model.StatusOffline, all[0].Status)
}

func assertAgent(t *testing.T, expected, actual model.Agent) {
	assert := assert.New(t)
	assert.Equal(expected.ID, actual.ID)
	assert.Equal(expected.Name, actual.Name)
	assert.Equal(expected.ComputerName, actual.ComputerName)
	assert.Equal(expected.IP, actual.IP)
	assert.Equal(expected.Status, actual.Status)
	assert.True(expected.CreatedAt.Equal(actual.CreatedAt), "expected %v, got %v", expected.CreatedAt, actual.CreatedAt)
}
