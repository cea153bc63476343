// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package dynamodb

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
)

const testTableName = "lookout-test"

var (
	errThrottled = errors.New("throttled")

	testTime  = time.Date(2021, time.May, 10, 8, 0, 0, 0, time.UTC)
	testAgent = model.Agent{
		ID:            "6a1f0c1e-3f47-4b7e-9d0e-6f9a4e0b1c2d",
		Name:          "lobby",
		ComputerName:  "LOBBY-PC",
		IP:            "192.168.1.20",
		Status:        model.StatusOnline,
		LastHeartbeat: testTime,
		CreatedAt:     testTime.Add(-time.Hour),
	}
)

func TestPut(t *testing.T) {
	assert := assert.New(t)
	m := new(mockClient)
	e := &executor{c: m, tableName: testTableName}
	capacity := &types.ConsumedCapacity{CapacityUnits: aws.Float64(1)}

	m.On("PutItem", mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		var item agentItem
		if err := attributevalue.UnmarshalMap(in.Item, &item); err != nil {
			return false
		}
		return aws.ToString(in.TableName) == testTableName &&
			aws.ToString(in.ConditionExpression) == "attribute_not_exists(id)" &&
			item.SortKey == agentSortKey &&
			item.ID == testAgent.ID &&
			item.Name == testAgent.Name
	})).Return(&dynamodb.PutItemOutput{ConsumedCapacity: capacity}, nil).Once()

	consumed, err := e.Put(context.Background(), testAgent)
	assert.NoError(err)
	assert.Equal(capacity, consumed)
	m.AssertExpectations(t)
}

func TestGet(t *testing.T) {
	item, err := attributevalue.MarshalMap(agentItem{Agent: testAgent, SortKey: agentSortKey})
	require.NoError(t, err)

	tcs := []struct {
		Description   string
		Output        *dynamodb.GetItemOutput
		ClientErr     error
		ExpectedAgent model.Agent
		ExpectedErr   error
	}{
		{
			Description:   "Found",
			Output:        &dynamodb.GetItemOutput{Item: item},
			ExpectedAgent: testAgent,
		},
		{
			Description: "Unknown agent",
			Output:      &dynamodb.GetItemOutput{},
			ExpectedErr: agentstore.ErrAgentUnknown,
		},
		{
			Description: "Client failure",
			Output:      &dynamodb.GetItemOutput{},
			ClientErr:   errThrottled,
			ExpectedErr: errThrottled,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.Description, func(t *testing.T) {
			assert := assert.New(t)
			m := new(mockClient)
			e := &executor{c: m, tableName: testTableName}
			m.On("GetItem", mock.Anything).Return(tc.Output, tc.ClientErr).Once()

			agent, _, err := e.Get(context.Background(), testAgent.ID)
			if tc.ExpectedErr != nil {
				assert.ErrorIs(err, tc.ExpectedErr)
				return
			}
			assert.NoError(err)
			assert.Equal(tc.ExpectedAgent.ID, agent.ID)
			assert.Equal(tc.ExpectedAgent.ComputerName, agent.ComputerName)
			assert.True(tc.ExpectedAgent.LastHeartbeat.Equal(agent.LastHeartbeat))
		})
	}
}

func TestPutExisting(t *testing.T) {
	m := new(mockClient)
	e := &executor{c: m, tableName: testTableName}
	m.On("PutItem", mock.Anything).Return(&dynamodb.PutItemOutput{}, &types.ConditionalCheckFailedException{}).Once()

	_, err := e.Put(context.Background(), testAgent)
	assert.ErrorIs(t, err, agentstore.ErrAgentExists)
	var exists agentstore.AgentExistsError
	if assert.True(t, errors.As(err, &exists)) {
		assert.Equal(t, testAgent.ID, exists.ID)
	}
}

func TestClientErrorsAreSanitized(t *testing.T) {
	assert := assert.New(t)
	m := new(mockClient)
	e := &executor{c: m, tableName: testTableName}
	m.On("PutItem", mock.Anything).Return(&dynamodb.PutItemOutput{}, errThrottled).Once()

	_, err := e.Put(context.Background(), testAgent)
	var sErr agentstore.SanitizedError
	if assert.True(errors.As(err, &sErr)) {
		assert.Equal(http.StatusServiceUnavailable, sErr.StatusCode())
		assert.Equal("dynamodb operation failed", sErr.SanitizedError())
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		m := new(mockClient)
		e := &executor{c: m, tableName: testTableName}
		m.On("UpdateItem", mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
			status, ok := in.ExpressionAttributeValues[":status"].(*types.AttributeValueMemberS)
			return ok && status.Value == "offline" &&
				aws.ToString(in.ConditionExpression) == "attribute_exists(id)" &&
				in.ExpressionAttributeNames["#status"] == "status"
		})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

		_, err := e.UpdateHeartbeat(context.Background(), testAgent.ID, testTime, model.StatusOffline)
		assert.NoError(t, err)
		m.AssertExpectations(t)
	})

	t.Run("Unknown agent", func(t *testing.T) {
		m := new(mockClient)
		e := &executor{c: m, tableName: testTableName}
		m.On("UpdateItem", mock.Anything).Return(&dynamodb.UpdateItemOutput{}, &types.ConditionalCheckFailedException{}).Once()

		_, err := e.UpdateHeartbeat(context.Background(), testAgent.ID, testTime, model.StatusOnline)
		assert.ErrorIs(t, err, agentstore.ErrAgentUnknown)
	})
}

func TestGetAllPaginates(t *testing.T) {
	assert := assert.New(t)
	m := new(mockClient)
	e := &executor{c: m, tableName: testTableName}

	first, err := attributevalue.MarshalMap(agentItem{Agent: testAgent, SortKey: agentSortKey})
	require.NoError(t, err)
	other := testAgent
	other.ID = "0d6c7a3e-1111-4c2b-8e7f-222233334444"
	second, err := attributevalue.MarshalMap(agentItem{Agent: other, SortKey: agentSortKey})
	require.NoError(t, err)
	lastKey := agentKey(testAgent.ID)

	m.On("Scan", mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey == nil
	})).Return(&dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{first},
		LastEvaluatedKey: lastKey,
		ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(0.5)},
	}, nil).Once()
	m.On("Scan", mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		return in.ExclusiveStartKey != nil
	})).Return(&dynamodb.ScanOutput{
		Items:            []map[string]types.AttributeValue{second},
		ConsumedCapacity: &types.ConsumedCapacity{CapacityUnits: aws.Float64(0.5)},
	}, nil).Once()

	agents, consumed, err := e.GetAll(context.Background())
	assert.NoError(err)
	assert.Len(agents, 2)
	assert.Equal(1.0, aws.ToFloat64(consumed.CapacityUnits))
	m.AssertExpectations(t)
}

func TestGetLogs(t *testing.T) {
	assert := assert.New(t)
	m := new(mockClient)
	e := &executor{c: m, tableName: testTableName}
	event := model.OnlineEvent{AgentID: testAgent.ID, Status: model.StatusOffline, At: testTime, Reason: "heartbeat timeout"}
	item, err := attributevalue.MarshalMap(logItem{OnlineEvent: event, SortKey: logSortKey(event.At)})
	require.NoError(t, err)

	m.On("Query", mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return !aws.ToBool(in.ScanIndexForward) && aws.ToInt32(in.Limit) == 5
	})).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{item}}, nil).Once()

	events, _, err := e.GetLogs(context.Background(), testAgent.ID, 5)
	assert.NoError(err)
	if assert.Len(events, 1) {
		assert.Equal(event.Status, events[0].Status)
		assert.Equal(event.Reason, events[0].Reason)
		assert.True(event.At.Equal(events[0].At))
	}
}

func TestLogSortKeyOrdersByTime(t *testing.T) {
	earlier := logSortKey(testTime)
	later := logSortKey(testTime.Add(1500 * time.Millisecond))
	assert.Less(t, earlier, later)
}
