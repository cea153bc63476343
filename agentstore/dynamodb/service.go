// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package dynamodb

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/xmidt-org/httpaux/erraux"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
)

// client captures the methods of interest from the dynamoDB API. This
// should help mock API calls as well.
type client interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// service defines the dynamodb specific DAO interface. It helps keeping middleware
// such as logging and instrumentation orthogonal to business logic.
type service interface {
	Put(ctx context.Context, agent model.Agent) (*types.ConsumedCapacity, error)
	Get(ctx context.Context, id model.AgentID) (model.Agent, *types.ConsumedCapacity, error)
	UpdateHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) (*types.ConsumedCapacity, error)
	PutLog(ctx context.Context, event model.OnlineEvent) (*types.ConsumedCapacity, error)
	GetAll(ctx context.Context) ([]model.Agent, *types.ConsumedCapacity, error)
	GetLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, *types.ConsumedCapacity, error)
}

// executor satisfies the service interface so dao can then adapt the outputs to match
// the lookout abstract DAO.
type executor struct {
	// c is the dynamodb client
	c client

	// tableName is the name of the dynamodb table
	tableName string
}

// Agents and their online logs share a table: the partition key is the agent
// id and the sort key tells the record kind apart.
type agentItem struct {
	model.Agent
	SortKey string `dynamodbav:"sk"`
}

type logItem struct {
	model.OnlineEvent
	SortKey string `dynamodbav:"sk"`
}

// Dynamo DB attribute keys
const (
	idAttributeKey   = "id"
	sortAttributeKey = "sk"

	agentSortKey  = "agent"
	logSortPrefix = "log#"

	// logSortLayout sorts lexicographically in time order.
	logSortLayout = "20060102T150405.000000000"
)

var errDefaultDynamoDBFailure = &erraux.Error{
	Err:  errors.New("dynamodb operation failed"),
	Code: http.StatusServiceUnavailable,
}

func handleClientError(err error) error {
	return agentstore.SanitizedError{Err: err, ErrHTTP: errDefaultDynamoDBFailure}
}

func agentKey(id model.AgentID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		idAttributeKey:   &types.AttributeValueMemberS{Value: id.String()},
		sortAttributeKey: &types.AttributeValueMemberS{Value: agentSortKey},
	}
}

func logSortKey(at time.Time) string {
	return logSortPrefix + at.UTC().Format(logSortLayout)
}

func (d *executor) Put(ctx context.Context, agent model.Agent) (*types.ConsumedCapacity, error) {
	av, err := attributevalue.MarshalMap(agentItem{Agent: agent, SortKey: agentSortKey})
	if err != nil {
		return nil, err
	}
	result, err := d.c.PutItem(ctx, &dynamodb.PutItemInput{
		Item:                   av,
		TableName:              aws.String(d.tableName),
		ConditionExpression:    aws.String("attribute_not_exists(id)"),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var consumedCapacity *types.ConsumedCapacity
	if result != nil {
		consumedCapacity = result.ConsumedCapacity
	}
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return consumedCapacity, agentstore.AgentExistsError{ID: agent.ID}
		}
		return consumedCapacity, handleClientError(err)
	}
	return consumedCapacity, nil
}

func (d *executor) Get(ctx context.Context, id model.AgentID) (model.Agent, *types.ConsumedCapacity, error) {
	result, err := d.c.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:              aws.String(d.tableName),
		Key:                    agentKey(id),
		ConsistentRead:         aws.Bool(true),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var consumedCapacity *types.ConsumedCapacity
	if result != nil {
		consumedCapacity = result.ConsumedCapacity
	}
	if err != nil {
		return model.Agent{}, consumedCapacity, handleClientError(err)
	}
	if len(result.Item) == 0 {
		return model.Agent{}, consumedCapacity, agentstore.AgentUnknownError{ID: id}
	}
	item := new(agentItem)
	if err = attributevalue.UnmarshalMap(result.Item, item); err != nil {
		return model.Agent{}, consumedCapacity, err
	}
	return item.Agent, consumedCapacity, nil
}

func (d *executor) UpdateHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) (*types.ConsumedCapacity, error) {
	atValue, err := attributevalue.Marshal(at)
	if err != nil {
		return nil, err
	}
	result, err := d.c.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 agentKey(id),
		UpdateExpression:    aws.String("SET lastHeartbeat = :at, #status = :status"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":     atValue,
			":status": &types.AttributeValueMemberS{Value: string(status)},
		},
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var consumedCapacity *types.ConsumedCapacity
	if result != nil {
		consumedCapacity = result.ConsumedCapacity
	}
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return consumedCapacity, agentstore.AgentUnknownError{ID: id}
		}
		return consumedCapacity, handleClientError(err)
	}
	return consumedCapacity, nil
}

func (d *executor) PutLog(ctx context.Context, event model.OnlineEvent) (*types.ConsumedCapacity, error) {
	av, err := attributevalue.MarshalMap(logItem{OnlineEvent: event, SortKey: logSortKey(event.At)})
	if err != nil {
		return nil, err
	}
	result, err := d.c.PutItem(ctx, &dynamodb.PutItemInput{
		Item:                   av,
		TableName:              aws.String(d.tableName),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var consumedCapacity *types.ConsumedCapacity
	if result != nil {
		consumedCapacity = result.ConsumedCapacity
	}
	if err != nil {
		return consumedCapacity, handleClientError(err)
	}
	return consumedCapacity, nil
}

// GetAll scans every agent record, following pagination. Consumed capacity
// is summed across pages.
func (d *executor) GetAll(ctx context.Context) ([]model.Agent, *types.ConsumedCapacity, error) {
	var (
		agents   = []model.Agent{}
		total    = &types.ConsumedCapacity{}
		startKey map[string]types.AttributeValue
	)
	for {
		result, err := d.c.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(d.tableName),
			FilterExpression: aws.String("sk = :agent"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":agent": &types.AttributeValueMemberS{Value: agentSortKey},
			},
			ExclusiveStartKey:      startKey,
			ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
		})
		if err != nil {
			return nil, total, handleClientError(err)
		}
		addCapacity(total, result.ConsumedCapacity)
		for _, i := range result.Items {
			item := new(agentItem)
			if err := attributevalue.UnmarshalMap(i, item); err != nil {
				continue
			}
			agents = append(agents, item.Agent)
		}
		if len(result.LastEvaluatedKey) == 0 {
			return agents, total, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

func (d *executor) GetLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, *types.ConsumedCapacity, error) {
	result, err := d.c.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("id = :id AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id":     &types.AttributeValueMemberS{Value: id.String()},
			":prefix": &types.AttributeValueMemberS{Value: logSortPrefix},
		},
		ScanIndexForward:       aws.Bool(false),
		Limit:                  aws.Int32(int32(limit)),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	})
	var consumedCapacity *types.ConsumedCapacity
	if result != nil {
		consumedCapacity = result.ConsumedCapacity
	}
	if err != nil {
		return nil, consumedCapacity, handleClientError(err)
	}
	events := make([]model.OnlineEvent, 0, len(result.Items))
	for _, i := range result.Items {
		item := new(logItem)
		if err := attributevalue.UnmarshalMap(i, item); err != nil {
			continue
		}
		events = append(events, item.OnlineEvent)
	}
	return events, consumedCapacity, nil
}

func addCapacity(total, c *types.ConsumedCapacity) {
	if c == nil {
		return
	}
	if c.CapacityUnits != nil {
		total.CapacityUnits = aws.Float64(aws.ToFloat64(total.CapacityUnits) + *c.CapacityUnits)
	}
	if c.ReadCapacityUnits != nil {
		total.ReadCapacityUnits = aws.Float64(aws.ToFloat64(total.ReadCapacityUnits) + *c.ReadCapacityUnits)
	}
}
