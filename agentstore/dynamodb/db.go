// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package dynamodb

import (
	"context"
	"time"

	"emperror.dev/emperror"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/zap"
)

const (
	defaultTable      = "lookout"
	defaultMaxRetries = 3
)

type Config struct {
	Table      string
	Endpoint   string
	Region     string
	MaxRetries int
	AccessKey  string
	SecretKey  string
}

type DynamoClient struct {
	s        service
	config   Config
	logger   *zap.Logger
	measures agentstore.Measures
}

func NewDynamoDB(config Config, measures agentstore.Measures, logger *zap.Logger) (*DynamoClient, error) {
	validateConfig(&config)
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(config.MaxRetries),
	}
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	if config.AccessKey != "" && config.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, ""),
		))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, emperror.Wrap(err, "failed to load aws config")
	}
	c := dynamodb.NewFromConfig(awsConfig, func(o *dynamodb.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})
	return newDynamoClient(c, config, measures, logger), nil
}

func newDynamoClient(c client, config Config, measures agentstore.Measures, logger *zap.Logger) *DynamoClient {
	validateConfig(&config)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoClient{
		s:        newLoggingService(logger, &executor{c: c, tableName: config.Table}),
		config:   config,
		logger:   logger,
		measures: measures,
	}
}

func (d *DynamoClient) RegisterAgent(ctx context.Context, agent model.Agent) error {
	consumed, err := d.s.Put(ctx, agent)
	d.recordCapacity(consumed, agentstore.InsertType)
	return err
}

func (d *DynamoClient) FindAgent(ctx context.Context, id model.AgentID) (model.Agent, error) {
	agent, consumed, err := d.s.Get(ctx, id)
	d.recordCapacity(consumed, agentstore.ReadType)
	return agent, err
}

func (d *DynamoClient) UpdateLastHeartbeat(ctx context.Context, id model.AgentID, at time.Time, status model.Status) error {
	consumed, err := d.s.UpdateHeartbeat(ctx, id, at, status)
	d.recordCapacity(consumed, agentstore.UpdateType)
	return err
}

func (d *DynamoClient) AppendOnlineLog(ctx context.Context, event model.OnlineEvent) error {
	consumed, err := d.s.PutLog(ctx, event)
	d.recordCapacity(consumed, agentstore.InsertType)
	return err
}

func (d *DynamoClient) ListAgents(ctx context.Context) ([]model.Agent, error) {
	agents, consumed, err := d.s.GetAll(ctx)
	d.recordCapacity(consumed, agentstore.ReadType)
	return agents, err
}

func (d *DynamoClient) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	events, consumed, err := d.s.GetLogs(ctx, id, agentstore.NormalizeLimit(limit))
	d.recordCapacity(consumed, agentstore.ReadType)
	return events, err
}

// recordCapacity counts consumed units. With ReturnConsumedCapacityTotal only
// CapacityUnits is set, so it stands in for the read or write units.
func (d *DynamoClient) recordCapacity(consumedCapacity *types.ConsumedCapacity, action string) {
	if consumedCapacity == nil {
		return
	}
	d.logger.Debug("updating consumed capacity", zap.String(agentstore.TypeLabel, action))
	labels := prometheus.Labels{agentstore.TypeLabel: action}
	if action == agentstore.ReadType {
		if d.measures.ConsumedReadCapacityCount != nil {
			d.measures.ConsumedReadCapacityCount.With(labels).Add(units(consumedCapacity.ReadCapacityUnits, consumedCapacity.CapacityUnits))
		}
		return
	}
	if d.measures.ConsumedWriteCapacityCount != nil {
		d.measures.ConsumedWriteCapacityCount.With(labels).Add(units(consumedCapacity.WriteCapacityUnits, consumedCapacity.CapacityUnits))
	}
}

func units(specific, total *float64) float64 {
	if specific != nil {
		return *specific
	}
	return aws.ToFloat64(total)
}

func validateConfig(config *Config) {
	if config.Table == "" {
		config.Table = defaultTable
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
}
