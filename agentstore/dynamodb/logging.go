// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/zap"
)

type loggingService struct {
	service
	logger *zap.Logger
}

func newLoggingService(logger *zap.Logger, s service) service {
	return &loggingService{service: s, logger: logger}
}

func (s *loggingService) GetAll(ctx context.Context) (agents []model.Agent, consumedCapacity *types.ConsumedCapacity, err error) {
	defer func() {
		s.logger.Debug("scanned agents", zap.Int("agentsSize", len(agents)), zap.Error(err))
	}()
	agents, consumedCapacity, err = s.service.GetAll(ctx)
	return
}

func (s *loggingService) GetLogs(ctx context.Context, id model.AgentID, limit int) (events []model.OnlineEvent, consumedCapacity *types.ConsumedCapacity, err error) {
	defer func() {
		s.logger.Debug("queried online logs", zap.String("agentID", id.String()), zap.Int("eventsSize", len(events)), zap.Error(err))
	}()
	events, consumedCapacity, err = s.service.GetLogs(ctx, id, limit)
	return
}
