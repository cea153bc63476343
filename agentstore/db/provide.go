// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"

	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/agentstore/cassandra"
	"github.com/xmidt-org/lookout/agentstore/dynamodb"
	"github.com/xmidt-org/lookout/agentstore/inmem"
	"github.com/xmidt-org/lookout/agentstore/sqlstore"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const DynamoDB = "dynamo"

// Configs holds at most one backend configuration. When several are set the
// first one in field order wins.
type Configs struct {
	Dynamo   *dynamodb.Config
	Yugabyte *cassandra.Config
	SQLite   *sqlstore.Config

	// AutoRegister lets heartbeats and uploads from unknown agents create
	// their record instead of failing.
	AutoRegister bool
}

type SetupIn struct {
	fx.In
	Configs  Configs
	Measures agentstore.Measures
	LC       fx.Lifecycle
	Logger   *zap.Logger
}

func Provide() fx.Option {
	return fx.Options(
		agentstore.ProvideMetrics(),
		fx.Provide(
			SetupStore,
		),
	)
}

func SetupStore(in SetupIn) (agentstore.S, error) {
	s, err := setupBackend(in)
	if err != nil {
		return nil, err
	}
	return agentstore.Instrument(s, in.Measures), nil
}

func setupBackend(in SetupIn) (agentstore.S, error) {
	if in.Configs.Dynamo != nil {
		in.Logger.Info("using dynamodb agent store implementation")
		return dynamodb.NewDynamoDB(*in.Configs.Dynamo, in.Measures, in.Logger)
	}
	if in.Configs.Yugabyte != nil {
		in.Logger.Info("using yugabyte agent store implementation")
		return cassandra.NewCassandra(*in.Configs.Yugabyte, in.Measures, in.LC, in.Logger)
	}
	if in.Configs.SQLite != nil {
		in.Logger.Info("using sqlite agent store implementation", zap.String("path", in.Configs.SQLite.Path))
		s, err := sqlstore.NewSQLStore(*in.Configs.SQLite)
		if err != nil {
			return nil, err
		}
		in.LC.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return s.Close()
			},
		})
		return s, nil
	}
	in.Logger.Info("using in memory agent store implementation")
	return inmem.NewInMem(), nil
}
