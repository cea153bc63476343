// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/juju/clock"
	"github.com/xmidt-org/lookout/admission"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/api"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/keylock"
	"github.com/xmidt-org/lookout/liveness"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/lookout/objectstore"
	"github.com/xmidt-org/lookout/queue"
	"github.com/xmidt-org/lookout/violation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type HubOut struct {
	fx.Out
	Hub       *notify.Hub
	Publisher notify.Publisher
}

type EngineIn struct {
	fx.In
	Config     ingest.Config
	Store      objectstore.S
	Agents     agentstore.S
	Admission  *admission.Controller
	Serializer *keylock.Serializer
	Tracker    *liveness.Tracker
	Publisher  notify.Publisher
	Measures   ingest.Measures
	Logger     *zap.Logger
	LC         fx.Lifecycle
}

type TrackerIn struct {
	fx.In
	Config    liveness.Config
	Agents    agentstore.S
	Publisher notify.Publisher
	Measures  liveness.Measures
	Logger    *zap.Logger
	LC        fx.Lifecycle
}

type ServiceIn struct {
	fx.In
	Agents    agentstore.S
	Objects   objectstore.S
	Engine    *ingest.Engine
	Tracker   *liveness.Tracker
	Queue     *queue.Queue
	Detector  *violation.Detector
	Publisher notify.Publisher
	Logger    *zap.Logger
}

func provideComponents() fx.Option {
	return fx.Provide(
		admission.New,
		keylock.New,
		violation.NewDetector,
		provideHub,
		provideTracker,
		provideSweeper,
		provideEngine,
		provideQueue,
		provideService,
	)
}

func provideHub(config notify.HubConfig, measures notify.Measures, lc fx.Lifecycle, logger *zap.Logger) HubOut {
	hub := notify.NewHub(config, measures, logger)
	lc.Append(fx.StopHook(hub.Close))
	return HubOut{Hub: hub, Publisher: hub}
}

func provideTracker(in TrackerIn) (*liveness.Tracker, error) {
	tracker, err := liveness.NewTracker(in.Config, in.Agents, in.Publisher, clock.WallClock, in.Measures, in.Logger)
	if err != nil {
		return nil, err
	}
	in.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := tracker.LoadAll(ctx); err != nil {
				in.Logger.Error("failed to load persisted agents, liveness starts empty", zap.Error(err))
			}
			return nil
		},
	})
	return tracker, nil
}

func provideSweeper(config liveness.Config, tracker *liveness.Tracker, measures liveness.Measures, lc fx.Lifecycle, logger *zap.Logger) *liveness.Sweeper {
	sweeper := liveness.NewSweeper(config, tracker, clock.WallClock, measures, logger)
	lc.Append(fx.Hook{
		OnStart: sweeper.Start,
		OnStop:  sweeper.Stop,
	})
	return sweeper
}

func provideEngine(in EngineIn) (*ingest.Engine, error) {
	engine, err := ingest.NewEngine(in.Config, ingest.Dependencies{
		Store:      in.Store,
		Agents:     in.Agents,
		Admission:  in.Admission,
		Serializer: in.Serializer,
		Liveness:   in.Tracker,
		Publisher:  in.Publisher,
		Measures:   in.Measures,
		Logger:     in.Logger,
	})
	if err != nil {
		return nil, err
	}
	in.LC.Append(fx.Hook{
		OnStart: engine.Cleaner().Start,
		OnStop:  engine.Cleaner().Stop,
	})
	return engine, nil
}

func provideQueue(config queue.Config, measures queue.Measures, lc fx.Lifecycle, logger *zap.Logger) *queue.Queue {
	q := queue.New(config, clock.WallClock, measures, logger)
	lc.Append(fx.Hook{
		OnStart: q.Start,
		OnStop:  q.Stop,
	})
	return q
}

func provideService(in ServiceIn) *api.Service {
	return &api.Service{
		Agents:    in.Agents,
		Ingester:  in.Engine,
		Uploader:  in.Engine,
		Objects:   in.Objects,
		Liveness:  in.Tracker,
		Queue:     in.Queue,
		Detector:  in.Detector,
		Publisher: in.Publisher,
		Logger:    in.Logger,
	}
}
