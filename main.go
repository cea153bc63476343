// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/xmidt-org/lookout/admission"
	"github.com/xmidt-org/lookout/agentstore/db"
	"github.com/xmidt-org/lookout/api"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/liveness"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/lookout/objectstore/backend"
	"github.com/xmidt-org/lookout/queue"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	applicationName = "lookout"
	apiBase         = "api/v1"
)

var (
	GitCommit = "undefined"
	Version   = "undefined"
	BuildTime = "undefined"
)

func main() {
	v, logger, err := setup(os.Args[1:])
	switch {
	case errors.Is(err, pflag.ErrHelp):
		return
	case err != nil:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app := fx.New(
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		fx.Supply(logger, v),
		touchstone.Provide(),
		provideMetrics(),
		admission.ProvideMetrics(),
		notify.ProvideMetrics(),
		ingest.ProvideMetrics(),
		liveness.ProvideMetrics(),
		queue.ProvideMetrics(),
		db.Provide(),
		backend.Provide(),
		api.ProvideHandlers(),
		provideConfigs(),
		provideComponents(),
		provideServers(),
		fx.Invoke(
			BuildPrimaryRoutes,
			BuildMetricsRoutes,
			BuildHealthRoutes,
			func(*liveness.Sweeper) {},
		),
	)

	switch err := app.Err(); {
	case err == nil:
		app.Run()
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
