// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

const BuildInfoName = "lookout_build_info"

// provideMetrics builds the application metrics and makes them available to the container
func provideMetrics() fx.Option {
	return fx.Options(
		fx.Provide(
			touchstone.GaugeVec(
				prometheus.GaugeOpts{
					Name: BuildInfoName,
					Help: "always 1, labeled with the running build",
				},
				"version", "commit", "built", "goversion",
			),
		),
		fx.Invoke(
			fx.Annotate(
				func(g *prometheus.GaugeVec) {
					g.WithLabelValues(Version, GitCommit, BuildTime, runtime.Version()).Set(1)
				},
				fx.ParamTags(`name:"`+BuildInfoName+`"`),
			),
		),
	)
}
