// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	InFlightGauge     = "admission_uploads_in_flight"
	RejectionsCounter = "admission_rejections_total"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.Gauge(
			prometheus.GaugeOpts{
				Name: InFlightGauge,
				Help: "The number of screenshot uploads currently holding an admission lease.",
			},
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: RejectionsCounter,
				Help: "The number of uploads rejected because every lease was taken.",
			},
		),
	)
}

type Measures struct {
	fx.In
	InFlight   prometheus.Gauge   `name:"admission_uploads_in_flight"`
	Rejections prometheus.Counter `name:"admission_rejections_total"`
}
