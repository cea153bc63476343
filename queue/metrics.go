// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	DepthGauge    = "upload_queue_depth"
	InFlightGauge = "upload_queue_in_flight"
	TaskCounter   = "upload_queue_tasks_total"
)

// Labels
const (
	OutcomeLabel = "outcome"
)

// Label Values
const (
	SuccessOutcome   = "success"
	RetryOutcome     = "retry"
	ExhaustedOutcome = "exhausted"
	FailedOutcome    = "failed"
	ExpiredOutcome   = "expired"
	FullOutcome      = "full"
	StoppedOutcome   = "stopped"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.Gauge(
			prometheus.GaugeOpts{
				Name: DepthGauge,
				Help: "The number of upload tasks waiting to start.",
			},
		),
		touchstone.Gauge(
			prometheus.GaugeOpts{
				Name: InFlightGauge,
				Help: "The number of upload tasks currently running.",
			},
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: TaskCounter,
				Help: "Counter for upload task outcomes.",
			},
			OutcomeLabel,
		),
	)
}

type Measures struct {
	fx.In
	Depth    prometheus.Gauge       `name:"upload_queue_depth"`
	InFlight prometheus.Gauge       `name:"upload_queue_in_flight"`
	Tasks    *prometheus.CounterVec `name:"upload_queue_tasks_total"`
}

func (m Measures) outcome(outcome string) {
	if m.Tasks != nil {
		m.Tasks.With(prometheus.Labels{OutcomeLabel: outcome}).Add(1)
	}
}

func (m Measures) observe(depth, inFlight int) {
	if m.Depth != nil {
		m.Depth.Set(float64(depth))
	}
	if m.InFlight != nil {
		m.InFlight.Set(float64(inFlight))
	}
}
