// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	SweepCounter          = "liveness_sweeps_total"
	TransitionCounter     = "liveness_transitions_total"
	PersistFailureCounter = "liveness_persist_failures_total"
	OnlineGauge           = "liveness_agents_online"
)

// Labels
const (
	OutcomeLabel = "outcome"
	StatusLabel  = "status"
)

// Label Values
const (
	SuccessOutcome   = "success"
	PartialOutcome   = "partial"
	CancelledOutcome = "cancelled"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: SweepCounter,
				Help: "Counter for offline sweeps and their outcomes.",
			},
			OutcomeLabel,
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: TransitionCounter,
				Help: "Counter for agent online/offline transitions.",
			},
			StatusLabel,
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: PersistFailureCounter,
				Help: "The number of liveness updates that could not be persisted.",
			},
		),
		touchstone.Gauge(
			prometheus.GaugeOpts{
				Name: OnlineGauge,
				Help: "The number of agents considered online after the last sweep.",
			},
		),
	)
}

type Measures struct {
	fx.In
	Sweeps          *prometheus.CounterVec `name:"liveness_sweeps_total"`
	Transitions     *prometheus.CounterVec `name:"liveness_transitions_total"`
	PersistFailures prometheus.Counter     `name:"liveness_persist_failures_total"`
	Online          prometheus.Gauge       `name:"liveness_agents_online"`
}

func (m Measures) sweep(outcome string) {
	if m.Sweeps != nil {
		m.Sweeps.With(prometheus.Labels{OutcomeLabel: outcome}).Add(1)
	}
}

func (m Measures) transition(status string) {
	if m.Transitions != nil {
		m.Transitions.With(prometheus.Labels{StatusLabel: status}).Add(1)
	}
}

func (m Measures) persistFailure() {
	if m.PersistFailures != nil {
		m.PersistFailures.Inc()
	}
}

func (m Measures) online(n int) {
	if m.Online != nil {
		m.Online.Set(float64(n))
	}
}
