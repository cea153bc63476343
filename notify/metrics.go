// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	PublishedCounter = "notify_events_published_total"
	DroppedCounter   = "notify_events_dropped_total"
)

// Labels
const (
	TopicLabel = "topic"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: PublishedCounter,
				Help: "The number of events published, by topic.",
			},
			TopicLabel,
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: DroppedCounter,
				Help: "The number of event deliveries skipped because a subscriber was full.",
			},
		),
	)
}

type Measures struct {
	fx.In
	Published *prometheus.CounterVec `name:"notify_events_published_total"`
	Dropped   prometheus.Counter     `name:"notify_events_dropped_total"`
}
