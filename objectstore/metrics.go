// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	OperationCounter = "objectstore_operations_total"
)

// Labels
const (
	OutcomeLabel = "outcome"
)

// Label Values
const (
	SuccessOutcome = "success"
	FailureOutcome = "failure"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: OperationCounter,
				Help: "Counter for object store operations and their outcomes.",
			},
			TypeLabel, OutcomeLabel,
		),
	)
}

type Measures struct {
	fx.In
	Operations *prometheus.CounterVec `name:"objectstore_operations_total"`
}
