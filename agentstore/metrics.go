// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Generic Metrics
const (
	QuerySuccessCounter = "agentstore_query_success_count"
	QueryFailureCounter = "agentstore_query_failure_count"
)

// DynamoDB metrics
const (
	ReadCapacityConsumedCounter  = "agentstore_read_capacity_unit_consumed"
	WriteCapacityConsumedCounter = "agentstore_write_capacity_unit_consumed"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: QuerySuccessCounter,
				Help: "The total number of successful agent store queries",
			},
			TypeLabel,
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: QueryFailureCounter,
				Help: "The total number of failed agent store queries",
			},
			TypeLabel,
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: ReadCapacityConsumedCounter,
				Help: "The number of read capacity units consumed by the operation.",
			},
			TypeLabel,
		),
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: WriteCapacityConsumedCounter,
				Help: "The number of write capacity units consumed by the operation.",
			},
			TypeLabel,
		),
	)
}

type Measures struct {
	fx.In
	QuerySuccessCount          *prometheus.CounterVec `name:"agentstore_query_success_count"`
	QueryFailureCount          *prometheus.CounterVec `name:"agentstore_query_failure_count"`
	ConsumedReadCapacityCount  *prometheus.CounterVec `name:"agentstore_read_capacity_unit_consumed"`
	ConsumedWriteCapacityCount *prometheus.CounterVec `name:"agentstore_write_capacity_unit_consumed"`
}
