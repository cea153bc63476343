// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// Names
const (
	UploadCounter          = "ingest_uploads_total"
	DedupHitsCounter       = "ingest_dedup_hits_total"
	RetentionDeleteCounter = "ingest_retention_deletions_total"
	RetentionDropCounter   = "ingest_retention_dropped_total"
)

// Labels
const (
	TypeLabel    = "type"
	OutcomeLabel = "outcome"
)

// Label Values
const (
	CurrentType = "current"
	AlertType   = "alert"
	DedupType   = "dedup"

	SuccessOutcome  = "success"
	FailureOutcome  = "failure"
	RejectedOutcome = "rejected"
)

// ProvideMetrics returns the Metrics relevant to this package
func ProvideMetrics() fx.Option {
	return fx.Options(
		touchstone.CounterVec(
			prometheus.CounterOpts{
				Name: UploadCounter,
				Help: "Counter for screenshot writes by type and outcome.",
			},
			TypeLabel, OutcomeLabel,
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: DedupHitsCounter,
				Help: "The number of uploads answered with an already stored object.",
			},
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: RetentionDeleteCounter,
				Help: "The number of archived alert screenshots removed by retention cleanup.",
			},
		),
		touchstone.Counter(
			prometheus.CounterOpts{
				Name: RetentionDropCounter,
				Help: "The number of retention cleanups skipped because the work queue was full.",
			},
		),
	)
}

type Measures struct {
	fx.In
	Uploads          *prometheus.CounterVec `name:"ingest_uploads_total"`
	DedupHits        prometheus.Counter     `name:"ingest_dedup_hits_total"`
	RetentionDeletes prometheus.Counter     `name:"ingest_retention_deletions_total"`
	RetentionDrops   prometheus.Counter     `name:"ingest_retention_dropped_total"`
}

func (m Measures) upload(uploadType string, err error) {
	if m.Uploads == nil {
		return
	}
	outcome := SuccessOutcome
	if err != nil {
		outcome = FailureOutcome
	}
	m.Uploads.With(prometheus.Labels{TypeLabel: uploadType, OutcomeLabel: outcome}).Add(1)
}

func (m Measures) rejected(uploadType string) {
	if m.Uploads != nil {
		m.Uploads.With(prometheus.Labels{TypeLabel: uploadType, OutcomeLabel: RejectedOutcome}).Add(1)
	}
}

func inc(c prometheus.Counter, n int) {
	if c != nil && n > 0 {
		c.Add(float64(n))
	}
}
