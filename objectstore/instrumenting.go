// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type instrumentingStore struct {
	S
	measures Measures
}

// Instrument counts every operation on s by type and outcome.
func Instrument(s S, measures Measures) S {
	if measures.Operations == nil {
		return s
	}
	return &instrumentingStore{S: s, measures: measures}
}

func (i *instrumentingStore) observe(opType string, err error) {
	outcome := SuccessOutcome
	if err != nil {
		outcome = FailureOutcome
	}
	i.measures.Operations.With(prometheus.Labels{TypeLabel: opType, OutcomeLabel: outcome}).Inc()
}

func (i *instrumentingStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	etag, err := i.S.Put(ctx, key, data, metadata)
	i.observe(PutType, err)
	return etag, err
}

func (i *instrumentingStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := i.S.Get(ctx, key)
	i.observe(GetType, err)
	return data, err
}

func (i *instrumentingStore) Stat(ctx context.Context, key string) (map[string]string, error) {
	md, err := i.S.Stat(ctx, key)
	i.observe(StatType, err)
	return md, err
}

func (i *instrumentingStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects, err := i.S.List(ctx, prefix)
	i.observe(ListType, err)
	return objects, err
}

func (i *instrumentingStore) Delete(ctx context.Context, key string) error {
	err := i.S.Delete(ctx, key)
	i.observe(DeleteType, err)
	return err
}

func (i *instrumentingStore) DeleteMany(ctx context.Context, keys []string) error {
	err := i.S.DeleteMany(ctx, keys)
	i.observe(DeleteType, err)
	return err
}
