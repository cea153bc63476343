// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/objectstore"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestSetupStoreInMem(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ops := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ops"}, []string{objectstore.TypeLabel, objectstore.OutcomeLabel})
	s, err := SetupStore(SetupIn{
		Config:   Config{URLBase: "http://localhost:9000/screenshots"},
		Measures: objectstore.Measures{Operations: ops},
		LC:       fxtest.NewLifecycle(t),
		Logger:   zap.NewNop(),
	})
	require.NoError(err)

	_, err = s.Put(context.Background(), "a/current.jpg", []byte("x"), nil)
	require.NoError(err)
	u, err := s.URL(context.Background(), "a/current.jpg")
	require.NoError(err)
	assert.Equal("http://localhost:9000/screenshots/a/current.jpg", u)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(err, objectstore.ErrObjectNotFound)

	assert.Equal(1.0, testutil.ToFloat64(ops.WithLabelValues(objectstore.PutType, objectstore.SuccessOutcome)))
	assert.Equal(1.0, testutil.ToFloat64(ops.WithLabelValues(objectstore.GetType, objectstore.FailureOutcome)))
}

func TestSetupStoreDefaultURLBase(t *testing.T) {
	require := require.New(t)
	s, err := SetupStore(SetupIn{
		LC:     fxtest.NewLifecycle(t),
		Logger: zap.NewNop(),
	})
	require.NoError(err)

	u, err := s.URL(context.Background(), "screenshots/a/current.jpg")
	require.NoError(err)
	assert.Equal(t, "/api/v1/files/screenshots/a/current.jpg", u)
}
