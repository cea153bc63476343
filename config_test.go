// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/agentstore/db"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/liveness"
	"github.com/xmidt-org/lookout/queue"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

const testConfig = `
servers:
  primary:
    address: ":8080"
    readHeaderTimeout: 3s
liveness:
  offlineThreshold: 45s
queue:
  maxRetries: 0
  baseDelay: 250ms
agentstore:
  autoRegister: true
  sqlite:
    path: ":memory:"
`

func TestProvideConfigs(t *testing.T) {
	assert := assert.New(t)
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(testConfig)))

	var (
		servers ServersConfig
		live    liveness.Config
		ing     ingest.Config
		q       queue.Config
		stores  db.Configs
		health  HealthPath
		metrics MetricsPath
	)
	app := fxtest.New(t,
		fx.Supply(v),
		provideConfigs(),
		fx.Populate(&servers, &live, &ing, &q, &stores, &health, &metrics),
	)
	require.NoError(t, app.Err())

	assert.Equal(":8080", servers.Primary.Address)
	assert.Equal(3*time.Second, servers.Primary.ReadHeaderTimeout)
	assert.Equal(":6601", servers.Metrics.Address)
	assert.Equal(":6602", servers.Health.Address)

	assert.Equal(45*time.Second, live.OfflineThreshold)
	assert.True(live.AutoRegister)
	assert.True(ing.AutoRegister)

	require.NotNil(t, q.MaxRetries)
	assert.Zero(*q.MaxRetries)
	assert.Equal(250*time.Millisecond, q.BaseDelay)

	require.NotNil(t, stores.SQLite)
	assert.Equal(":memory:", stores.SQLite.Path)
	assert.Nil(stores.Dynamo)

	assert.Equal(HealthPath("/health"), health)
	assert.Equal(MetricsPath("/metrics"), metrics)
}
