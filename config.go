// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"time"

	"github.com/spf13/viper"
	"github.com/xmidt-org/candlelight"
	"github.com/xmidt-org/lookout/admission"
	"github.com/xmidt-org/lookout/agentstore/db"
	"github.com/xmidt-org/lookout/api"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/liveness"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/lookout/objectstore/backend"
	"github.com/xmidt-org/lookout/queue"
	"github.com/xmidt-org/lookout/violation"
	"github.com/xmidt-org/touchstone"
	"go.uber.org/fx"
)

// ServerConfig describes one of the HTTP servers.
type ServerConfig struct {
	Address           string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
}

type ServersConfig struct {
	Primary ServerConfig
	Metrics ServerConfig
	Health  ServerConfig
}

type HealthPath string
type MetricsPath string

// unmarshalKey decodes one configuration key. A missing key yields the zero
// value so every package can apply its own defaults.
func unmarshalKey[T any](key string) func(*viper.Viper) (T, error) {
	return func(v *viper.Viper) (T, error) {
		var t T
		err := v.UnmarshalKey(key, &t)
		return t, err
	}
}

func provideConfigs() fx.Option {
	return fx.Provide(
		unmarshalKey[db.Configs]("agentstore"),
		unmarshalKey[backend.Config]("objectstore"),
		unmarshalKey[admission.Config]("admission"),
		unmarshalKey[notify.HubConfig]("notify"),
		unmarshalKey[violation.Config]("violation"),
		unmarshalKey[api.Config]("api"),
		unmarshalKey[queue.Config]("queue"),
		unmarshalKey[touchstone.Config]("prometheus"),
		func(v *viper.Viper, stores db.Configs) (ingest.Config, error) {
			config, err := unmarshalKey[ingest.Config]("ingest")(v)
			config.AutoRegister = config.AutoRegister || stores.AutoRegister
			return config, err
		},
		func(v *viper.Viper, stores db.Configs) (liveness.Config, error) {
			config, err := unmarshalKey[liveness.Config]("liveness")(v)
			config.AutoRegister = config.AutoRegister || stores.AutoRegister
			return config, err
		},
		func(v *viper.Viper) (candlelight.Config, error) {
			config, err := unmarshalKey[candlelight.Config]("tracing")(v)
			config.ApplicationName = applicationName
			return config, err
		},
		func(v *viper.Viper) (ServersConfig, error) {
			config, err := unmarshalKey[ServersConfig]("servers")(v)
			if config.Primary.Address == "" {
				config.Primary.Address = ":6600"
			}
			if config.Metrics.Address == "" {
				config.Metrics.Address = ":6601"
			}
			if config.Health.Address == "" {
				config.Health.Address = ":6602"
			}
			return config, err
		},
		func(v *viper.Viper) HealthPath {
			if p := v.GetString("health.path"); p != "" {
				return HealthPath(p)
			}
			return "/health"
		},
		func(v *viper.Viper) MetricsPath {
			if p := v.GetString("prometheus.path"); p != "" {
				return MetricsPath(p)
			}
			return "/metrics"
		},
	)
}
