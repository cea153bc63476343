// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xmidt-org/candlelight"
	"github.com/xmidt-org/httpaux"
	"github.com/xmidt-org/httpaux/recovery"
	"github.com/xmidt-org/lookout/api"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/touchstone/touchhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type PrimaryRoutesIn struct {
	fx.In
	Config   ServersConfig
	Metrics  touchhttp.ServerInstrumenter `name:"servers.primary.metrics"`
	Tracing  candlelight.Tracing
	Handlers PrimaryHandlersIn
	Hub      *notify.Hub
	LC       fx.Lifecycle
	Logger   *zap.Logger
}

type PrimaryHandlersIn struct {
	fx.In
	RegisterAgent    api.Handler `name:"register_agent_handler"`
	Heartbeat        api.Handler `name:"heartbeat_handler"`
	Status           api.Handler `name:"status_handler"`
	Logs             api.Handler `name:"logs_handler"`
	Stats            api.Handler `name:"stats_handler"`
	Screenshot       api.Handler `name:"screenshot_handler"`
	QueuedScreenshot api.Handler `name:"queued_screenshot_handler"`
	QueueStatus      api.Handler `name:"queue_status_handler"`
	UploadFile       api.Handler `name:"upload_file_handler"`
	File             api.Handler `name:"file_handler"`
	Whitelist        api.Handler `name:"whitelist_handler"`
	ReplaceWhitelist api.Handler `name:"replace_whitelist_handler"`
}

type HealthRoutesIn struct {
	fx.In
	Config  ServersConfig
	Metrics touchhttp.ServerInstrumenter `name:"servers.health.metrics"`
	Path    HealthPath
	LC      fx.Lifecycle
	Logger  *zap.Logger
}

type MetricsRoutesIn struct {
	fx.In
	Config   ServersConfig
	Gatherer prometheus.Gatherer
	Path     MetricsPath
	LC       fx.Lifecycle
	Logger   *zap.Logger
}

func provideServers() fx.Option {
	return fx.Provide(
		candlelight.New,
		fx.Annotated{
			Name: "servers.primary.metrics",
			Target: touchhttp.ServerBundle{}.NewInstrumenter(
				touchhttp.ServerLabel, "primary",
			),
		},
		fx.Annotated{
			Name: "servers.health.metrics",
			Target: touchhttp.ServerBundle{}.NewInstrumenter(
				touchhttp.ServerLabel, "health",
			),
		},
	)
}

// BuildPrimaryRoutes serves the API and the event stream.
func BuildPrimaryRoutes(in PrimaryRoutesIn) {
	router := mux.NewRouter()
	router.Use(otelmux.Middleware("server_primary",
		otelmux.WithTracerProvider(in.Tracing.TracerProvider()),
		otelmux.WithPropagators(in.Tracing.Propagator()),
	))

	h := in.Handlers
	agents := fmt.Sprintf("/%s/agents", apiBase)
	agent := agents + "/{agentID}"
	router.Handle(agents, h.RegisterAgent).Methods(http.MethodPost)
	router.Handle(agents+"/stats", h.Stats).Methods(http.MethodGet)
	router.Handle(agent+"/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	router.Handle(agent+"/status", h.Status).Methods(http.MethodGet)
	router.Handle(agent+"/logs", h.Logs).Methods(http.MethodGet)
	router.Handle(agent+"/screenshot", h.Screenshot).Methods(http.MethodPut)
	router.Handle(agent+"/screenshot/queued", h.QueuedScreenshot).Methods(http.MethodPost)
	router.Handle(fmt.Sprintf("/%s/queue", apiBase), h.QueueStatus).Methods(http.MethodGet)
	files := fmt.Sprintf("/%s/files", apiBase)
	router.Handle(files, h.UploadFile).Methods(http.MethodPost)
	router.Handle(files+"/{key:.+}", h.File).Methods(http.MethodGet)
	whitelist := fmt.Sprintf("/%s/whitelist", apiBase)
	router.Handle(whitelist, h.Whitelist).Methods(http.MethodGet)
	router.Handle(whitelist, h.ReplaceWhitelist).Methods(http.MethodPut)

	// The event stream hijacks its connection, so it bypasses the
	// instrumented chain.
	root := mux.NewRouter()
	root.Handle(fmt.Sprintf("/%s/events", apiBase), in.Hub).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(alice.New(
		candlelight.EchoFirstTraceNodeInfo(in.Tracing, false),
		in.Metrics.Then,
	).Then(router))

	recoverer := recovery.Middleware(recovery.WithStatusCode(555))
	serve(in.LC, in.Logger, "primary", in.Config.Primary, recoverer(root))
}

func BuildHealthRoutes(in HealthRoutesIn) {
	router := mux.NewRouter()
	router.Handle(string(in.Path), httpaux.ConstantHandler{
		StatusCode: http.StatusOK,
	}).Methods(http.MethodGet)
	serve(in.LC, in.Logger, "health", in.Config.Health, in.Metrics.Then(router))
}

func BuildMetricsRoutes(in MetricsRoutesIn) {
	router := mux.NewRouter()
	router.Handle(string(in.Path), promhttp.HandlerFor(in.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	serve(in.LC, in.Logger, "metrics", in.Config.Metrics, router)
}

func serve(lc fx.Lifecycle, logger *zap.Logger, name string, config ServerConfig, handler http.Handler) {
	logger = logger.With(zap.String("server", name), zap.String("address", config.Address))
	server := &http.Server{
		Addr:              config.Address,
		Handler:           handler,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger),
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			l, err := net.Listen("tcp", server.Addr)
			if err != nil {
				return err
			}
			logger.Info("server listening")
			go func() {
				if err := server.Serve(l); !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}
