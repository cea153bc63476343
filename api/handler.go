// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net/http"

	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/go-playground/validator/v10"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// DefaultMaxScreenshotBytes caps the size of an uploaded frame.
const DefaultMaxScreenshotBytes = 10 << 20

type Handler http.Handler

type Config struct {
	// MaxScreenshotBytes bounds request bodies on the screenshot and file
	// upload routes. (Optional). Defaults to 10 MiB.
	MaxScreenshotBytes int64
}

type handlerIn struct {
	fx.In

	Service *Service
	Config  *transportConfig
	Logger  *zap.Logger
}

// ProvideHandlers builds the named handlers for every route of the API.
func ProvideHandlers() fx.Option {
	return fx.Provide(
		newTransportConfig,
		fx.Annotated{Name: "register_agent_handler", Target: newRegisterAgentHandler},
		fx.Annotated{Name: "heartbeat_handler", Target: newHeartbeatHandler},
		fx.Annotated{Name: "status_handler", Target: newStatusHandler},
		fx.Annotated{Name: "logs_handler", Target: newLogsHandler},
		fx.Annotated{Name: "stats_handler", Target: newStatsHandler},
		fx.Annotated{Name: "screenshot_handler", Target: newScreenshotHandler},
		fx.Annotated{Name: "queued_screenshot_handler", Target: newQueuedScreenshotHandler},
		fx.Annotated{Name: "queue_status_handler", Target: newQueueStatusHandler},
		fx.Annotated{Name: "upload_file_handler", Target: newUploadFileHandler},
		fx.Annotated{Name: "file_handler", Target: newFileHandler},
		fx.Annotated{Name: "whitelist_handler", Target: newWhitelistHandler},
		fx.Annotated{Name: "replace_whitelist_handler", Target: newReplaceWhitelistHandler},
	)
}

func newTransportConfig(config Config) *transportConfig {
	if config.MaxScreenshotBytes <= 0 {
		config.MaxScreenshotBytes = DefaultMaxScreenshotBytes
	}
	return &transportConfig{
		MaxScreenshotBytes: config.MaxScreenshotBytes,
		validate:           validator.New(),
	}
}

func newServer(in handlerIn, e endpoint.Endpoint, dec kithttp.DecodeRequestFunc, enc kithttp.EncodeResponseFunc) Handler {
	logger := in.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return kithttp.NewServer(
		e,
		dec,
		enc,
		kithttp.ServerBefore(setLogger(logger)),
		kithttp.ServerErrorEncoder(encodeError),
	)
}

func decodeNothing(context.Context, *http.Request) (interface{}, error) {
	return nil, nil
}

func newRegisterAgentHandler(in handlerIn) Handler {
	return newServer(in, newRegisterAgentEndpoint(in.Service), in.Config.decodeRegisterAgentRequest, encodeJSON(http.StatusCreated))
}

func newHeartbeatHandler(in handlerIn) Handler {
	return newServer(in, newHeartbeatEndpoint(in.Service), in.Config.decodeHeartbeatRequest, encodeHeartbeatResponse)
}

func newStatusHandler(in handlerIn) Handler {
	return newServer(in, newStatusEndpoint(in.Service), in.Config.decodeAgentRequest, encodeHeartbeatResponse)
}

func newLogsHandler(in handlerIn) Handler {
	return newServer(in, newLogsEndpoint(in.Service), in.Config.decodeLogsRequest, encodeJSON(http.StatusOK))
}

func newStatsHandler(in handlerIn) Handler {
	return newServer(in, newStatsEndpoint(in.Service), decodeNothing, encodeJSON(http.StatusOK))
}

func newScreenshotHandler(in handlerIn) Handler {
	return newServer(in, newScreenshotEndpoint(in.Service), in.Config.decodeScreenshotRequest, encodeJSON(http.StatusOK))
}

func newQueuedScreenshotHandler(in handlerIn) Handler {
	return newServer(in, newQueuedScreenshotEndpoint(in.Service), in.Config.decodeScreenshotRequest, encodeQueuedResponse)
}

func newQueueStatusHandler(in handlerIn) Handler {
	return newServer(in, newQueueStatusEndpoint(in.Service), decodeNothing, encodeJSON(http.StatusOK))
}

func newUploadFileHandler(in handlerIn) Handler {
	return newServer(in, newUploadFileEndpoint(in.Service), in.Config.decodeUploadFileRequest, encodeUploadResponse)
}

func newFileHandler(in handlerIn) Handler {
	return newServer(in, newFileEndpoint(in.Service), in.Config.decodeFileRequest, encodeFileResponse)
}

func newWhitelistHandler(in handlerIn) Handler {
	return newServer(in, newWhitelistEndpoint(in.Service), decodeNothing, encodeJSON(http.StatusOK))
}

func newReplaceWhitelistHandler(in handlerIn) Handler {
	return newServer(in, newReplaceWhitelistEndpoint(in.Service), in.Config.decodeWhitelistRequest, encodeJSON(http.StatusOK))
}
