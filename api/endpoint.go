// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"

	"github.com/go-kit/kit/endpoint"
	"github.com/xmidt-org/lookout/model"
)

func newRegisterAgentEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*registerAgentRequest)
		return s.RegisterAgent(ctx, model.Agent{
			ID:           model.AgentID(r.ID),
			Name:         r.Name,
			ComputerName: r.ComputerName,
			IP:           r.IP,
		})
	}
}

func newHeartbeatEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*heartbeatRequest)
		return s.RecordHeartbeat(ctx, r.id, r.observedAt)
	}
}

func newStatusEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*agentRequest)
		return s.AgentStatus(ctx, r.id)
	}
}

func newLogsEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*logsRequest)
		return s.OnlineLogs(ctx, r.id, r.limit)
	}
}

func newStatsEndpoint(s *Service) endpoint.Endpoint {
	return func(context.Context, interface{}) (interface{}, error) {
		return s.FleetStats(), nil
	}
}

func newQueueStatusEndpoint(s *Service) endpoint.Endpoint {
	return func(context.Context, interface{}) (interface{}, error) {
		return s.QueueStatus(), nil
	}
}

func newScreenshotEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*screenshotRequest)
		return s.IngestScreenshot(ctx, r.id, r.data, r.isAlert, r.clipboard)
	}
}

// newQueuedScreenshotEndpoint waits for the task while the request lasts.
// A client that gives up leaves the task running.
func newQueuedScreenshotEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*screenshotRequest)
		h, err := s.EnqueueUpload(r.id, r.data, r.isAlert, r.clipboard, r.maxRetries)
		if err != nil {
			return nil, err
		}
		result, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return &queuedResponse{taskID: h.ID, result: result}, nil
	}
}

func newUploadFileEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*uploadFileRequest)
		return s.UploadFile(ctx, r.id, r.folder, r.data)
	}
}

func newFileEndpoint(s *Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		r := request.(*fileRequest)
		return s.ReadFile(ctx, r.key)
	}
}

func newWhitelistEndpoint(s *Service) endpoint.Endpoint {
	return func(context.Context, interface{}) (interface{}, error) {
		return &whitelistBody{Addresses: s.Whitelist()}, nil
	}
}

func newReplaceWhitelistEndpoint(s *Service) endpoint.Endpoint {
	return func(_ context.Context, request interface{}) (interface{}, error) {
		r := request.(*whitelistBody)
		addresses, err := s.ReplaceWhitelist(r.Addresses)
		if err != nil {
			return nil, err
		}
		return &whitelistBody{Addresses: addresses}, nil
	}
}
