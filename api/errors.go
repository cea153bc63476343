// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/objectstore"
	"github.com/xmidt-org/lookout/queue"
)

// ErrCasting indicates there was a middleware wiring mistake with the go-kit style
// encoders.
var ErrCasting = errors.New("casting error due to middleware wiring mistake")

type BadRequestErr struct {
	Message string
}

func (bre BadRequestErr) Error() string {
	return bre.Message
}

func (bre BadRequestErr) StatusCode() int {
	return http.StatusBadRequest
}

type PayloadTooLargeErr struct {
	Limit int64
}

func (e PayloadTooLargeErr) Error() string {
	return "screenshot exceeds the size limit"
}

func (e PayloadTooLargeErr) StatusCode() int {
	return http.StatusRequestEntityTooLarge
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// statusCode picks the response code for err. Terminal queue outcomes are
// checked first since they wrap the error of the last attempt, which carries
// a code of its own.
func statusCode(err error) int {
	var coder kithttp.StatusCoder
	switch {
	case errors.Is(err, queue.ErrRetriesExhausted):
		return http.StatusBadGateway
	case errors.Is(err, queue.ErrTaskExpired), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, queue.ErrQueueStopped):
		return http.StatusServiceUnavailable
	case errors.As(err, &coder):
		return coder.StatusCode()
	case errors.Is(err, agentstore.ErrAgentUnknown), errors.Is(err, objectstore.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, agentstore.ErrAgentExists):
		return http.StatusConflict
	case errors.Is(err, objectstore.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrEmptyPayload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// message hides backend details from clients when the error offers a
// sanitized form.
func message(err error) string {
	var sanitized interface{ SanitizedError() string }
	if errors.As(err, &sanitized) {
		return sanitized.SanitizedError()
	}
	return err.Error()
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	msg := message(err)
	w.Header().Set(LookoutErrorHeaderKey, msg)
	var headerer kithttp.Headerer
	if errors.As(err, &headerer) {
		for k, values := range headerer.Headers() {
			for _, v := range values {
				w.Header().Add(k, v)
			}
		}
	}
	if errors.Is(err, queue.ErrQueueFull) && w.Header().Get("Retry-After") == "" {
		w.Header().Set("Retry-After", "1")
	}

	code := statusCode(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Code: code, Message: msg})
}
