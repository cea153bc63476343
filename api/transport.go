// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/spf13/cast"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

// request URL path keys
const (
	agentIDVarKey = "agentID"
	keyVarKey     = "key"
)

// query parameters
const (
	alertParam      = "alert"
	maxRetriesParam = "maxRetries"
	limitParam      = "limit"
	agentIDParam    = "agentId"
	folderParam     = "folder"
)

const defaultFolder = "uploads"

// Request and Response Headers
const (
	ClipboardHeaderKey    = "X-Lookout-Clipboard"
	TaskIDHeaderKey       = "X-Lookout-Task-Id"
	LookoutErrorHeaderKey = "X-Lookout-Error"
)

const agentIDVarMissingMsg = "{agentID} URL path parameter missing"

var (
	errInvalidAgentID = BadRequestErr{Message: "Invalid agent id. Expecting a UUID."}
	errEmptyBody      = BadRequestErr{Message: "Request body must not be empty."}
	errInvalidFolder  = BadRequestErr{Message: "folder must be slash separated names of letters, digits, '-' or '_'."}
	errInvalidKey     = BadRequestErr{Message: "Invalid object key."}

	folderPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)
)

type transportConfig struct {
	MaxScreenshotBytes int64
	validate           *validator.Validate
}

type agentRequest struct {
	id model.AgentID
}

type registerAgentRequest struct {
	ID           string `json:"id" validate:"omitempty,uuid"`
	Name         string `json:"name" validate:"max=128"`
	ComputerName string `json:"computerName" validate:"max=255"`
	IP           string `json:"ip" validate:"omitempty,ip"`
}

type heartbeatRequest struct {
	id         model.AgentID
	observedAt time.Time
}

type heartbeatBody struct {
	ObservedAt time.Time `json:"observedAt"`
}

type logsRequest struct {
	id    model.AgentID
	limit int
}

type screenshotRequest struct {
	id         model.AgentID
	data       []byte
	isAlert    bool
	clipboard  string
	maxRetries int
}

type uploadFileRequest struct {
	id     model.AgentID
	folder string
	data   []byte
}

type fileRequest struct {
	key string
}

type whitelistBody struct {
	Addresses []string `json:"addresses" validate:"dive,max=128"`
}

type statusResponse struct {
	Status   model.Status `json:"status"`
	LastSeen time.Time    `json:"lastSeen"`
}

type queuedResponse struct {
	taskID string
	result model.IngestResult
}

// setLogger puts a request scoped logger into the context.
func setLogger(logger *zap.Logger) func(context.Context, *http.Request) context.Context {
	return func(ctx context.Context, r *http.Request) context.Context {
		return sallust.With(ctx, logger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("agentID", mux.Vars(r)[agentIDVarKey]),
		))
	}
}

func (c *transportConfig) agentID(r *http.Request) (model.AgentID, error) {
	id, ok := mux.Vars(r)[agentIDVarKey]
	if !ok {
		return "", BadRequestErr{Message: agentIDVarMissingMsg}
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if err := c.validate.Var(id, "required,uuid"); err != nil {
		return "", errInvalidAgentID
	}
	return model.AgentID(id), nil
}

func (c *transportConfig) decodeAgentRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := c.agentID(r)
	if err != nil {
		return nil, err
	}
	return &agentRequest{id: id}, nil
}

func (c *transportConfig) decodeRegisterAgentRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var body registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, BadRequestErr{Message: "failed to unmarshal json"}
	}
	body.ID = strings.ToLower(strings.TrimSpace(body.ID))
	if err := c.validate.Struct(body); err != nil {
		return nil, BadRequestErr{Message: err.Error()}
	}
	return &body, nil
}

func (c *transportConfig) decodeHeartbeatRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := c.agentID(r)
	if err != nil {
		return nil, err
	}
	var body heartbeatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, BadRequestErr{Message: "failed to unmarshal json"}
	}
	return &heartbeatRequest{id: id, observedAt: body.ObservedAt}, nil
}

func (c *transportConfig) decodeLogsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := c.agentID(r)
	if err != nil {
		return nil, err
	}
	limit := 0
	if v := r.URL.Query().Get(limitParam); v != "" {
		if limit, err = cast.ToIntE(v); err != nil || limit < 0 {
			return nil, BadRequestErr{Message: "limit must be a non-negative integer"}
		}
	}
	return &logsRequest{id: id, limit: limit}, nil
}

func (c *transportConfig) decodeScreenshotRequest(_ context.Context, r *http.Request) (interface{}, error) {
	id, err := c.agentID(r)
	if err != nil {
		return nil, err
	}

	req := &screenshotRequest{
		id:         id,
		clipboard:  r.Header.Get(ClipboardHeaderKey),
		maxRetries: -1,
	}
	query := r.URL.Query()
	if v := query.Get(alertParam); v != "" {
		if req.isAlert, err = cast.ToBoolE(v); err != nil {
			return nil, BadRequestErr{Message: "alert must be a boolean"}
		}
	}
	if v := query.Get(maxRetriesParam); v != "" {
		if req.maxRetries, err = cast.ToIntE(v); err != nil || req.maxRetries < 0 {
			return nil, BadRequestErr{Message: "maxRetries must be a non-negative integer"}
		}
	}

	if req.data, err = c.readBody(r); err != nil {
		return nil, err
	}
	return req, nil
}

// decodeUploadFileRequest reads the uploading agent and the folder from the
// query and the file from the body.
func (c *transportConfig) decodeUploadFileRequest(_ context.Context, r *http.Request) (interface{}, error) {
	query := r.URL.Query()
	id := strings.ToLower(strings.TrimSpace(query.Get(agentIDParam)))
	if err := c.validate.Var(id, "required,uuid"); err != nil {
		return nil, errInvalidAgentID
	}
	folder := strings.Trim(query.Get(folderParam), "/")
	if folder == "" {
		folder = defaultFolder
	}
	if len(folder) > 128 || !folderPattern.MatchString(folder) {
		return nil, errInvalidFolder
	}

	data, err := c.readBody(r)
	if err != nil {
		return nil, err
	}
	return &uploadFileRequest{id: model.AgentID(id), folder: folder, data: data}, nil
}

func (c *transportConfig) decodeFileRequest(_ context.Context, r *http.Request) (interface{}, error) {
	key := mux.Vars(r)[keyVarKey]
	if key == "" || strings.HasPrefix(key, "/") {
		return nil, errInvalidKey
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return nil, errInvalidKey
		}
	}
	return &fileRequest{key: key}, nil
}

func (c *transportConfig) decodeWhitelistRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var body whitelistBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, BadRequestErr{Message: "failed to unmarshal json"}
	}
	if body.Addresses == nil {
		return nil, BadRequestErr{Message: "addresses is required"}
	}
	if err := c.validate.Struct(body); err != nil {
		return nil, BadRequestErr{Message: err.Error()}
	}
	return &body, nil
}

// readBody reads a non-empty body of at most MaxScreenshotBytes.
func (c *transportConfig) readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, c.MaxScreenshotBytes))
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return nil, PayloadTooLargeErr{Limit: c.MaxScreenshotBytes}
	case err != nil:
		return nil, BadRequestErr{Message: "failed to read body"}
	case len(data) == 0:
		return nil, errEmptyBody
	}
	return data, nil
}

func encodeJSON(code int) func(context.Context, http.ResponseWriter, interface{}) error {
	return func(_ context.Context, rw http.ResponseWriter, response interface{}) error {
		data, err := json.Marshal(response)
		if err != nil {
			return err
		}
		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(code)
		_, err = rw.Write(data)
		return err
	}
}

func encodeHeartbeatResponse(ctx context.Context, rw http.ResponseWriter, response interface{}) error {
	hb, ok := response.(model.Heartbeat)
	if !ok {
		return ErrCasting
	}
	return encodeJSON(http.StatusOK)(ctx, rw, statusResponse{Status: hb.Status, LastSeen: hb.LastSeen})
}

func encodeQueuedResponse(ctx context.Context, rw http.ResponseWriter, response interface{}) error {
	r, ok := response.(*queuedResponse)
	if !ok {
		return ErrCasting
	}
	rw.Header().Set(TaskIDHeaderKey, r.taskID)
	return encodeJSON(http.StatusOK)(ctx, rw, r.result)
}

// encodeUploadResponse answers 201 for a new object and 200 when an
// identical one was already stored.
func encodeUploadResponse(ctx context.Context, rw http.ResponseWriter, response interface{}) error {
	r, ok := response.(model.UploadResult)
	if !ok {
		return ErrCasting
	}
	code := http.StatusCreated
	if r.Deduplicated {
		code = http.StatusOK
	}
	return encodeJSON(code)(ctx, rw, r)
}

func encodeFileResponse(_ context.Context, rw http.ResponseWriter, response interface{}) error {
	f, ok := response.(File)
	if !ok {
		return ErrCasting
	}
	rw.Header().Set("Content-Type", f.ContentType)
	rw.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	rw.WriteHeader(http.StatusOK)
	_, err := rw.Write(f.Data)
	return err
}
