// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package agentclient is the HTTP client agents (and the simulator) use to
// talk to lookout.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

var (
	ErrAddressEmpty  = errors.New("lookout address is required")
	ErrAgentIDEmpty  = errors.New("agent ID is required")
	ErrPayloadEmpty  = errors.New("screenshot payload is required")
	ErrBadRequest    = errors.New("lookout rejected the request as invalid")
	ErrAgentUnknown  = errors.New("lookout does not know the agent")
	ErrAgentExists   = errors.New("lookout already has an agent with that id")
	ErrThrottled     = errors.New("lookout is at capacity")
	ErrUnavailable   = errors.New("lookout is unavailable")
	ErrTooLarge      = errors.New("screenshot is too large")
	ErrUploadAborted = errors.New("lookout gave up on the upload")
)

var errNonSuccessResponse = errors.New("lookout responded with a non-success status code")

const (
	apiPath        = "/api/v1"
	errorHeaderKey = "X-Lookout-Error"
	taskIDHeader   = "X-Lookout-Task-Id"
	clipboardKey   = "X-Lookout-Clipboard"
	defaultTimeout = 30 * time.Second
)

// Config contains config data for the client.
type Config struct {
	// Address is the lookout URL (i.e. https://lookout.example.io:6600)
	Address string

	// Timeout bounds every request.
	// (Optional). Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient refers to the client that will be used to send requests.
	// (Optional) Defaults to a client of its own. A given client has its
	// Timeout overwritten.
	HTTPClient *http.Client

	// Logger to be used by the client.
	// (Optional). By default a no op logger will be used.
	Logger *zap.Logger
}

// StatusError is returned for any non-success response.
type StatusError struct {
	Code    int
	Message string
	Err     error
}

func (e StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v: received status %d", e.Err, e.Code)
	}
	return fmt.Sprintf("%v: received status %d: %s", e.Err, e.Code, e.Message)
}

func (e StatusError) Unwrap() error {
	return e.Err
}

// QueuedUpload is the outcome of a screenshot sent through the retry queue.
type QueuedUpload struct {
	TaskID string
	model.IngestResult
}

// Client is the client used to make requests to lookout.
type Client struct {
	rest   *resty.Client
	logger *zap.Logger
}

func NewClient(config Config) (*Client, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	rest := resty.New()
	if config.HTTPClient != nil {
		rest = resty.NewWithClient(config.HTTPClient)
	}
	rest.SetBaseURL(config.Address+apiPath).
		SetTimeout(config.Timeout).
		SetHeader("Accept", "application/json")
	return &Client{rest: rest, logger: config.Logger}, nil
}

// Register creates the agent. An empty ID asks lookout to pick one.
func (c *Client) Register(ctx context.Context, agent model.Agent) (model.Agent, error) {
	var registered model.Agent
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(agent).
		SetResult(&registered).
		Post("/agents")
	if err := c.check(ctx, "Register", resp, err, http.StatusCreated); err != nil {
		return model.Agent{}, err
	}
	return registered, nil
}

// Heartbeat reports the agent alive. A zero observedAt lets the server use
// its own clock.
func (c *Client) Heartbeat(ctx context.Context, id model.AgentID, observedAt time.Time) (model.Heartbeat, error) {
	if id == "" {
		return model.Heartbeat{}, ErrAgentIDEmpty
	}
	req := c.rest.R().SetContext(ctx).SetPathParam("agentID", string(id))
	if !observedAt.IsZero() {
		req.SetBody(map[string]time.Time{"observedAt": observedAt})
	}
	return c.heartbeat(ctx, "Heartbeat", id, req, http.MethodPost, "/agents/{agentID}/heartbeat")
}

func (c *Client) Status(ctx context.Context, id model.AgentID) (model.Heartbeat, error) {
	if id == "" {
		return model.Heartbeat{}, ErrAgentIDEmpty
	}
	req := c.rest.R().SetContext(ctx).SetPathParam("agentID", string(id))
	return c.heartbeat(ctx, "Status", id, req, http.MethodGet, "/agents/{agentID}/status")
}

func (c *Client) heartbeat(ctx context.Context, op string, id model.AgentID, req *resty.Request, method, url string) (model.Heartbeat, error) {
	var body struct {
		Status   model.Status `json:"status"`
		LastSeen time.Time    `json:"lastSeen"`
	}
	resp, err := req.SetResult(&body).Execute(method, url)
	if err := c.check(ctx, op, resp, err, http.StatusOK); err != nil {
		return model.Heartbeat{}, err
	}
	return model.Heartbeat{AgentID: id, Status: body.Status, LastSeen: body.LastSeen}, nil
}

// OnlineLogs fetches the newest transitions first. A limit of zero uses the
// server default.
func (c *Client) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	if id == "" {
		return nil, ErrAgentIDEmpty
	}
	var logs []model.OnlineEvent
	req := c.rest.R().
		SetContext(ctx).
		SetPathParam("agentID", string(id)).
		SetResult(&logs)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	resp, err := req.Get("/agents/{agentID}/logs")
	if err := c.check(ctx, "OnlineLogs", resp, err, http.StatusOK); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) Stats(ctx context.Context) (model.FleetStats, error) {
	var stats model.FleetStats
	resp, err := c.rest.R().SetContext(ctx).SetResult(&stats).Get("/agents/stats")
	if err := c.check(ctx, "Stats", resp, err, http.StatusOK); err != nil {
		return model.FleetStats{}, err
	}
	return stats, nil
}

// UploadScreenshot stores a frame synchronously.
func (c *Client) UploadScreenshot(ctx context.Context, id model.AgentID, data []byte, alert bool, clipboard string) (model.IngestResult, error) {
	req, err := c.screenshotRequest(ctx, id, data, alert, clipboard)
	if err != nil {
		return model.IngestResult{}, err
	}
	var result model.IngestResult
	resp, err := req.SetResult(&result).Put("/agents/{agentID}/screenshot")
	if err := c.check(ctx, "UploadScreenshot", resp, err, http.StatusOK); err != nil {
		return model.IngestResult{}, err
	}
	return result, nil
}

// EnqueueScreenshot sends a frame through the server's retry queue and waits
// for its outcome. A negative maxRetries uses the server default.
func (c *Client) EnqueueScreenshot(ctx context.Context, id model.AgentID, data []byte, alert bool, clipboard string, maxRetries int) (QueuedUpload, error) {
	req, err := c.screenshotRequest(ctx, id, data, alert, clipboard)
	if err != nil {
		return QueuedUpload{}, err
	}
	if maxRetries >= 0 {
		req.SetQueryParam("maxRetries", strconv.Itoa(maxRetries))
	}
	var result model.IngestResult
	resp, err := req.SetResult(&result).Post("/agents/{agentID}/screenshot/queued")
	if err := c.check(ctx, "EnqueueScreenshot", resp, err, http.StatusOK); err != nil {
		return QueuedUpload{}, err
	}
	return QueuedUpload{TaskID: resp.Header().Get(taskIDHeader), IngestResult: result}, nil
}

func (c *Client) screenshotRequest(ctx context.Context, id model.AgentID, data []byte, alert bool, clipboard string) (*resty.Request, error) {
	if id == "" {
		return nil, ErrAgentIDEmpty
	}
	if len(data) == 0 {
		return nil, ErrPayloadEmpty
	}
	req := c.rest.R().
		SetContext(ctx).
		SetPathParam("agentID", string(id)).
		SetHeader("Content-Type", "image/jpeg").
		SetBody(data)
	if alert {
		req.SetQueryParam("alert", "true")
	}
	if clipboard != "" {
		req.SetHeader(clipboardKey, clipboard)
	}
	return req, nil
}

func (c *Client) check(ctx context.Context, op string, resp *resty.Response, err error, expected int) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() == expected {
		return nil
	}

	l := sallust.Get(ctx)
	if l == nil {
		l = c.logger
	}
	msg := resp.Header().Get(errorHeaderKey)
	l.Error("lookout responded with a non-successful status code",
		zap.String("operation", op), zap.Int("code", resp.StatusCode()), zap.String("error", msg))
	return StatusError{
		Code:    resp.StatusCode(),
		Message: msg,
		Err:     translateNonSuccessStatusCode(resp.StatusCode()),
	}
}

func translateNonSuccessStatusCode(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrAgentUnknown
	case http.StatusConflict:
		return ErrAgentExists
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return ErrUploadAborted
	default:
		return errNonSuccessResponse
	}
}

func validateConfig(config *Config) error {
	if config.Address == "" {
		return ErrAddressEmpty
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return nil
}
