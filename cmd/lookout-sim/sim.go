// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/xmidt-org/lookout/agentclient"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/zap"
)

var errNoAgents = errors.New("at least one agent is required")

// API is the part of agentclient.Client the simulator drives.
type API interface {
	Register(ctx context.Context, agent model.Agent) (model.Agent, error)
	Heartbeat(ctx context.Context, id model.AgentID, observedAt time.Time) (model.Heartbeat, error)
	UploadScreenshot(ctx context.Context, id model.AgentID, data []byte, alert bool, clipboard string) (model.IngestResult, error)
	EnqueueScreenshot(ctx context.Context, id model.AgentID, data []byte, alert bool, clipboard string, maxRetries int) (agentclient.QueuedUpload, error)
}

type SimConfig struct {
	Agents             int
	HeartbeatInterval  time.Duration
	ScreenshotInterval time.Duration

	// AlertRatio is the share of frames flagged as alerts.
	AlertRatio float64

	// ViolationRatio is the share of frames sent with a wallet address on the
	// clipboard.
	ViolationRatio float64

	// Queued sends frames through the server's retry queue.
	Queued     bool
	MaxRetries int

	Width  int
	Height int
}

// Report counts what a run did.
type Report struct {
	Registered        int64 `json:"registered"`
	Heartbeats        int64 `json:"heartbeats"`
	HeartbeatFailures int64 `json:"heartbeatFailures"`
	Uploads           int64 `json:"uploads"`
	UploadFailures    int64 `json:"uploadFailures"`
	Archived          int64 `json:"archived"`
	Violations        int64 `json:"violations"`
}

type counters struct {
	registered, heartbeats, heartbeatFailures atomic.Int64
	uploads, uploadFailures, archived         atomic.Int64
	violations                                atomic.Int64
}

func (c *counters) report() Report {
	return Report{
		Registered:        c.registered.Load(),
		Heartbeats:        c.heartbeats.Load(),
		HeartbeatFailures: c.heartbeatFailures.Load(),
		Uploads:           c.uploads.Load(),
		UploadFailures:    c.uploadFailures.Load(),
		Archived:          c.archived.Load(),
		Violations:        c.violations.Load(),
	}
}

type Simulator struct {
	config SimConfig
	api    API
	clock  clock.Clock
	logger *zap.Logger
	counts counters
}

func NewSimulator(config SimConfig, api API, clk clock.Clock, logger *zap.Logger) (*Simulator, error) {
	if config.Agents <= 0 {
		return nil, errNoAgents
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 10 * time.Second
	}
	if config.ScreenshotInterval <= 0 {
		config.ScreenshotInterval = 30 * time.Second
	}
	if config.Width <= 0 || config.Height <= 0 {
		config.Width, config.Height = 320, 180
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{config: config, api: api, clock: clk, logger: logger}, nil
}

// Run registers the agents and drives them until ctx is done.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	ids := make([]model.AgentID, 0, s.config.Agents)
	for i := 0; i < s.config.Agents; i++ {
		agent, err := s.api.Register(ctx, model.Agent{
			Name:         fmt.Sprintf("sim-%03d", i),
			ComputerName: fmt.Sprintf("SIM-PC-%03d", i),
			IP:           fmt.Sprintf("10.0.%d.%d", i/250, i%250+1),
		})
		if err != nil {
			return s.counts.report(), fmt.Errorf("failed to register agent %d: %w", i, err)
		}
		s.counts.registered.Add(1)
		ids = append(ids, agent.ID)
	}
	s.logger.Info("agents registered", zap.Int("count", len(ids)))

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id model.AgentID) {
			defer wg.Done()
			s.drive(ctx, id)
		}(id)
	}
	wg.Wait()
	return s.counts.report(), nil
}

func (s *Simulator) drive(ctx context.Context, id model.AgentID) {
	logger := s.logger.With(zap.String("agentID", string(id)))
	s.heartbeat(ctx, logger, id)
	heartbeat := s.clock.After(s.config.HeartbeatInterval)
	screenshot := s.clock.After(s.config.ScreenshotInterval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat:
			s.heartbeat(ctx, logger, id)
			heartbeat = s.clock.After(s.config.HeartbeatInterval)
		case <-screenshot:
			s.screenshot(ctx, logger, id)
			screenshot = s.clock.After(s.config.ScreenshotInterval)
		}
	}
}

func (s *Simulator) heartbeat(ctx context.Context, logger *zap.Logger, id model.AgentID) {
	if _, err := s.api.Heartbeat(ctx, id, s.clock.Now()); err != nil {
		if ctx.Err() == nil {
			s.counts.heartbeatFailures.Add(1)
			logger.Warn("heartbeat failed", zap.Error(err))
		}
		return
	}
	s.counts.heartbeats.Add(1)
}

func (s *Simulator) screenshot(ctx context.Context, logger *zap.Logger, id model.AgentID) {
	data, err := frame(s.config.Width, s.config.Height)
	if err != nil {
		logger.Error("failed to render frame", zap.Error(err))
		return
	}
	alert := rand.Float64() < s.config.AlertRatio
	var clipboard string
	if rand.Float64() < s.config.ViolationRatio {
		clipboard = "send to " + walletAddress()
		s.counts.violations.Add(1)
	}

	var result model.IngestResult
	if s.config.Queued {
		var queued agentclient.QueuedUpload
		queued, err = s.api.EnqueueScreenshot(ctx, id, data, alert, clipboard, s.config.MaxRetries)
		result = queued.IngestResult
	} else {
		result, err = s.api.UploadScreenshot(ctx, id, data, alert, clipboard)
	}
	if err != nil {
		if ctx.Err() == nil {
			s.counts.uploadFailures.Add(1)
			logger.Warn("screenshot upload failed", zap.Error(err))
		}
		return
	}
	s.counts.uploads.Add(1)
	if result.Archived {
		s.counts.archived.Add(1)
	}
	logger.Debug("screenshot uploaded", zap.String("url", result.CurrentURL), zap.Bool("archived", result.Archived))
}

// frame renders a JPEG of random bands.
func frame(width, height int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	band := height/8 + 1
	for y := 0; y < height; y++ {
		if y%band == 0 {
			c := color.RGBA{R: uint8(rand.IntN(256)), G: uint8(rand.IntN(256)), B: uint8(rand.IntN(256)), A: 255}
			for yy := y; yy < y+band && yy < height; yy++ {
				for x := 0; x < width; x++ {
					img.SetRGBA(x, yy, c)
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func walletAddress() string {
	const digits = "0123456789abcdef"
	var b strings.Builder
	b.WriteString("0x")
	for i := 0; i < 40; i++ {
		b.WriteByte(digits[rand.IntN(len(digits))])
	}
	return b.String()
}
