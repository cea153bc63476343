// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package api exposes agent registration, heartbeats, status and screenshot
// ingestion over HTTP with go-kit.
package api

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/ingest"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/lookout/objectstore"
	"github.com/xmidt-org/lookout/queue"
	"github.com/xmidt-org/lookout/violation"
	"go.uber.org/zap"
)

// Ingester stores screenshots.
type Ingester interface {
	Ingest(ctx context.Context, id model.AgentID, data []byte, isAlert bool) (model.IngestResult, error)
}

// Uploader stores content addressed files, skipping the write when an
// identical file is already in the folder.
type Uploader interface {
	UploadDeduplicated(ctx context.Context, id model.AgentID, folder string, data []byte) (model.UploadResult, error)
}

// Liveness records heartbeats and answers status questions.
type Liveness interface {
	RecordHeartbeat(ctx context.Context, id model.AgentID, observedAt time.Time) (model.Heartbeat, error)
	Status(ctx context.Context, id model.AgentID) (model.Heartbeat, error)
	Stats() model.FleetStats
}

// Enqueuer accepts uploads to be retried in the background.
type Enqueuer interface {
	Submit(id model.AgentID, data []byte, upload queue.UploadFunc, maxRetries int) (*queue.Handle, error)
	Status() queue.Status
}

// SecurityAlert is published on notify.TopicSecurityAlert when a clipboard
// holds an address that is not whitelisted.
type SecurityAlert struct {
	AgentID  model.AgentID       `json:"agentId"`
	Findings []violation.Finding `json:"findings"`
	AlertURL string              `json:"alertUrl,omitempty"`
	At       time.Time           `json:"at"`
}

// filesFolder roots every folder handed to UploadFile.
const filesFolder = "files"

const defaultContentType = "application/octet-stream"

var errNoDetector = errors.New("clipboard detection is not configured")

// File is an object read back from the store.
type File struct {
	Data        []byte
	ContentType string
}

// Service is the operations the HTTP layer calls.
type Service struct {
	Agents    agentstore.S
	Ingester  Ingester
	Uploader  Uploader
	Objects   objectstore.S
	Liveness  Liveness
	Queue     Enqueuer
	Detector  *violation.Detector
	Publisher notify.Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *Service) RegisterAgent(ctx context.Context, agent model.Agent) (model.Agent, error) {
	if agent.ID == "" {
		agent.ID = model.AgentID(uuid.NewString())
	}
	agent.Status = model.StatusOffline
	agent.LastHeartbeat = time.Time{}
	agent.CreatedAt = s.now()
	if err := s.Agents.RegisterAgent(ctx, agent); err != nil {
		return model.Agent{}, err
	}
	return agent, nil
}

// UploadFile stores data for a registered agent under files/{folder}.
func (s *Service) UploadFile(ctx context.Context, id model.AgentID, folder string, data []byte) (model.UploadResult, error) {
	if _, err := s.Agents.FindAgent(ctx, id); err != nil {
		return model.UploadResult{}, err
	}
	return s.Uploader.UploadDeduplicated(ctx, id, path.Join(filesFolder, folder), data)
}

// ReadFile returns the object under key with the content type it was
// written with.
func (s *Service) ReadFile(ctx context.Context, key string) (File, error) {
	metadata, err := s.Objects.Stat(ctx, key)
	if err != nil {
		return File{}, err
	}
	data, err := s.Objects.Get(ctx, key)
	if err != nil {
		return File{}, err
	}
	contentType := metadata[objectstore.MetaContentType]
	if contentType == "" {
		contentType = defaultContentType
	}
	return File{Data: data, ContentType: contentType}, nil
}

// Whitelist returns the addresses that never raise a security alert.
func (s *Service) Whitelist() []string {
	if s.Detector == nil {
		return []string{}
	}
	return s.Detector.Whitelist()
}

// ReplaceWhitelist swaps the whole whitelist and returns the stored form.
func (s *Service) ReplaceWhitelist(addresses []string) ([]string, error) {
	if s.Detector == nil {
		return nil, errNoDetector
	}
	s.Detector.Update(addresses)
	whitelist := s.Detector.Whitelist()
	s.logger().Info("clipboard whitelist replaced", zap.Int("addresses", len(whitelist)))
	return whitelist, nil
}

func (s *Service) RecordHeartbeat(ctx context.Context, id model.AgentID, observedAt time.Time) (model.Heartbeat, error) {
	return s.Liveness.RecordHeartbeat(ctx, id, observedAt)
}

func (s *Service) AgentStatus(ctx context.Context, id model.AgentID) (model.Heartbeat, error) {
	return s.Liveness.Status(ctx, id)
}

func (s *Service) OnlineLogs(ctx context.Context, id model.AgentID, limit int) ([]model.OnlineEvent, error) {
	if _, err := s.Agents.FindAgent(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.Agents.OnlineLogs(ctx, id, agentstore.NormalizeLimit(limit))
	if logs == nil && err == nil {
		logs = []model.OnlineEvent{}
	}
	return logs, err
}

func (s *Service) FleetStats() model.FleetStats {
	return s.Liveness.Stats()
}

func (s *Service) QueueStatus() queue.Status {
	return s.Queue.Status()
}

// IngestScreenshot stores the frame now. A clipboard holding an address that
// is not whitelisted turns the frame into an alert.
func (s *Service) IngestScreenshot(ctx context.Context, id model.AgentID, data []byte, isAlert bool, clipboard string) (model.IngestResult, error) {
	findings := s.inspect(clipboard)
	result, err := s.Ingester.Ingest(ctx, id, data, isAlert || len(findings) > 0)
	if len(findings) > 0 {
		s.alert(id, findings, result.AlertURL)
	}
	return result, err
}

// EnqueueUpload hands the frame to the retry queue. Errors that retrying
// cannot fix end the task at once.
func (s *Service) EnqueueUpload(id model.AgentID, data []byte, isAlert bool, clipboard string, maxRetries int) (*queue.Handle, error) {
	findings := s.inspect(clipboard)
	isAlert = isAlert || len(findings) > 0
	upload := func(ctx context.Context, id model.AgentID, data []byte) (model.IngestResult, error) {
		result, err := s.Ingester.Ingest(ctx, id, data, isAlert)
		if errors.Is(err, agentstore.ErrAgentUnknown) || errors.Is(err, ingest.ErrEmptyPayload) {
			return result, backoff.Permanent(err)
		}
		if err == nil && len(findings) > 0 {
			s.alert(id, findings, result.AlertURL)
		}
		return result, err
	}
	return s.Queue.Submit(id, data, upload, maxRetries)
}

func (s *Service) inspect(clipboard string) []violation.Finding {
	if s.Detector == nil || clipboard == "" {
		return nil
	}
	return s.Detector.Detect(clipboard)
}

func (s *Service) alert(id model.AgentID, findings []violation.Finding, alertURL string) {
	s.logger().Warn("clipboard policy violation",
		zap.String("agentID", string(id)),
		zap.Int("addresses", len(findings)),
	)
	if s.Publisher == nil {
		return
	}
	s.Publisher.Publish(notify.TopicSecurityAlert, SecurityAlert{
		AgentID:  id,
		Findings: findings,
		AlertURL: alertURL,
		At:       s.now(),
	})
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Service) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
