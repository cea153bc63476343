// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package ingest accepts screenshots from agents. Every upload holds an
// admission lease and the agent's lock while it writes, the agent's current
// frame is always overwritten, and alert frames are archived under
// write-once keys that a background cleaner expires.
package ingest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/xmidt-org/lookout/admission"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/keylock"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/notify"
	"github.com/xmidt-org/lookout/objectstore"
	"go.uber.org/zap"
)

const contentType = "image/jpeg"

var (
	ErrNilStore      = errors.New("object store is required")
	ErrNilAgents     = errors.New("agent store is required")
	ErrNilAdmission  = errors.New("admission controller is required")
	ErrNilSerializer = errors.New("serializer is required")
	ErrEmptyPayload  = errors.New("screenshot payload is empty")
)

type Config struct {
	// AlertRetention is how long archived alerts are kept.
	// (Optional). Defaults to 30 days.
	AlertRetention time.Duration

	// CleanupWorkers is the number of goroutines running retention cleanups.
	// (Optional). Defaults to 2.
	CleanupWorkers int

	// CleanupBuffer is how many cleanups may wait for a worker.
	// (Optional). Defaults to 100.
	CleanupBuffer int

	// AutoRegister creates unknown agents on first upload instead of failing
	// with agentstore.ErrAgentUnknown.
	AutoRegister bool
}

// Toucher refreshes an agent's liveness. It must not fail.
type Toucher interface {
	Touch(ctx context.Context, id model.AgentID, observedAt time.Time)
}

// Dependencies are the collaborators of an Engine. Store, Agents, Admission
// and Serializer are required.
type Dependencies struct {
	Store      objectstore.S
	Agents     agentstore.S
	Admission  *admission.Controller
	Serializer *keylock.Serializer
	Cleaner    *Cleaner
	Liveness   Toucher
	Publisher  notify.Publisher
	Measures   Measures
	Logger     *zap.Logger
	Now        func() time.Time
}

type Engine struct {
	store        objectstore.S
	agents       agentstore.S
	admission    *admission.Controller
	serializer   *keylock.Serializer
	cleaner      *Cleaner
	liveness     Toucher
	publisher    notify.Publisher
	measures     Measures
	logger       *zap.Logger
	now          func() time.Time
	autoRegister bool
}

// ScreenshotEvent is published on notify.TopicScreenshot after every
// successful ingest.
type ScreenshotEvent struct {
	AgentID    model.AgentID `json:"agentId"`
	CurrentURL string        `json:"currentUrl"`
	AlertURL   string        `json:"alertUrl,omitempty"`
	Archived   bool          `json:"archived"`
}

func NewEngine(config Config, deps Dependencies) (*Engine, error) {
	switch {
	case deps.Store == nil:
		return nil, ErrNilStore
	case deps.Agents == nil:
		return nil, ErrNilAgents
	case deps.Admission == nil:
		return nil, ErrNilAdmission
	case deps.Serializer == nil:
		return nil, ErrNilSerializer
	}
	validateConfig(&config)
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.NopPublisher{}
	}
	if deps.Cleaner == nil {
		deps.Cleaner = NewCleaner(config, deps.Store, deps.Now, deps.Measures, deps.Logger)
	}
	return &Engine{
		store:        deps.Store,
		agents:       deps.Agents,
		admission:    deps.Admission,
		serializer:   deps.Serializer,
		cleaner:      deps.Cleaner,
		liveness:     deps.Liveness,
		publisher:    deps.Publisher,
		measures:     deps.Measures,
		logger:       deps.Logger,
		now:          deps.Now,
		autoRegister: config.AutoRegister,
	}, nil
}

// Ingest stores a frame for the agent. The current object is always
// overwritten; when isAlert is set the frame is also archived and a retention
// cleanup for the agent is scheduled. Errors match
// admission.ErrCapacityExceeded, objectstore.ErrStoreUnavailable or
// agentstore.ErrAgentUnknown. The store is never retried here.
func (e *Engine) Ingest(ctx context.Context, id model.AgentID, data []byte, isAlert bool) (model.IngestResult, error) {
	if len(data) == 0 {
		return model.IngestResult{}, ErrEmptyPayload
	}
	if _, err := agentstore.EnsureAgent(ctx, e.agents, id, e.autoRegister, e.now()); err != nil {
		return model.IngestResult{}, err
	}

	lease, err := e.admission.TryAcquire()
	if err != nil {
		e.measures.rejected(CurrentType)
		return model.IngestResult{}, err
	}
	defer lease.Release()

	var result model.IngestResult
	err = e.serializer.Do(ctx, string(id), func(ctx context.Context) error {
		var err error
		result, err = e.write(ctx, id, data, isAlert)
		return err
	})
	if err != nil {
		return model.IngestResult{}, err
	}

	e.publisher.Publish(notify.TopicScreenshot, ScreenshotEvent{
		AgentID:    id,
		CurrentURL: result.CurrentURL,
		AlertURL:   result.AlertURL,
		Archived:   result.Archived,
	})
	return result, nil
}

// write runs inside the agent's critical section.
func (e *Engine) write(ctx context.Context, id model.AgentID, data []byte, isAlert bool) (model.IngestResult, error) {
	now := e.now()
	metadata := map[string]string{
		objectstore.MetaContentType: contentType,
		objectstore.MetaAgentID:     string(id),
		objectstore.MetaUploadTime:  strconv.FormatInt(now.UnixMilli(), 10),
	}

	currentKey := CurrentKey(id)
	_, err := e.store.Put(ctx, currentKey, data, metadata)
	e.measures.upload(CurrentType, err)
	if err != nil {
		return model.IngestResult{}, err
	}
	if e.liveness != nil {
		e.liveness.Touch(ctx, id, now)
	}

	var result model.IngestResult
	if result.CurrentURL, err = e.store.URL(ctx, currentKey); err != nil {
		return model.IngestResult{}, err
	}
	if !isAlert {
		return result, nil
	}

	metadata[objectstore.MetaFingerprint] = Fingerprint(data)
	key := alertKey(id, now)
	_, err = e.store.Put(ctx, key, data, metadata)
	e.measures.upload(AlertType, err)
	if err != nil {
		return model.IngestResult{}, err
	}
	if result.AlertURL, err = e.store.URL(ctx, key); err != nil {
		return model.IngestResult{}, err
	}
	result.Archived = true
	e.cleaner.Schedule(id)
	return result, nil
}

// Cleaner exposes the retention cleaner so its lifecycle can be managed.
func (e *Engine) Cleaner() *Cleaner {
	return e.cleaner
}

func validateConfig(config *Config) {
	if config.AlertRetention <= 0 {
		config.AlertRetention = DefaultAlertRetention
	}
	if config.CleanupWorkers <= 0 {
		config.CleanupWorkers = defaultCleanupWorkers
	}
	if config.CleanupBuffer <= 0 {
		config.CleanupBuffer = defaultCleanupBuffer
	}
}
