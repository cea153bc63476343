// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package liveness decides whether agents are reachable. Heartbeats and
// uploads touch an agent, a periodic sweep moves agents that went quiet to
// offline, and reads derive the status on the spot so staleness shows up
// before the next sweep.
package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/xmidt-org/lookout/agentstore"
	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/notify"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultOfflineThreshold = 30 * time.Second
	DefaultSweepInterval    = 30 * time.Second

	reasonHeartbeat = "heartbeat"
	reasonTimeout   = "heartbeat timeout"
)

var ErrNilStore = errors.New("agent store is required")

type Config struct {
	// OfflineThreshold is how long an agent may stay quiet and still be
	// online.
	// (Optional). Defaults to 30 seconds.
	OfflineThreshold time.Duration

	// SweepInterval is how often quiet agents are moved to offline.
	// (Optional). Defaults to 30 seconds.
	SweepInterval time.Duration

	// AutoRegister creates unknown agents on their first heartbeat.
	AutoRegister bool
}

// StatusEvent is published on notify.TopicClientStatus for every transition.
type StatusEvent struct {
	AgentID  model.AgentID `json:"agentId"`
	Status   model.Status  `json:"status"`
	LastSeen time.Time     `json:"lastSeen"`
}

type record struct {
	// lastHeartbeat is in unix nanoseconds, zero if the agent was never seen.
	lastHeartbeat atomic.Int64
	online        atomic.Bool
}

func (r *record) last() time.Time {
	n := r.lastHeartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// advance stores at if it is newer and reports whether it was.
func (r *record) advance(at time.Time) bool {
	n := at.UnixNano()
	for {
		current := r.lastHeartbeat.Load()
		if n <= current {
			return false
		}
		if r.lastHeartbeat.CompareAndSwap(current, n) {
			return true
		}
	}
}

// Tracker holds the liveness of every known agent. Touches for one agent
// commute, so no lock is taken on the heartbeat path.
type Tracker struct {
	records      sync.Map
	store        agentstore.S
	publisher    notify.Publisher
	clock        clock.Clock
	threshold    time.Duration
	autoRegister bool
	measures     Measures
	logger       *zap.Logger
}

func NewTracker(config Config, store agentstore.S, publisher notify.Publisher, clk clock.Clock, measures Measures, logger *zap.Logger) (*Tracker, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	validateConfig(&config)
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:        store,
		publisher:    publisher,
		clock:        clk,
		threshold:    config.OfflineThreshold,
		autoRegister: config.AutoRegister,
		measures:     measures,
		logger:       logger,
	}, nil
}

// Threshold is the configured offline threshold.
func (t *Tracker) Threshold() time.Duration {
	return t.threshold
}

// Touch records that the agent was seen at observedAt. The stored time only
// moves forward. A zero or future observedAt means now. An offline agent
// comes back online only if observedAt is within the offline threshold, so a
// late heartbeat cannot revive an agent that is correctly offline.
// Persistence failures are logged and otherwise ignored.
func (t *Tracker) Touch(ctx context.Context, id model.AgentID, observedAt time.Time) {
	now := t.clock.Now()
	if observedAt.IsZero() || observedAt.After(now) {
		observedAt = now
	}
	r := t.record(id)
	if !r.advance(observedAt) {
		return
	}

	if !t.aged(observedAt, now) && r.online.CompareAndSwap(false, true) {
		t.transition(ctx, id, model.StatusOnline, observedAt, reasonHeartbeat)
		return
	}

	status := model.StatusOffline
	if r.online.Load() {
		status = model.StatusOnline
	}
	if err := t.store.UpdateLastHeartbeat(ctx, id, observedAt, status); err != nil {
		t.measures.persistFailure()
		t.logger.Error("failed to persist heartbeat", zap.String("agentID", string(id)), zap.Error(err))
	}
}

// RecordHeartbeat touches a registered agent and returns its status.
func (t *Tracker) RecordHeartbeat(ctx context.Context, id model.AgentID, observedAt time.Time) (model.Heartbeat, error) {
	if _, ok := t.records.Load(id); !ok {
		agent, err := agentstore.EnsureAgent(ctx, t.store, id, t.autoRegister, t.clock.Now())
		if err != nil {
			return model.Heartbeat{}, err
		}
		t.Load(agent)
	}
	t.Touch(ctx, id, observedAt)
	hb, _ := t.DeriveStatus(id)
	return hb, nil
}

// DeriveStatus reports an agent as offline once its heartbeat has aged past
// the threshold, whether or not a sweep has run yet. It reports false for
// agents the tracker has not seen.
func (t *Tracker) DeriveStatus(id model.AgentID) (model.Heartbeat, bool) {
	v, ok := t.records.Load(id)
	if !ok {
		return model.Heartbeat{}, false
	}
	return t.derive(id, v.(*record), t.clock.Now()), true
}

// Status is DeriveStatus backed by the agent store for agents the tracker has
// not seen yet.
func (t *Tracker) Status(ctx context.Context, id model.AgentID) (model.Heartbeat, error) {
	if hb, ok := t.DeriveStatus(id); ok {
		return hb, nil
	}
	agent, err := t.store.FindAgent(ctx, id)
	if err != nil {
		return model.Heartbeat{}, err
	}
	t.Load(agent)
	hb, _ := t.DeriveStatus(id)
	return hb, nil
}

// Load seeds the tracker with a persisted agent. An agent the tracker already
// knows keeps its state, though a newer heartbeat is taken.
func (t *Tracker) Load(agent model.Agent) {
	r := &record{}
	if !agent.LastHeartbeat.IsZero() {
		r.lastHeartbeat.Store(agent.LastHeartbeat.UnixNano())
	}
	r.online.Store(agent.Status == model.StatusOnline)
	if v, loaded := t.records.LoadOrStore(agent.ID, r); loaded && !agent.LastHeartbeat.IsZero() {
		v.(*record).advance(agent.LastHeartbeat)
	}
}

// LoadAll seeds the tracker with every persisted agent.
func (t *Tracker) LoadAll(ctx context.Context) error {
	agents, err := t.store.ListAgents(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		t.Load(a)
	}
	return nil
}

// Sweep moves every online agent whose heartbeat is older than threshold to
// offline, persists the transition and publishes it. A failure for one agent
// is logged and the sweep carries on; the failures are returned together
// with the number of agents moved. The sweep stops early if ctx is done.
func (t *Tracker) Sweep(ctx context.Context, threshold time.Duration) (int, error) {
	var (
		now          = t.clock.Now()
		transitioned int
		errs         error
	)
	t.records.Range(func(k, v interface{}) bool {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			return false
		}
		id, r := k.(model.AgentID), v.(*record)
		if !r.online.Load() {
			return true
		}
		last := r.last()
		if now.Sub(last) <= threshold || !r.online.CompareAndSwap(true, false) {
			return true
		}
		// A touch may have landed between reading the heartbeat and the swap.
		if latest := r.last(); now.Sub(latest) <= threshold {
			r.online.CompareAndSwap(false, true)
			return true
		}
		transitioned++
		if err := t.transition(ctx, id, model.StatusOffline, last, reasonTimeout); err != nil {
			errs = multierr.Append(errs, err)
		}
		return true
	})
	return transitioned, errs
}

// Stats counts agents by derived status.
func (t *Tracker) Stats() model.FleetStats {
	var (
		now   = t.clock.Now()
		stats model.FleetStats
	)
	t.records.Range(func(k, v interface{}) bool {
		stats.Total++
		if t.derive(k.(model.AgentID), v.(*record), now).Status == model.StatusOnline {
			stats.Online++
		} else {
			stats.Offline++
		}
		return true
	})
	return stats
}

func (t *Tracker) record(id model.AgentID) *record {
	if v, ok := t.records.Load(id); ok {
		return v.(*record)
	}
	v, _ := t.records.LoadOrStore(id, &record{})
	return v.(*record)
}

func (t *Tracker) derive(id model.AgentID, r *record, now time.Time) model.Heartbeat {
	hb := model.Heartbeat{
		AgentID:  id,
		Status:   model.StatusOffline,
		LastSeen: r.last(),
	}
	if r.online.Load() && !t.aged(hb.LastSeen, now) {
		hb.Status = model.StatusOnline
	}
	return hb
}

func (t *Tracker) aged(last, now time.Time) bool {
	return now.Sub(last) > t.threshold
}

// transition persists and publishes a status change that has already been
// applied in memory.
func (t *Tracker) transition(ctx context.Context, id model.AgentID, status model.Status, at time.Time, reason string) error {
	t.measures.transition(string(status))
	logger := t.logger.With(zap.String("agentID", string(id)), zap.String("status", string(status)))
	logger.Info("agent status changed", zap.Time("lastSeen", at), zap.String("reason", reason))

	err := multierr.Append(
		t.store.UpdateLastHeartbeat(ctx, id, at, status),
		t.store.AppendOnlineLog(ctx, model.OnlineEvent{
			AgentID: id,
			Status:  status,
			At:      t.clock.Now(),
			Reason:  reason,
		}),
	)
	if err != nil {
		t.measures.persistFailure()
		logger.Error("failed to persist status change", zap.Error(err))
	}
	t.publisher.Publish(notify.TopicClientStatus, StatusEvent{
		AgentID:  id,
		Status:   status,
		LastSeen: at,
	})
	return err
}

func validateConfig(config *Config) {
	if config.OfflineThreshold <= 0 {
		config.OfflineThreshold = DefaultOfflineThreshold
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
}
