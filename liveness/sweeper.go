// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package liveness

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
)

var (
	ErrSweeperNotStopped = errors.New("sweeper is either running or starting")
	ErrSweeperNotRunning = errors.New("sweeper is either stopped or stopping")
)

// sweeping states
const (
	stopped int32 = iota
	running
	transitioning
)

// Sweeper runs Tracker.Sweep on an interval until stopped.
type Sweeper struct {
	tracker   *Tracker
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock
	measures  Measures
	logger    *zap.Logger

	state  int32
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(config Config, tracker *Tracker, clk clock.Clock, measures Measures, logger *zap.Logger) *Sweeper {
	validateConfig(&config)
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		tracker:   tracker,
		interval:  config.SweepInterval,
		threshold: config.OfflineThreshold,
		clock:     clk,
		measures:  measures,
		logger:    logger,
	}
}

// Start begins sweeping. If the sweeper is already running, Start returns
// ErrSweeperNotStopped; call Stop first to restart it.
func (s *Sweeper) Start(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stopped, transitioning) {
		s.logger.Error("Start called when the sweeper was not in stopped state", zap.Error(ErrSweeperNotStopped))
		return ErrSweeperNotStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)

	atomic.StoreInt32(&s.state, running)
	return nil
}

// Stop cancels a sweep in progress and waits for the loop to exit, or for ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, running, transitioning) {
		s.logger.Error("Stop called when the sweeper was not in running state", zap.Error(ErrSweeperNotRunning))
		return ErrSweeperNotRunning
	}

	s.cancel()
	var err error
	select {
	case <-s.done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	atomic.StoreInt32(&s.state, stopped)
	return err
}

func (s *Sweeper) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	transitioned, err := s.tracker.Sweep(ctx, s.threshold)
	outcome := SuccessOutcome
	switch {
	case ctx.Err() != nil:
		outcome = CancelledOutcome
	case err != nil:
		outcome = PartialOutcome
		s.logger.Error("offline sweep finished with failures", zap.Int("transitioned", transitioned), zap.Error(err))
	case transitioned > 0:
		s.logger.Debug("offline sweep finished", zap.Int("transitioned", transitioned))
	}
	s.measures.sweep(outcome)
	s.measures.online(s.tracker.Stats().Online)
}
