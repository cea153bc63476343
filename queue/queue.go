// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package queue is a bounded FIFO of upload tasks drained by a dispatcher
// with a concurrency limit. Failed tasks are retried with exponential backoff
// ahead of fresh work, and tasks that wait too long expire. Every task ends
// in exactly one of success, rejection after its retries, expiry, or
// rejection because the queue stopped.
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/xmidt-org/lookout/model"
	"go.uber.org/zap"
)

const (
	DefaultCapacity            = 1000
	DefaultMaxConcurrent       = 10
	DefaultMaxRetries          = 3
	DefaultBaseDelay           = time.Second
	DefaultMaxDelay            = 10 * time.Second
	DefaultTaskExpiry          = 5 * time.Minute
	DefaultExpirySweepInterval = 30 * time.Second
)

// UploadFunc performs one attempt. Wrapping the returned error with
// backoff.Permanent rejects the task without further retries.
type UploadFunc func(ctx context.Context, id model.AgentID, data []byte) (model.IngestResult, error)

type Config struct {
	// Capacity is the number of tasks that may wait to start.
	// (Optional). Defaults to 1000.
	Capacity int

	// MaxConcurrent is the number of tasks that may run at once.
	// (Optional). Defaults to 10.
	MaxConcurrent int

	// MaxRetries is used when Submit is given a negative maxRetries.
	// (Optional). Defaults to 3.
	MaxRetries *int

	// BaseDelay is the backoff before the first retry. Each further retry
	// doubles it up to MaxDelay.
	// (Optional). Defaults to 1s and 10s.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// TaskExpiry is how long a task may wait to start.
	// (Optional). Defaults to 5 minutes.
	TaskExpiry time.Duration

	// ExpirySweepInterval is how often waiting tasks are checked for expiry.
	// (Optional). Defaults to 30 seconds.
	ExpirySweepInterval time.Duration
}

// Status is a snapshot of the queue.
type Status struct {
	Size          int  `json:"size"`
	Delayed       int  `json:"delayed"`
	InFlight      int  `json:"inFlight"`
	Capacity      int  `json:"capacity"`
	MaxConcurrent int  `json:"maxConcurrent"`
	Running       bool `json:"running"`
}

type task struct {
	id         string
	agentID    model.AgentID
	data       []byte
	upload     UploadFunc
	enqueuedAt time.Time
	retryCount int
	maxRetries int
	backoff    backoff.BackOff
	handle     *Handle
}

// run is one Start to Stop cycle. Each cycle waits on its own goroutines, so
// a Stop that gave up waiting never shares a WaitGroup with a later Start.
type run struct {
	stopped  bool
	shutdown chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type Queue struct {
	config   Config
	clock    clock.Clock
	measures Measures
	logger   *zap.Logger

	lock     sync.Mutex
	cond     *sync.Cond
	waiting  *list.List
	delayed  map[*task]clock.Timer
	inFlight int
	current  *run
}

// New builds a stopped queue. A nil clock means the wall clock.
func New(config Config, clk clock.Clock, measures Measures, logger *zap.Logger) *Queue {
	validateConfig(&config)
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		config:   config,
		clock:    clk,
		measures: measures,
		logger:   logger,
		waiting:  list.New(),
		delayed:  map[*task]clock.Timer{},
	}
	q.cond = sync.NewCond(&q.lock)
	return q
}

// Submit enqueues an upload and returns its handle without waiting for it to
// run. A negative maxRetries selects the configured default.
func (q *Queue) Submit(id model.AgentID, data []byte, upload UploadFunc, maxRetries int) (*Handle, error) {
	if upload == nil {
		return nil, ErrNilUploadFunc
	}
	if maxRetries < 0 {
		maxRetries = *q.config.MaxRetries
	}

	q.lock.Lock()
	defer q.lock.Unlock()
	if q.current == nil {
		q.measures.outcome(StoppedOutcome)
		return nil, ErrQueueStopped
	}
	if q.waiting.Len() >= q.config.Capacity {
		q.measures.outcome(FullOutcome)
		return nil, ErrQueueFull
	}

	t := &task{
		id:         uuid.NewString(),
		agentID:    id,
		data:       data,
		upload:     upload,
		enqueuedAt: q.clock.Now(),
		maxRetries: maxRetries,
		backoff:    q.newBackOff(),
	}
	t.handle = newHandle(t.id)
	q.waiting.PushBack(t)
	q.observe()
	q.cond.Broadcast()
	return t.handle, nil
}

// Start launches the dispatcher and the expiry sweep.
func (q *Queue) Start(_ context.Context) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.current != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		shutdown: make(chan struct{}),
		cancel:   cancel,
	}
	q.current = r
	r.wg.Add(2)
	go q.dispatch(ctx, r)
	go q.expireLoop(r)
	return nil
}

// Stop rejects every task that has not started with ErrQueueStopped and
// waits for running tasks to finish. If ctx ends first, running tasks are
// cancelled and Stop returns without waiting for them.
func (q *Queue) Stop(ctx context.Context) error {
	q.lock.Lock()
	r := q.current
	if r == nil {
		q.lock.Unlock()
		return nil
	}
	q.current = nil
	r.stopped = true
	close(r.shutdown)
	for e := q.waiting.Front(); e != nil; e = e.Next() {
		q.reject(e.Value.(*task), ErrQueueStopped, StoppedOutcome)
	}
	q.waiting.Init()
	for t, timer := range q.delayed {
		timer.Stop()
		q.reject(t, ErrQueueStopped, StoppedOutcome)
		delete(q.delayed, t)
	}
	q.observe()
	q.cond.Broadcast()
	q.lock.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}

// Status reports the queue's current shape.
func (q *Queue) Status() Status {
	q.lock.Lock()
	defer q.lock.Unlock()
	return Status{
		Size:          q.waiting.Len(),
		Delayed:       len(q.delayed),
		InFlight:      q.inFlight,
		Capacity:      q.config.Capacity,
		MaxConcurrent: q.config.MaxConcurrent,
		Running:       q.current != nil,
	}
}

// ExpireStale rejects waiting tasks older than the task expiry and reports
// how many there were. Tasks already running are never expired.
func (q *Queue) ExpireStale() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	now := q.clock.Now()
	expired := 0
	for e := q.waiting.Front(); e != nil; {
		next := e.Next()
		t := e.Value.(*task)
		if age := now.Sub(t.enqueuedAt); age > q.config.TaskExpiry {
			q.waiting.Remove(e)
			q.reject(t, fmt.Errorf("%w: waited %s", ErrTaskExpired, age), ExpiredOutcome)
			expired++
		}
		e = next
	}
	if expired > 0 {
		q.observe()
		q.logger.Warn("expired waiting upload tasks", zap.Int("count", expired))
	}
	return expired
}

func (q *Queue) dispatch(ctx context.Context, r *run) {
	defer r.wg.Done()
	q.lock.Lock()
	defer q.lock.Unlock()
	for {
		for !r.stopped && (q.waiting.Len() == 0 || q.inFlight >= q.config.MaxConcurrent) {
			q.cond.Wait()
		}
		if r.stopped {
			return
		}
		t := q.waiting.Remove(q.waiting.Front()).(*task)
		q.inFlight++
		q.observe()
		r.wg.Add(1)
		go q.execute(ctx, r, t)
	}
}

func (q *Queue) execute(ctx context.Context, r *run, t *task) {
	defer r.wg.Done()
	result, err := t.upload(ctx, t.agentID, t.data)

	q.lock.Lock()
	defer q.lock.Unlock()
	q.inFlight--
	defer q.observe()
	defer q.cond.Broadcast()

	var permanent *backoff.PermanentError
	switch {
	case err == nil:
		t.handle.settle(result, nil)
		q.measures.outcome(SuccessOutcome)
	case errors.As(err, &permanent):
		q.reject(t, permanent.Err, FailedOutcome)
	case t.retryCount >= t.maxRetries:
		q.reject(t, RetriesExhaustedError{Attempts: t.retryCount + 1, Err: err}, ExhaustedOutcome)
	case q.current == nil:
		q.reject(t, fmt.Errorf("%w: %w", ErrQueueStopped, err), StoppedOutcome)
	default:
		delay := t.backoff.NextBackOff()
		t.retryCount++
		q.measures.outcome(RetryOutcome)
		q.logger.Debug("upload failed, retrying",
			zap.String("taskID", t.id),
			zap.String("agentID", string(t.agentID)),
			zap.Int("retry", t.retryCount),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		q.delayed[t] = q.clock.AfterFunc(delay, func() { q.requeue(t) })
	}
}

// requeue puts a task that finished its backoff at the front of the line.
func (q *Queue) requeue(t *task) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if _, ok := q.delayed[t]; !ok {
		return
	}
	delete(q.delayed, t)
	q.waiting.PushFront(t)
	q.observe()
	q.cond.Broadcast()
}

func (q *Queue) expireLoop(r *run) {
	defer r.wg.Done()
	for {
		select {
		case <-r.shutdown:
			return
		case <-q.clock.After(q.config.ExpirySweepInterval):
			q.ExpireStale()
		}
	}
}

func (q *Queue) reject(t *task, err error, outcome string) {
	if t.handle.settle(model.IngestResult{}, err) {
		q.measures.outcome(outcome)
	}
}

// observe must be called with the lock held.
func (q *Queue) observe() {
	q.measures.observe(q.waiting.Len(), q.inFlight)
}

// newBackOff yields min(BaseDelay * 2^n, MaxDelay) for the nth retry.
func (q *Queue) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     q.config.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         q.config.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

func validateConfig(config *Config) {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.MaxRetries == nil || *config.MaxRetries < 0 {
		retries := DefaultMaxRetries
		config.MaxRetries = &retries
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = DefaultBaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = DefaultMaxDelay
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	if config.TaskExpiry <= 0 {
		config.TaskExpiry = DefaultTaskExpiry
	}
	if config.ExpirySweepInterval <= 0 {
		config.ExpirySweepInterval = DefaultExpirySweepInterval
	}
}
