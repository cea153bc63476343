// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xmidt-org/lookout/model"
	"github.com/xmidt-org/lookout/objectstore"
	"go.uber.org/zap"
)

const (
	DefaultAlertRetention = 30 * 24 * time.Hour
	defaultCleanupWorkers = 2
	defaultCleanupBuffer  = 100
)

var (
	ErrCleanerNotStopped = errors.New("retention cleaner is either running or starting")
	ErrCleanerNotRunning = errors.New("retention cleaner is either stopped or stopping")
)

// cleaner states
const (
	stopped int32 = iota
	running
	transitioning
)

// Cleaner deletes archived alerts that outlived the retention horizon. Work
// is handed to a fixed pool of workers through a buffered channel so that
// scheduling never blocks an upload.
type Cleaner struct {
	store     objectstore.S
	retention time.Duration
	workers   int
	now       func() time.Time
	measures  Measures
	logger    *zap.Logger

	work    chan model.AgentID
	lock    sync.Mutex
	pending map[model.AgentID]struct{}

	state  int32
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCleaner(config Config, store objectstore.S, now func() time.Time, measures Measures, logger *zap.Logger) *Cleaner {
	validateConfig(&config)
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		store:     store,
		retention: config.AlertRetention,
		workers:   config.CleanupWorkers,
		now:       now,
		measures:  measures,
		logger:    logger,
		work:      make(chan model.AgentID, config.CleanupBuffer),
		pending:   map[model.AgentID]struct{}{},
	}
}

// Schedule queues a cleanup of the agent's archive folder. A cleanup already
// waiting for the same agent absorbs the request. It returns false if the
// request was dropped because the queue is full.
func (c *Cleaner) Schedule(id model.AgentID) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, ok := c.pending[id]; ok {
		return true
	}
	select {
	case c.work <- id:
		c.pending[id] = struct{}{}
		return true
	default:
		inc(c.measures.RetentionDrops, 1)
		c.logger.Warn("retention cleanup dropped, queue is full", zap.String("agentID", string(id)))
		return false
	}
}

// Sweep deletes the agent's alerts whose age exceeds the retention horizon
// and reports how many were removed.
func (c *Cleaner) Sweep(ctx context.Context, id model.AgentID) (int, error) {
	objects, err := c.store.List(ctx, AlertPrefix(id))
	if err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-c.retention)
	var expired []string
	for _, o := range objects {
		if o.LastModified.Before(cutoff) {
			expired = append(expired, o.Key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := c.store.DeleteMany(ctx, expired); err != nil {
		return 0, err
	}
	inc(c.measures.RetentionDeletes, len(expired))
	return len(expired), nil
}

// Start launches the workers. Calling Start on a running cleaner returns
// ErrCleanerNotStopped.
func (c *Cleaner) Start(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, stopped, transitioning) {
		return ErrCleanerNotStopped
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx)
	}
	atomic.StoreInt32(&c.state, running)
	return nil
}

// Stop cancels in progress cleanups and waits for the workers, or for ctx.
// The cleaner cannot be started again until every worker has exited, even
// when Stop returns early.
func (c *Cleaner) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.state, running, transitioning) {
		return ErrCleanerNotRunning
	}
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		atomic.StoreInt32(&c.state, stopped)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cleaner) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.work:
			c.lock.Lock()
			delete(c.pending, id)
			c.lock.Unlock()

			removed, err := c.Sweep(ctx, id)
			if err != nil {
				c.logger.Error("retention cleanup failed", zap.String("agentID", string(id)), zap.Error(err))
				continue
			}
			if removed > 0 {
				c.logger.Debug("retention cleanup removed alerts", zap.String("agentID", string(id)), zap.Int("removed", removed))
			}
		}
	}
}
