// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xmidt-org/lookout/model"
)

const (
	testAgent   model.AgentID = "0c8f2f0e-1c6a-4c59-9f55-2b3a4d5e6f70"
	testTimeout               = 2 * time.Second
	testTick                  = time.Millisecond
)

var (
	testStart = time.Date(2022, time.March, 1, 12, 0, 0, 0, time.UTC)
	errUpload = errors.New("bucket unreachable")
)

func intPtr(i int) *int {
	return &i
}

func newTestMeasures() Measures {
	return Measures{
		Depth:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "depth"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{Name: "in_flight"}),
		Tasks:    prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tasks"}, []string{OutcomeLabel}),
	}
}

func startQueue(t *testing.T, config Config, clk *testclock.Clock, measures Measures) *Queue {
	var q *Queue
	if clk == nil {
		q = New(config, nil, measures, nil)
	} else {
		q = New(config, clk, measures, nil)
	}
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		q.Stop(ctx)
	})
	return q
}

func succeed(result model.IngestResult) UploadFunc {
	return func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		return result, nil
	}
}

func TestValidateConfig(t *testing.T) {
	assert := assert.New(t)
	var c Config
	validateConfig(&c)
	assert.Equal(Config{
		Capacity:            DefaultCapacity,
		MaxConcurrent:       DefaultMaxConcurrent,
		MaxRetries:          intPtr(DefaultMaxRetries),
		BaseDelay:           DefaultBaseDelay,
		MaxDelay:            DefaultMaxDelay,
		TaskExpiry:          DefaultTaskExpiry,
		ExpirySweepInterval: DefaultExpirySweepInterval,
	}, c)

	c = Config{MaxRetries: intPtr(0), BaseDelay: time.Minute, MaxDelay: time.Second}
	validateConfig(&c)
	assert.Equal(0, *c.MaxRetries)
	assert.Equal(time.Minute, c.MaxDelay)
}

func TestBackOffSchedule(t *testing.T) {
	q := New(Config{}, nil, Measures{}, nil)
	b := q.newBackOff()
	expected := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	for _, e := range expected {
		assert.Equal(t, e, b.NextBackOff())
	}
}

func TestSubmitSuccess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	measures := newTestMeasures()
	q := startQueue(t, Config{}, nil, measures)
	expected := model.IngestResult{CurrentURL: "https://cdn.example.com/current.jpg"}

	var got []byte
	h, err := q.Submit(testAgent, []byte("frame"), func(_ context.Context, id model.AgentID, data []byte) (model.IngestResult, error) {
		assert.Equal(testAgent, id)
		got = data
		return expected, nil
	}, -1)
	require.NoError(err)
	assert.NotEmpty(h.ID)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	result, err := h.Wait(ctx)
	require.NoError(err)
	assert.Equal(expected, result)
	assert.Equal([]byte("frame"), got)
	assert.Equal(1.0, testutil.ToFloat64(measures.Tasks.With(prometheus.Labels{OutcomeLabel: SuccessOutcome})))

	require.Eventually(func() bool {
		return q.Status().InFlight == 0
	}, testTimeout, testTick)
}

func TestSubmitValidation(t *testing.T) {
	assert := assert.New(t)
	q := New(Config{}, nil, Measures{}, nil)

	_, err := q.Submit(testAgent, nil, nil, 0)
	assert.ErrorIs(err, ErrNilUploadFunc)

	_, err = q.Submit(testAgent, nil, succeed(model.IngestResult{}), 0)
	assert.ErrorIs(err, ErrQueueStopped, "a queue that was never started accepts nothing")
}

func TestQueueFull(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	measures := newTestMeasures()
	q := startQueue(t, Config{Capacity: 1, MaxConcurrent: 1}, nil, measures)
	gate := make(chan struct{})
	blocked := func(ctx context.Context, _ model.AgentID, _ []byte) (model.IngestResult, error) {
		<-gate
		return model.IngestResult{}, nil
	}

	first, err := q.Submit(testAgent, nil, blocked, 0)
	require.NoError(err)
	require.Eventually(func() bool {
		return q.Status().InFlight == 1
	}, testTimeout, testTick)

	second, err := q.Submit(testAgent, nil, blocked, 0)
	require.NoError(err)
	_, err = q.Submit(testAgent, nil, blocked, 0)
	assert.ErrorIs(err, ErrQueueFull)
	assert.Equal(Status{Size: 1, InFlight: 1, Capacity: 1, MaxConcurrent: 1, Running: true}, q.Status())
	assert.Equal(1.0, testutil.ToFloat64(measures.Depth))
	assert.Equal(1.0, testutil.ToFloat64(measures.Tasks.With(prometheus.Labels{OutcomeLabel: FullOutcome})))

	close(gate)
	for _, h := range []*Handle{first, second} {
		_, err := h.Wait(context.Background())
		assert.NoError(err)
	}
}

func TestRetriesExhausted(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clk := testclock.NewClock(testStart)
	measures := newTestMeasures()
	q := startQueue(t, Config{}, clk, measures)

	var attempts int32
	h, err := q.Submit(testAgent, []byte("frame"), func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		atomic.AddInt32(&attempts, 1)
		return model.IngestResult{}, errUpload
	}, 3)
	require.NoError(err)

	// The expiry sweep always holds one alarm, the pending retry is the other.
	for i, delay := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		require.Eventually(func() bool {
			return atomic.LoadInt32(&attempts) == int32(i+1)
		}, testTimeout, testTick)
		require.NoError(clk.WaitAdvance(delay-time.Millisecond, testTimeout, 2))
		assert.Equal(int32(i+1), atomic.LoadInt32(&attempts), "retried before the backoff elapsed")
		require.NoError(clk.WaitAdvance(time.Millisecond, testTimeout, 2))
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(err, ErrRetriesExhausted)
	assert.ErrorIs(err, errUpload)
	var exhausted RetriesExhaustedError
	require.ErrorAs(err, &exhausted)
	assert.Equal(4, exhausted.Attempts)
	assert.Equal(int32(4), atomic.LoadInt32(&attempts))
	assert.Equal(3.0, testutil.ToFloat64(measures.Tasks.With(prometheus.Labels{OutcomeLabel: RetryOutcome})))
	assert.Equal(1.0, testutil.ToFloat64(measures.Tasks.With(prometheus.Labels{OutcomeLabel: ExhaustedOutcome})))
}

func TestRetriesTakeAtLeastTheBackoff(t *testing.T) {
	require := require.New(t)
	base := 2 * time.Millisecond
	q := startQueue(t, Config{BaseDelay: base, MaxDelay: 20 * time.Millisecond}, nil, Measures{})

	var attempts int32
	start := time.Now()
	h, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		atomic.AddInt32(&attempts, 1)
		return model.IngestResult{}, errUpload
	}, 3)
	require.NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	_, err = h.Wait(ctx)
	require.ErrorIs(err, ErrRetriesExhausted)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))
	assert.GreaterOrEqual(t, time.Since(start), base+2*base+4*base)
}

func TestPermanentFailure(t *testing.T) {
	assert := assert.New(t)
	q := startQueue(t, Config{}, nil, Measures{})
	var attempts int32
	h, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		atomic.AddInt32(&attempts, 1)
		return model.IngestResult{}, backoff.Permanent(errUpload)
	}, 3)
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(err, errUpload)
	assert.NotErrorIs(err, ErrRetriesExhausted)
	assert.Equal(int32(1), atomic.LoadInt32(&attempts))
}

func TestRetriesGoToTheFront(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clk := testclock.NewClock(testStart)
	q := startQueue(t, Config{MaxConcurrent: 1}, clk, Measures{})

	var (
		lock  sync.Mutex
		order []string
		gateA = make(chan struct{})
		gateB = make(chan struct{})
		failA = true
	)
	record := func(name string) {
		lock.Lock()
		defer lock.Unlock()
		order = append(order, name)
	}
	a, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		record("a")
		lock.Lock()
		fail := failA
		failA = false
		lock.Unlock()
		if fail {
			<-gateA
			return model.IngestResult{}, errUpload
		}
		return model.IngestResult{}, nil
	}, 1)
	require.NoError(err)
	b, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		record("b")
		<-gateB
		return model.IngestResult{}, nil
	}, 0)
	require.NoError(err)
	c, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		record("c")
		return model.IngestResult{}, nil
	}, 0)
	require.NoError(err)

	close(gateA)
	require.Eventually(func() bool {
		return q.Status().Delayed == 1 && q.Status().InFlight == 1
	}, testTimeout, testTick)
	require.NoError(clk.WaitAdvance(time.Second, testTimeout, 2))
	require.Eventually(func() bool {
		s := q.Status()
		return s.Delayed == 0 && s.Size == 2
	}, testTimeout, testTick)
	close(gateB)

	for _, h := range []*Handle{a, b, c} {
		_, err := h.Wait(context.Background())
		assert.NoError(err)
	}
	assert.Equal([]string{"a", "b", "a", "c"}, order)
}

func TestExpireStale(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clk := testclock.NewClock(testStart)
	measures := newTestMeasures()
	q := startQueue(t, Config{MaxConcurrent: 1, ExpirySweepInterval: time.Hour}, clk, measures)
	gate := make(chan struct{})
	defer close(gate)

	running, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		<-gate
		return model.IngestResult{}, nil
	}, 0)
	require.NoError(err)
	require.Eventually(func() bool {
		return q.Status().InFlight == 1
	}, testTimeout, testTick)

	waiting, err := q.Submit(testAgent, nil, succeed(model.IngestResult{}), 0)
	require.NoError(err)

	clk.Advance(DefaultTaskExpiry)
	assert.Zero(q.ExpireStale())
	clk.Advance(time.Millisecond)
	assert.Equal(1, q.ExpireStale())

	_, err = waiting.Wait(context.Background())
	assert.ErrorIs(err, ErrTaskExpired)
	assert.Equal(1.0, testutil.ToFloat64(measures.Tasks.With(prometheus.Labels{OutcomeLabel: ExpiredOutcome})))
	select {
	case <-running.Done():
		assert.Fail("a running task must not expire")
	default:
	}
}

func TestStop(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	clk := testclock.NewClock(testStart)
	q := New(Config{MaxConcurrent: 1}, clk, Measures{}, nil)
	require.NoError(q.Start(context.Background()))

	gate := make(chan struct{})
	running, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		<-gate
		return model.IngestResult{}, errUpload
	}, 0)
	require.NoError(err)
	require.Eventually(func() bool {
		return q.Status().InFlight == 1
	}, testTimeout, testTick)
	waiting, err := q.Submit(testAgent, nil, succeed(model.IngestResult{}), 0)
	require.NoError(err)

	stopped := make(chan error)
	go func() {
		stopped <- q.Stop(context.Background())
	}()

	_, err = waiting.Wait(context.Background())
	assert.ErrorIs(err, ErrQueueStopped)

	close(gate)
	require.NoError(<-stopped)
	_, err = running.Wait(context.Background())
	assert.ErrorIs(err, errUpload)
	assert.False(q.Status().Running)

	_, err = q.Submit(testAgent, nil, succeed(model.IngestResult{}), 0)
	assert.ErrorIs(err, ErrQueueStopped)

	require.NoError(q.Start(context.Background()))
	h, err := q.Submit(testAgent, nil, succeed(model.IngestResult{}), 0)
	require.NoError(err)
	_, err = h.Wait(context.Background())
	assert.NoError(err)
	require.NoError(q.Stop(context.Background()))
}

func TestRestartWhileStopIsStillWaiting(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	q := New(Config{MaxConcurrent: 2}, testclock.NewClock(testStart), Measures{}, nil)
	require.NoError(q.Start(context.Background()))

	gate := make(chan struct{})
	stuck, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		<-gate
		return model.IngestResult{}, errUpload
	}, 0)
	require.NoError(err)
	require.Eventually(func() bool {
		return q.Status().InFlight == 1
	}, testTimeout, testTick)

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(q.Stop(expired), context.Canceled)

	require.NoError(q.Start(context.Background()))
	h, err := q.Submit(testAgent, nil, succeed(model.IngestResult{CurrentURL: "u"}), 0)
	require.NoError(err)
	result, err := h.Wait(context.Background())
	require.NoError(err)
	assert.Equal("u", result.CurrentURL)

	close(gate)
	_, err = stuck.Wait(context.Background())
	assert.ErrorIs(err, errUpload)
	require.NoError(q.Stop(context.Background()))
	assert.Zero(q.Status().InFlight)
}

func TestStopRejectsDelayedTasks(t *testing.T) {
	require := require.New(t)
	clk := testclock.NewClock(testStart)
	q := New(Config{}, clk, Measures{}, nil)
	require.NoError(q.Start(context.Background()))

	h, err := q.Submit(testAgent, nil, func(context.Context, model.AgentID, []byte) (model.IngestResult, error) {
		return model.IngestResult{}, errUpload
	}, 5)
	require.NoError(err)
	require.Eventually(func() bool {
		return q.Status().Delayed == 1
	}, testTimeout, testTick)

	require.NoError(q.Stop(context.Background()))
	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, ErrQueueStopped)
	assert.Zero(t, q.Status().Delayed)
}

func TestHandleWaitContext(t *testing.T) {
	h := newHandle("id")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	assert.True(t, h.settle(model.IngestResult{Archived: true}, nil))
	assert.False(t, h.settle(model.IngestResult{}, errUpload))
	result, err := h.Wait(context.Background())
	assert.NoError(t, err)
	assert.True(t, result.Archived)
}
