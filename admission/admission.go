// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package admission

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
)

const DefaultMaxConcurrentUploads = 20

// ErrCapacityExceeded is returned by TryAcquire when every lease is taken.
// It is safe for the caller to retry later.
var ErrCapacityExceeded = errors.New("upload capacity exceeded")

// CapacityError carries ErrCapacityExceeded to HTTP clients as a 429.
type CapacityError struct {
	Limit int64
}

func (e CapacityError) Error() string {
	return ErrCapacityExceeded.Error() + ": limit " + strconv.FormatInt(e.Limit, 10)
}

func (e CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

func (e CapacityError) StatusCode() int {
	return http.StatusTooManyRequests
}

func (e CapacityError) Headers() http.Header {
	return http.Header{"Retry-After": []string{"1"}}
}

type Config struct {
	MaxConcurrentUploads int
}

// Controller bounds the number of uploads in flight across the process.
// It never blocks: a caller either gets a Lease or ErrCapacityExceeded.
type Controller struct {
	max      int64
	inFlight atomic.Int64
	measures Measures
}

func New(config Config, measures Measures) *Controller {
	if config.MaxConcurrentUploads <= 0 {
		config.MaxConcurrentUploads = DefaultMaxConcurrentUploads
	}
	return &Controller{
		max:      int64(config.MaxConcurrentUploads),
		measures: measures,
	}
}

// TryAcquire takes a lease if one is free. The lease must be released on
// every exit path, usually with defer.
func (c *Controller) TryAcquire() (*Lease, error) {
	for {
		current := c.inFlight.Load()
		if current >= c.max {
			if c.measures.Rejections != nil {
				c.measures.Rejections.Inc()
			}
			return nil, CapacityError{Limit: c.max}
		}
		if c.inFlight.CompareAndSwap(current, current+1) {
			c.observe(current + 1)
			return &Lease{c: c}, nil
		}
	}
}

// Do runs fn while holding a lease.
func (c *Controller) Do(fn func() error) error {
	lease, err := c.TryAcquire()
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn()
}

func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

func (c *Controller) Capacity() int64 {
	return c.max
}

func (c *Controller) release() {
	c.observe(c.inFlight.Add(-1))
}

func (c *Controller) observe(inFlight int64) {
	if c.measures.InFlight != nil {
		c.measures.InFlight.Set(float64(inFlight))
	}
}

// Lease is permission to perform one upload.
type Lease struct {
	c    *Controller
	once sync.Once
}

// Release returns the lease. Extra calls are no-ops.
func (l *Lease) Release() {
	l.once.Do(l.c.release)
}
