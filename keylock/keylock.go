// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package keylock serializes work per key without serializing unrelated keys.
package keylock

import (
	"context"
	"sync"
)

type entry struct {
	// sem holds one token while the key is locked.
	sem  chan struct{}
	refs int
}

// Serializer runs at most one function per key at a time. Callers for a busy
// key wait their turn instead of being rejected. Entries are dropped once no
// holder or waiter remains, so the map tracks only active keys.
type Serializer struct {
	lock    sync.Mutex
	entries map[string]*entry
}

func New() *Serializer {
	return &Serializer{entries: map[string]*entry{}}
}

// Do runs fn once every earlier caller for key has finished. If ctx is done
// before the key frees up, fn is not run and ctx.Err() is returned.
func (s *Serializer) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	e := s.acquire(key)
	defer s.release(key, e)

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

// Len reports how many keys are held or waited on.
func (s *Serializer) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

func (s *Serializer) acquire(key string) *entry {
	s.lock.Lock()
	defer s.lock.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		s.entries[key] = e
	}
	e.refs++
	return e
}

func (s *Serializer) release(key string, e *entry) {
	s.lock.Lock()
	defer s.lock.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
}
