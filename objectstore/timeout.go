// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"context"
	"time"
)

// DefaultTimeout bounds every call to the backend.
const DefaultTimeout = 30 * time.Second

type timeoutStore struct {
	S
	timeout time.Duration
}

// WithTimeout decorates s so that every call carries a deadline. Any failure,
// including a deadline being hit, is reported as ErrStoreUnavailable.
func WithTimeout(s S, timeout time.Duration) S {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &timeoutStore{S: s, timeout: timeout}
}

func (t *timeoutStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	etag, err := t.S.Put(ctx, key, data, metadata)
	return etag, Unavailable(PutType, key, err)
}

func (t *timeoutStore) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	data, err := t.S.Get(ctx, key)
	return data, Unavailable(GetType, key, err)
}

func (t *timeoutStore) Stat(ctx context.Context, key string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	md, err := t.S.Stat(ctx, key)
	return md, Unavailable(StatType, key, err)
}

func (t *timeoutStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	objects, err := t.S.List(ctx, prefix)
	return objects, Unavailable(ListType, prefix, err)
}

func (t *timeoutStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return Unavailable(DeleteType, key, t.S.Delete(ctx, key))
}

func (t *timeoutStore) DeleteMany(ctx context.Context, keys []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return Unavailable(DeleteType, "", t.S.DeleteMany(ctx, keys))
}

func (t *timeoutStore) URL(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	u, err := t.S.URL(ctx, key)
	return u, Unavailable(URLType, key, err)
}
