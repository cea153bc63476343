// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package inmem

import (
	"context"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xmidt-org/lookout/objectstore"
	"github.com/zeebo/blake3"
)

const defaultURLBase = "inmem://objects"

type object struct {
	data         []byte
	metadata     map[string]string
	lastModified time.Time
	etag         string
}

type InMem struct {
	data    map[string]object
	lock    sync.RWMutex
	now     func() time.Time
	urlBase string
}

// Option configures an InMem store.
type Option func(*InMem)

// WithClock replaces time.Now as the source of LastModified stamps.
func WithClock(now func() time.Time) Option {
	return func(i *InMem) {
		i.now = now
	}
}

// WithURLBase sets the prefix of the URLs handed out by URL.
func WithURLBase(base string) Option {
	return func(i *InMem) {
		i.urlBase = strings.TrimSuffix(base, "/")
	}
}

func NewInMem(opts ...Option) *InMem {
	i := &InMem{
		data:    map[string]object{},
		now:     time.Now,
		urlBase: defaultURLBase,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *InMem) Put(ctx context.Context, key string, data []byte, metadata map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	obj := object{
		data:         append([]byte(nil), data...),
		metadata:     copyMetadata(metadata),
		lastModified: i.now(),
		etag:         hex.EncodeToString(sum[:16]),
	}

	i.lock.Lock()
	defer i.lock.Unlock()
	i.data[key] = obj
	return obj.etag, nil
}

func (i *InMem) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.lock.RLock()
	defer i.lock.RUnlock()
	obj, ok := i.data[key]
	if !ok {
		return nil, objectstore.OperationError{Err: objectstore.ErrObjectNotFound, Key: key, Operation: objectstore.GetType}
	}
	return append([]byte(nil), obj.data...), nil
}

func (i *InMem) Stat(ctx context.Context, key string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.lock.RLock()
	defer i.lock.RUnlock()
	obj, ok := i.data[key]
	if !ok {
		return nil, objectstore.OperationError{Err: objectstore.ErrObjectNotFound, Key: key, Operation: objectstore.StatType}
	}
	return copyMetadata(obj.metadata), nil
}

// List returns the objects under prefix ordered by key.
func (i *InMem) List(ctx context.Context, prefix string) ([]objectstore.ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i.lock.RLock()
	defer i.lock.RUnlock()
	result := []objectstore.ObjectInfo{}
	for k, obj := range i.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		result = append(result, objectstore.ObjectInfo{
			Key:          k,
			LastModified: obj.lastModified,
			ETag:         obj.etag,
		})
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].Key < result[b].Key
	})
	return result, nil
}

// Delete removes key. Deleting a missing key is not an error, matching S3.
func (i *InMem) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.lock.Lock()
	defer i.lock.Unlock()
	delete(i.data, key)
	return nil
}

func (i *InMem) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.lock.Lock()
	defer i.lock.Unlock()
	for _, k := range keys {
		delete(i.data, k)
	}
	return nil
}

func (i *InMem) URL(_ context.Context, key string) (string, error) {
	return i.urlBase + "/" + key, nil
}

// Len reports how many objects are stored.
func (i *InMem) Len() int {
	i.lock.RLock()
	defer i.lock.RUnlock()
	return len(i.data)
}

func copyMetadata(md map[string]string) map[string]string {
	c := make(map[string]string, len(md))
	for k, v := range md {
		c[k] = v
	}
	return c
}
