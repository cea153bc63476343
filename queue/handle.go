// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"

	"github.com/xmidt-org/lookout/model"
)

// Handle is the caller's view of a submitted task. It settles exactly once.
type Handle struct {
	ID string

	once   sync.Once
	done   chan struct{}
	result model.IngestResult
	err    error
}

func newHandle(id string) *Handle {
	return &Handle{ID: id, done: make(chan struct{})}
}

// Done is closed once the task succeeded or was rejected.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the task settles or ctx is done. Giving up on the wait
// does not cancel the task.
func (h *Handle) Wait(ctx context.Context) (model.IngestResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return model.IngestResult{}, ctx.Err()
	}
}

// settle reports whether this call was the one that settled the handle.
func (h *Handle) settle(result model.IngestResult, err error) bool {
	settled := false
	h.once.Do(func() {
		h.result = result
		h.err = err
		settled = true
		close(h.done)
	})
	return settled
}
