// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity. The
	// caller may retry later.
	ErrQueueFull = errors.New("upload queue is full")

	// ErrQueueStopped rejects submissions to a stopped queue and the tasks
	// still waiting when it stops.
	ErrQueueStopped = errors.New("upload queue is stopped")

	// ErrTaskExpired rejects a task that waited too long to start.
	ErrTaskExpired = errors.New("upload task expired")

	// ErrRetriesExhausted rejects a task whose every attempt failed.
	ErrRetriesExhausted = errors.New("upload retries exhausted")

	ErrNilUploadFunc = errors.New("upload function is required")
)

// RetriesExhaustedError matches both ErrRetriesExhausted and the error of the
// last attempt.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Err)
}

func (e RetriesExhaustedError) Unwrap() []error {
	return []error{ErrRetriesExhausted, e.Err}
}
