// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package objectstore

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStoreUnavailable means the backend failed or did not answer in time.
	// Callers treat it as transient.
	ErrStoreUnavailable = errors.New("object store unavailable")

	ErrObjectNotFound = errors.New("object not found")
)

// OperationError records which operation failed on which key.
type OperationError struct {
	Err       error
	Key       string
	Operation string
}

func (e OperationError) Error() string {
	return fmt.Sprintf("objectstore %s %q: %v", e.Operation, e.Key, e.Err)
}

func (e OperationError) Unwrap() error {
	return e.Err
}

// StatusCode lets the go-kit error encoder pick a response code.
func (e OperationError) StatusCode() int {
	if errors.Is(e.Err, ErrObjectNotFound) {
		return http.StatusNotFound
	}
	return http.StatusServiceUnavailable
}

// Unavailable wraps err so that it matches ErrStoreUnavailable, unless it
// already reports a missing object.
func Unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrObjectNotFound) || errors.Is(err, ErrStoreUnavailable) {
		return OperationError{Err: err, Key: key, Operation: op}
	}
	return OperationError{Err: fmt.Errorf("%w: %w", ErrStoreUnavailable, err), Key: key, Operation: op}
}
