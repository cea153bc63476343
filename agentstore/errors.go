// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package agentstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xmidt-org/lookout/model"
)

var (
	// ErrAgentUnknown is matched by every AgentUnknownError.
	ErrAgentUnknown = errors.New("agent unknown")

	// ErrAgentExists is matched by every AgentExistsError.
	ErrAgentExists = errors.New("agent already registered")
)

type AgentUnknownError struct {
	ID model.AgentID
}

func (e AgentUnknownError) Error() string {
	return fmt.Sprintf("agent %q is not registered", e.ID)
}

func (e AgentUnknownError) Unwrap() error {
	return ErrAgentUnknown
}

func (e AgentUnknownError) StatusCode() int {
	return http.StatusNotFound
}

type AgentExistsError struct {
	ID model.AgentID
}

func (e AgentExistsError) Error() string {
	return fmt.Sprintf("agent %q is already registered", e.ID)
}

func (e AgentExistsError) Unwrap() error {
	return ErrAgentExists
}

func (e AgentExistsError) StatusCode() int {
	return http.StatusConflict
}

// SanitizedError keeps the backend error for logs while exposing only
// ErrHTTP to clients.
type SanitizedError struct {
	Err     error
	ErrHTTP error
}

func (s SanitizedError) Error() string {
	return s.Err.Error()
}

func (s SanitizedError) Unwrap() error {
	return s.Err
}

// SanitizedError is the message safe to hand to clients.
func (s SanitizedError) SanitizedError() string {
	return s.ErrHTTP.Error()
}

func (s SanitizedError) StatusCode() int {
	var coder interface{ StatusCode() int }
	if errors.As(s.ErrHTTP, &coder) {
		return coder.StatusCode()
	}
	return http.StatusServiceUnavailable
}
