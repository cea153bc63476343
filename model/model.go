// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package model

import "time"

// AgentID is the stable identifier (a UUID) of a remote monitored agent.
type AgentID string

func (id AgentID) String() string {
	return string(id)
}

// Status is the liveness state of an agent.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Agent is the persisted view of a remote agent.
type Agent struct {
	// ID is the agent's UUID.
	ID AgentID `json:"id" dynamodbav:"id"`

	// Name is a human friendly label chosen by an operator.
	Name string `json:"name,omitempty" dynamodbav:"name,omitempty"`

	// ComputerName is the hostname reported by the agent.
	ComputerName string `json:"computerName,omitempty" dynamodbav:"computerName,omitempty"`

	// IP is the last address the agent was seen from.
	IP string `json:"ip,omitempty" dynamodbav:"ip,omitempty"`

	// Status is the last persisted liveness state.
	Status Status `json:"status" dynamodbav:"status"`

	// LastHeartbeat is the last persisted heartbeat time.
	LastHeartbeat time.Time `json:"lastHeartbeat" dynamodbav:"lastHeartbeat"`

	CreatedAt time.Time `json:"createdAt" dynamodbav:"createdAt"`
}

// OnlineEvent is a durable record of an online/offline transition.
type OnlineEvent struct {
	AgentID AgentID   `json:"agentId" dynamodbav:"id"`
	Status  Status    `json:"status" dynamodbav:"status"`
	At      time.Time `json:"at" dynamodbav:"at"`
	Reason  string    `json:"reason,omitempty" dynamodbav:"reason,omitempty"`
}

// LivenessRecord is the in-memory liveness state of one agent.
type LivenessRecord struct {
	AgentID         AgentID   `json:"agentId"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
	State           Status    `json:"state"`
}

// Heartbeat is the answer given to heartbeat and status queries.
type Heartbeat struct {
	AgentID  AgentID   `json:"agentId"`
	Status   Status    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

// IngestResult describes where an ingested screenshot can be fetched from.
type IngestResult struct {
	// CurrentURL always points at the agent's latest frame.
	CurrentURL string `json:"currentUrl"`

	// AlertURL points at the write-once archive copy. Empty unless Archived.
	AlertURL string `json:"alertUrl,omitempty"`

	Archived bool `json:"archived"`
}

// UploadResult is returned by the content-addressed upload primitive.
type UploadResult struct {
	Key          string `json:"key"`
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	Fingerprint  string `json:"fingerprint"`
	Size         int    `json:"size"`
	Deduplicated bool   `json:"deduplicated"`
}

// FleetStats summarizes derived liveness across known agents.
type FleetStats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}
