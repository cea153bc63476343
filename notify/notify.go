// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

// Package notify fans events out to interested observers. Delivery is best
// effort: a subscriber that falls behind loses events rather than slowing the
// publisher down.
package notify

import "time"

// Topics
const (
	TopicClientStatus  = "client-status-update"
	TopicScreenshot    = "screenshot-update"
	TopicSecurityAlert = "security-alert"
)

// Publisher never blocks and never fails from the caller's point of view.
type Publisher interface {
	Publish(topic string, payload interface{})
}

// Event is what subscribers receive.
type Event struct {
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NopPublisher drops everything.
type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) {}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(topic string, payload interface{})

func (f PublisherFunc) Publish(topic string, payload interface{}) {
	f(topic, payload)
}
