// SPDX-FileCopyrightText: 2021 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xmidt-org/sallust"
	"go.uber.org/zap"
)

const (
	defaultSubscriberBuffer = 64

	writeWait  = 10 * time.Second
	pongDelay  = 90 * time.Second
	pingPeriod = (pongDelay * 9) / 10
)

type HubConfig struct {
	// SubscriberBuffer is how many undelivered events a subscriber may have
	// before new ones are dropped for it.
	SubscriberBuffer int
}

// Hub is a Publisher that forwards events to in-process subscribers and to
// websocket clients.
type Hub struct {
	lock        sync.RWMutex
	subscribers map[uint64]chan Event
	nextID      uint64
	buffer      int
	dropped     atomic.Uint64

	now      func() time.Time
	logger   *zap.Logger
	upgrader websocket.Upgrader
	closed   chan struct{}
	once     sync.Once
	measures Measures
}

func NewHub(config HubConfig, measures Measures, logger *zap.Logger) *Hub {
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = defaultSubscriberBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: map[uint64]chan Event{},
		buffer:      config.SubscriberBuffer,
		now:         time.Now,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		closed:   make(chan struct{}),
		measures: measures,
	}
}

func (h *Hub) Publish(topic string, payload interface{}) {
	e := Event{Topic: topic, Payload: payload, Timestamp: h.now()}
	h.lock.RLock()
	defer h.lock.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- e:
		default:
			h.dropped.Add(1)
			if h.measures.Dropped != nil {
				h.measures.Dropped.Inc()
			}
		}
	}
	if h.measures.Published != nil {
		h.measures.Published.WithLabelValues(topic).Inc()
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called once the subscriber is done; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.lock.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = ch
	h.lock.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.lock.Lock()
			delete(h.subscribers, id)
			h.lock.Unlock()
			close(ch)
		})
	}
}

// Subscribers reports the current number of subscribers.
func (h *Hub) Subscribers() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.subscribers)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close disconnects every websocket client.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.closed)
	})
}

// ServeHTTP upgrades the request to a websocket and streams events to it as
// JSON text messages until either side goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := sallust.Get(r.Context())
	if logger == nil {
		logger = h.logger
	}
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("problem initiating websocket", zap.Error(err))
		return
	}
	defer socket.Close()

	events, cancel := h.Subscribe()
	defer cancel()

	socket.SetReadDeadline(time.Now().Add(pongDelay))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongDelay))
	})
	gone := h.drain(socket)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.closed:
			socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return
		case <-gone:
			return
		case <-ticker.C:
			if err := socket.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				logger.Debug("failed to write ping", zap.Error(err))
				return
			}
		case e := <-events:
			socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := socket.WriteJSON(e); err != nil {
				logger.Debug("failed to write event", zap.String("topic", e.Topic), zap.Error(err))
				return
			}
		}
	}
}

// drain discards client messages so that control frames are processed. The
// returned channel is closed once the client goes away.
func (h *Hub) drain(socket *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := socket.NextReader(); err != nil {
				return
			}
		}
	}()
	return gone
}
