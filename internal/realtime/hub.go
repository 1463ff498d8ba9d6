// Package realtime fans practice-session events out to live subscribers.
package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the grading pipeline.
const (
	EventAttemptGraded = "attempt.graded"
	EventGradingFailed = "grading.failed"
	EventSessionDone   = "session.finalized"
)

// Event is one notification about a practice session.
type Event struct {
	Type      string    `json:"type"`
	SessionID int64     `json:"session_id"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

const defaultBuffer = 16

// Hub delivers events to subscribers of a session. Publishing never blocks;
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]map[*Subscription]struct{}
	buffer int
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{subs: make(map[int64]map[*Subscription]struct{}), buffer: buffer}
}

// Subscription receives a session's events on C until Close.
type Subscription struct {
	C         <-chan Event
	ch        chan Event
	hub       *Hub
	sessionID int64
	once      sync.Once
}

// Subscribe registers a new subscriber for the session.
func (h *Hub) Subscribe(sessionID int64) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, sessionID: sessionID}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	return s
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.sessionID)
			}
		}
		close(s.ch)
	})
}

// Publish sends ev to every current subscriber of its session.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.SessionID] {
		select {
		case s.ch <- ev:
		default:
			slog.Warn("realtime subscriber lagging, event dropped",
				"session_id", ev.SessionID,
				"type", ev.Type,
			)
		}
	}
}

// Subscribers returns how many subscribers the session has.
func (h *Hub) Subscribers(sessionID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
