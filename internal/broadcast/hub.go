// Package broadcast owns the live-connection registry and fan-out.
package broadcast

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Message is the wire envelope for every live update.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Subscriber is one live connection. Send must not block indefinitely; an
// error (including a full outbound buffer) is treated as a disconnect.
type Subscriber interface {
	Send(payload []byte) error
	Close()
}

// ErrHubClosed is returned by Subscribe* after Shutdown.
var ErrHubClosed = errors.New("broadcast hub closed")

// Hub is the single owner of all subscriber sets: per-student channels plus
// one admin channel that receives every message. No subscriber table is
// reachable from outside this type.
type Hub struct {
	mu       sync.RWMutex
	students map[string]map[Subscriber]struct{}
	admins   map[Subscriber]struct{}
	closed   bool
	log      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		students: make(map[string]map[Subscriber]struct{}),
		admins:   make(map[Subscriber]struct{}),
		log:      log,
	}
}

// SubscribeStudent registers a connection on one student's channel.
func (h *Hub) SubscribeStudent(studentID string, s Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	set, ok := h.students[studentID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.students[studentID] = set
	}
	set[s] = struct{}{}
	h.log.Debug("student subscribed", zap.String("student_id", studentID))
	return nil
}

// SubscribeAdmin registers a connection on the admin channel.
func (h *Hub) SubscribeAdmin(s Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	h.admins[s] = struct{}{}
	h.log.Debug("admin subscribed")
	return nil
}

// Unsubscribe removes a connection from every channel it appears in.
func (h *Hub) Unsubscribe(s Subscriber) {
	h.mu.Lock()
	for id, set := range h.students {
		if _, ok := set[s]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.students, id)
			}
		}
	}
	delete(h.admins, s)
	h.mu.Unlock()
}

// SendToAll delivers a message to the student's subscribers and every admin.
// A failed send permanently drops that subscriber from all channels but
// never stops delivery to the rest; there is no retry and no ordering
// guarantee across subscribers.
func (h *Hub) SendToAll(studentID string, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshal broadcast", zap.String("type", msg.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return
	}
	targets := make([]Subscriber, 0, len(h.students[studentID])+len(h.admins))
	for s := range h.students[studentID] {
		targets = append(targets, s)
	}
	for s := range h.admins {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var dead []Subscriber
	for _, s := range targets {
		if err := s.Send(payload); err != nil {
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		h.Unsubscribe(s)
		s.Close()
		h.log.Info("pruned dead subscriber", zap.String("student_id", studentID), zap.String("type", msg.Type))
	}
}

// Shutdown closes every connection and rejects further subscriptions.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []Subscriber
	for _, set := range h.students {
		for s := range set {
			all = append(all, s)
		}
	}
	for s := range h.admins {
		all = append(all, s)
	}
	h.students = make(map[string]map[Subscriber]struct{})
	h.admins = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	h.log.Info("broadcast hub closed", zap.Int("connections", len(all)))
}
