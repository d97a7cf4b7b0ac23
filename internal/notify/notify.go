// Package notify is the notification sink the engines report to and the UI
// reads from.
package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/credo/carbon-engine/internal/model"
)

// DefaultCapacity bounds the number of retained notifications.
const DefaultCapacity = 200

var ErrNotificationNotFound = errors.New("notify: notification not found")

// Sink stores notifications oldest-first and fans new ones out to subscribers.
type Sink struct {
	mu          sync.RWMutex
	items       []model.Notification
	capacity    int
	subscribers []func(model.Notification)
	now         func() time.Time
}

// NewSink creates a sink retaining at most capacity notifications.
// capacity <= 0 selects DefaultCapacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Sink{
		capacity: capacity,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source. Used by tests.
func (s *Sink) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Subscribe registers fn to receive every new notification. fn must not block.
func (s *Sink) Subscribe(fn func(model.Notification)) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Notify records a new unread notification and returns it.
func (s *Sink) Notify(kind model.NotificationKind, title, message string) model.Notification {
	s.mu.Lock()
	n := model.Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Type:      kind,
		Timestamp: s.now(),
	}
	s.items = append(s.items, n)
	if over := len(s.items) - s.capacity; over > 0 {
		s.items = append([]model.Notification(nil), s.items[over:]...)
	}
	subs := make([]func(model.Notification), len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
	return n
}

// MarkRead flips the read flag. Marking an already-read notification is a no-op.
func (s *Sink) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotificationNotFound, id)
}

// ClearAll removes every notification.
func (s *Sink) ClearAll() {
	s.mu.Lock()
	s.items = nil
	s.mu.Unlock()
}

// List returns notifications newest-first.
func (s *Sink) List() []model.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Notification, len(s.items))
	for i, n := range s.items {
		out[len(s.items)-1-i] = n
	}
	return out
}

// Unread counts unread notifications.
func (s *Sink) Unread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}
