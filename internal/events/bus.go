// Package events is the typed publish/subscribe bus that decouples the
// upload queue and session state from whatever is displaying them.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/metrics"
)

// Name identifies an event kind.
type Name string

const (
	ProjectsUpdated          Name = "projectsUpdated"
	ProjectChanged           Name = "projectChanged"
	ProjectLiteratureChanged Name = "projectLiteratureChanged"
	ProjectPapersChanged     Name = "projectPapersChanged"
)

// Event is a single notification. ProjectID is set for project-scoped events.
type Event struct {
	Name      Name      `json:"name"`
	ProjectID int64     `json:"projectId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	At        time.Time `json:"at"`
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    Name // empty for all events
	handler Handler
}

// Bus fans events out to subscribers in the same process.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	origin string
	logger *logrus.Logger
}

// NewBus creates an empty bus with a fresh origin id.
func NewBus(logger *logrus.Logger) *Bus {
	return &Bus{
		origin: uuid.NewString(),
		logger: logger,
	}
}

// Origin identifies this process on bridged transports.
func (b *Bus) Origin() string {
	return b.origin
}

// Subscribe registers handler for one event name.
// The returned function removes it and may be called more than once.
func (b *Bus) Subscribe(name Name, handler Handler) func() {
	return b.add(name, handler)
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(name Name, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers ev to every matching subscriber. Origin and At are
// filled in when empty.
func (b *Bus) Publish(ev Event) {
	if ev.Origin == "" {
		ev.Origin = b.origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == ev.Name {
			targets = append(targets, s.handler)
		}
	}
	b.mu.RUnlock()

	metrics.BusEventsTotal.WithLabelValues(string(ev.Name)).Inc()

	for _, h := range targets {
		b.deliver(h, ev)
	}
}

func (b *Bus) deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.WithFields(logrus.Fields{
				"event": ev.Name,
				"panic": r,
			}).Error("event handler panicked")
		}
	}()
	h(ev)
}
