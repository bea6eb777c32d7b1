// Package pubsub fans presale lifecycle events out to in-process
// subscribers and optional external sinks.
package pubsub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType names a lifecycle event. It doubles as the AMQP routing key.
type EventType string

// Event types.
const (
	PresaleCreated      EventType = "presale.created"
	PresaleStatus       EventType = "presale.status"
	PresaleUnindexed    EventType = "presale.unindexed"
	SettlementSubmitted EventType = "settlement.submitted"
)

// Event is one lifecycle notification.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	Presale string      `json:"presale"`
	Data    interface{} `json:"data,omitempty"`
	At      time.Time   `json:"at"`
}

// NewEvent stamps an event with a fresh id and the current time.
func NewEvent(typ EventType, presaleAddr string, data interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    typ,
		Presale: presaleAddr,
		Data:    data,
		At:      time.Now().UTC(),
	}
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Sink forwards events outside the process.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}

// Broadcaster delivers events to every subscriber without blocking the
// publisher. A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	sinks  []Sink
	buffer int
	logger zerolog.Logger
}

var _ Publisher = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster with per-subscriber buffers of size buffer.
func NewBroadcaster(logger zerolog.Logger, buffer int, sinks ...Sink) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[string]chan Event),
		sinks:  sinks,
		buffer: buffer,
		logger: logger.With().Str("component", "pubsub").Logger(),
	}
}

// Subscribe registers a subscriber.
//
// Returns:
//   - string: subscriber id
//   - <-chan Event: the event stream, closed by cancel
//   - func(): unsubscribes and closes the stream
func (b *Broadcaster) Subscribe() (string, <-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// Subscribers returns the current subscriber count.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers ev to subscribers and sinks.
func (b *Broadcaster) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().Str("subscriber", id).Str("event", string(ev.Type)).Msg("subscriber buffer full, event dropped")
		}
	}
	b.mu.RUnlock()

	for _, s := range b.sinks {
		if err := s.Send(ctx, ev); err != nil {
			b.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("sink delivery failed")
		}
	}
}
