/*
Package syncbus provides the peer-to-peer sync transport: a local pub/sub
bus plus a device-scoped transport for metric deltas and ephemeral UI
state.

PURPOSE:
  Same-user contexts (browser tabs, devices on one machine) replicate state
  without a central broker. The browser's broadcast-channel primitive is
  abstracted here as a topic-scoped bus; the in-process implementation
  serves tests and single-process deployments, and the interface leaves
  room for an OS-level IPC implementation.

DELIVERY SEMANTICS:
  - Fire-and-forget: Publish never waits for receivers.
  - At-least-once: duplicates and reordering are possible; consumers must
    be idempotent (the merge engine is).
  - Cancellation is best-effort: a message already in flight when a
    listener cancels may still fire once.

SEE ALSO:
  - transport.go: Self-message filtering and per-message dedupe
*/
package syncbus

import (
	"sync"
	"time"

	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// BUS - Topic-scoped publish/subscribe
// =============================================================================

type Topic string

const (
	TopicMetrics Topic = "metrics"
	TopicUIState Topic = "ui-state"
)

// Message is the ephemeral transport envelope. Never persisted.
type Message struct {
	ID             string
	SourceDeviceID string
	Topic          Topic
	Payload        any
	IssuedAt       time.Time
}

// Bus broadcasts messages to every subscriber of a topic, including (at
// the bus level) the publisher's own subscriptions. Self-filtering is the
// Transport's job.
type Bus interface {
	// Publish delivers msg to current subscribers without blocking on them.
	// Returns ErrTransportUnavailable when the bus is closed.
	Publish(msg Message) error

	// Subscribe registers fn for a topic. The returned cancel function
	// unregisters it; one in-flight delivery may still arrive after.
	Subscribe(topic Topic, fn func(Message)) (cancel func())

	Close() error
}

// =============================================================================
// IN-PROCESS BUS
// =============================================================================

type InProcessBus struct {
	mu     sync.RWMutex
	nextID int64
	subs   map[Topic]map[int64]func(Message)
	closed bool
}

func NewInProcessBus() *InProcessBus {
	return &InProcessBus{subs: make(map[Topic]map[int64]func(Message))}
}

func (b *InProcessBus) Publish(msg Message) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return metrics.ErrTransportUnavailable
	}
	handlers := make([]func(Message), 0, len(b.subs[msg.Topic]))
	for _, fn := range b.subs[msg.Topic] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		go fn(msg)
	}
	return nil
}

func (b *InProcessBus) Subscribe(topic Topic, fn func(Message)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int64]func(Message))
	}
	b.subs[topic][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

func (b *InProcessBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[Topic]map[int64]func(Message))
	return nil
}
