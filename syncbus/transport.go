package syncbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/metrics-engine/metrics"
)

// =============================================================================
// TRANSPORT - Device-scoped view of the bus
// =============================================================================

// seenLimit bounds the per-transport dedupe window. Old message ids age
// out FIFO; a replay older than the window would re-deliver, which the
// idempotent merge path absorbs.
const seenLimit = 1024

// MetricsDelta is what OnSync listeners receive.
type MetricsDelta struct {
	SourceDeviceID string
	Records        []metrics.MetricRecord
	IssuedAt       time.Time
}

// UIState is ephemeral dashboard filter/drill-down state. Never persisted
// and never written to the metric store.
type UIState map[string]any

// UIStateChange is what OnUIStateChange listeners receive.
type UIStateChange struct {
	SourceDeviceID string
	State          UIState
	IssuedAt       time.Time
}

// Transport publishes and receives on behalf of one device. Messages this
// device published never reach its own listeners, and each distinct
// message id is delivered to a listener at most once.
type Transport struct {
	deviceID string
	bus      Bus

	mu        sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

// NewTransport creates a transport for a device. Empty deviceID generates
// one.
func NewTransport(deviceID string, bus Bus) *Transport {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return &Transport{
		deviceID: deviceID,
		bus:      bus,
		seen:     make(map[string]struct{}),
	}
}

func (t *Transport) DeviceID() string { return t.deviceID }

// SyncMetrics broadcasts a metric delta to peers. Fire-and-forget: no
// acknowledgment is awaited.
func (t *Transport) SyncMetrics(records []metrics.MetricRecord) error {
	return t.bus.Publish(Message{
		ID:             uuid.NewString(),
		SourceDeviceID: t.deviceID,
		Topic:          TopicMetrics,
		Payload:        append([]metrics.MetricRecord(nil), records...),
		IssuedAt:       time.Now().UTC(),
	})
}

// OnSync registers a listener for metric deltas from other devices.
func (t *Transport) OnSync(cb func(MetricsDelta)) (cancel func()) {
	return t.bus.Subscribe(TopicMetrics, func(msg Message) {
		if !t.accept(msg) {
			return
		}
		records, ok := msg.Payload.([]metrics.MetricRecord)
		if !ok {
			return
		}
		cb(MetricsDelta{
			SourceDeviceID: msg.SourceDeviceID,
			Records:        records,
			IssuedAt:       msg.IssuedAt,
		})
	})
}

// SyncUIState broadcasts ephemeral UI state to peers.
func (t *Transport) SyncUIState(state UIState) error {
	copied := make(UIState, len(state))
	for k, v := range state {
		copied[k] = v
	}
	return t.bus.Publish(Message{
		ID:             uuid.NewString(),
		SourceDeviceID: t.deviceID,
		Topic:          TopicUIState,
		Payload:        copied,
		IssuedAt:       time.Now().UTC(),
	})
}

// OnUIStateChange registers a listener for UI state from other devices.
func (t *Transport) OnUIStateChange(cb func(UIStateChange)) (cancel func()) {
	return t.bus.Subscribe(TopicUIState, func(msg Message) {
		if !t.accept(msg) {
			return
		}
		state, ok := msg.Payload.(UIState)
		if !ok {
			return
		}
		cb(UIStateChange{
			SourceDeviceID: msg.SourceDeviceID,
			State:          state,
			IssuedAt:       msg.IssuedAt,
		})
	})
}

// accept filters own messages (no echo) and duplicate deliveries.
func (t *Transport) accept(msg Message) bool {
	if msg.SourceDeviceID == t.deviceID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.seen[msg.ID]; dup {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.seenOrder = append(t.seenOrder, msg.ID)
	if len(t.seenOrder) > seenLimit {
		oldest := t.seenOrder[0]
		t.seenOrder = t.seenOrder[1:]
		delete(t.seen, oldest)
	}
	return true
}
