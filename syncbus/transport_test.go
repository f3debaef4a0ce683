package syncbus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/metrics-engine/metrics"
	"github.com/warp/metrics-engine/syncbus"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const deliveryWait = 2 * time.Second

func testRecord() metrics.MetricRecord {
	return metrics.MetricRecord{
		UserID:     "user-1",
		MetricName: "mood",
		Date:       metrics.NewDayStamp(2026, time.March, 10),
		Value:      metrics.NewMeasurement(7, "score"),
	}
}

func waitDelta(t *testing.T, ch <-chan syncbus.MetricsDelta) syncbus.MetricsDelta {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(deliveryWait):
		t.Fatal("timed out waiting for delivery")
		return syncbus.MetricsDelta{}
	}
}

func assertNoDelta(t *testing.T, ch <-chan syncbus.MetricsDelta) {
	t.Helper()
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery from %s", d.SourceDeviceID)
	case <-time.After(100 * time.Millisecond):
	}
}

// =============================================================================
// PROPAGATION TESTS
// =============================================================================

func TestTransport_MetricsReachOtherDevice(t *testing.T) {
	// GIVEN: Two devices on one bus
	// WHEN: Device A broadcasts a metric delta
	// THEN: Device B receives it with A's device id

	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	a := syncbus.NewTransport("device-a", bus)
	b := syncbus.NewTransport("device-b", bus)

	got := make(chan syncbus.MetricsDelta, 1)
	cancel := b.OnSync(func(d syncbus.MetricsDelta) { got <- d })
	defer cancel()

	require.NoError(t, a.SyncMetrics([]metrics.MetricRecord{testRecord()}))

	d := waitDelta(t, got)
	assert.Equal(t, "device-a", d.SourceDeviceID)
	require.Len(t, d.Records, 1)
	assert.Equal(t, "mood", d.Records[0].MetricName)
}

func TestTransport_NoEcho(t *testing.T) {
	// A device must never receive its own broadcast.
	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	a := syncbus.NewTransport("device-a", bus)

	got := make(chan syncbus.MetricsDelta, 1)
	cancel := a.OnSync(func(d syncbus.MetricsDelta) { got <- d })
	defer cancel()

	require.NoError(t, a.SyncMetrics([]metrics.MetricRecord{testRecord()}))
	assertNoDelta(t, got)
}

func TestTransport_DuplicateMessage_DeliveredOnce(t *testing.T) {
	// GIVEN: The bus redelivers the same message id
	// WHEN: Device B has seen it already
	// THEN: The second delivery is dropped

	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	b := syncbus.NewTransport("device-b", bus)

	got := make(chan syncbus.MetricsDelta, 2)
	cancel := b.OnSync(func(d syncbus.MetricsDelta) { got <- d })
	defer cancel()

	msg := syncbus.Message{
		ID:             "msg-1",
		SourceDeviceID: "device-a",
		Topic:          syncbus.TopicMetrics,
		Payload:        []metrics.MetricRecord{testRecord()},
		IssuedAt:       time.Now().UTC(),
	}
	require.NoError(t, bus.Publish(msg))
	require.NoError(t, bus.Publish(msg))

	waitDelta(t, got)
	assertNoDelta(t, got)
}

func TestTransport_CancelStopsDelivery(t *testing.T) {
	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	a := syncbus.NewTransport("device-a", bus)
	b := syncbus.NewTransport("device-b", bus)

	got := make(chan syncbus.MetricsDelta, 1)
	cancel := b.OnSync(func(d syncbus.MetricsDelta) { got <- d })
	cancel()

	require.NoError(t, a.SyncMetrics([]metrics.MetricRecord{testRecord()}))
	assertNoDelta(t, got)
}

func TestTransport_GeneratedDeviceID(t *testing.T) {
	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	a := syncbus.NewTransport("", bus)
	b := syncbus.NewTransport("", bus)

	assert.NotEmpty(t, a.DeviceID())
	assert.NotEqual(t, a.DeviceID(), b.DeviceID())
}

// =============================================================================
// UI STATE TESTS
// =============================================================================

func TestTransport_UIStateIsolatedFromMetricsTopic(t *testing.T) {
	// GIVEN: Device B listens on both topics
	// WHEN: Device A broadcasts UI state
	// THEN: Only the UI listener fires

	bus := syncbus.NewInProcessBus()
	defer bus.Close()

	a := syncbus.NewTransport("device-a", bus)
	b := syncbus.NewTransport("device-b", bus)

	deltas := make(chan syncbus.MetricsDelta, 1)
	states := make(chan syncbus.UIStateChange, 1)
	defer b.OnSync(func(d syncbus.MetricsDelta) { deltas <- d })()
	defer b.OnUIStateChange(func(c syncbus.UIStateChange) { states <- c })()

	require.NoError(t, a.SyncUIState(syncbus.UIState{"filter": "vitals"}))

	select {
	case c := <-states:
		assert.Equal(t, "vitals", c.State["filter"])
	case <-time.After(deliveryWait):
		t.Fatal("timed out waiting for UI state")
	}
	assertNoDelta(t, deltas)
}

// =============================================================================
// CLOSED BUS TESTS
// =============================================================================

func TestBus_PublishAfterClose_Unavailable(t *testing.T) {
	bus := syncbus.NewInProcessBus()
	a := syncbus.NewTransport("device-a", bus)

	require.NoError(t, bus.Close())

	err := a.SyncMetrics([]metrics.MetricRecord{testRecord()})
	assert.ErrorIs(t, err, metrics.ErrTransportUnavailable)
}
