package orchestrator

import (
	"log/slog"
	"sync"
)

// ============================================================================
// Notification Hub (spec.md §4.1)
// ============================================================================
//
// Synchronous fan-out point for ModelResults and IMU events. Each event kind
// has its own subscriber list, copied under lock before dispatch so a
// subscriber that (un)subscribes from inside its own callback never
// deadlocks and never observes a torn list. Publishing invokes every
// subscriber synchronously, in registration order, on the publisher's own
// goroutine — a slow subscriber blocks the publisher, by design (spec.md §9:
// "do not silently thread-pool subscribers").
//
// Grounded on state_ws.go's Hub.clients map (lock-protected registry,
// iterate-under-lock, evict-on-failure), generalized from "one channel of
// serialized bytes" to "one typed callback list per event kind" since this
// hub calls in-process Go code, not a websocket wire.
// ============================================================================

// ImuConnectionEvent is published on connect/disconnect.
type ImuConnectionEvent struct {
	Connected      bool
	RemoteEndpoint string
}

// ImuStateEvent is published whenever the device reports an ON/OFF transition.
type ImuStateEvent struct {
	IsOn bool
}

// ImuSampleEvent wraps a decoded sample for publication.
type ImuSampleEvent struct {
	Sample Sample
}

type (
	resultSubscriber     func(ModelResult)
	connectSubscriber    func(ImuConnectionEvent)
	disconnectSubscriber func(ImuConnectionEvent)
	stateSubscriber      func(ImuStateEvent)
	sampleSubscriber     func(ImuSampleEvent)
)

// subscriberList is a generic, lock-protected, copy-before-dispatch registry
// for a single event kind. Subscriber identity is the handle returned by
// add(): remove is idempotent per handle, but every add registers a new
// entry, so adding the same function twice delivers each event to it twice.
type subscriberList[T any] struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]T
}

func newSubscriberList[T any]() *subscriberList[T] {
	return &subscriberList[T]{subs: make(map[uint64]T)}
}

// add registers fn and returns an opaque handle for Unsubscribe.
func (l *subscriberList[T]) add(fn T) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.next
	l.next++
	l.subs[id] = fn
	return id
}

// remove is idempotent: removing an unknown or already-removed handle is a no-op.
func (l *subscriberList[T]) remove(handle uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, handle)
}

// snapshot copies the current subscriber set in registration order for dispatch.
func (l *subscriberList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.subs) == 0 {
		return nil
	}
	out := make([]T, 0, len(l.subs))
	// Registration order: handles are monotonically increasing, so iterate
	// keys in ascending order rather than relying on Go's randomized map order.
	ids := make([]uint64, 0, len(l.subs))
	for id := range l.subs {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	for _, id := range ids {
		out = append(out, l.subs[id])
	}
	return out
}

// Hub is the Notification Hub described in spec.md §4.1.
type Hub struct {
	logger *slog.Logger

	results      *subscriberList[resultSubscriber]
	connects     *subscriberList[connectSubscriber]
	disconnects  *subscriberList[disconnectSubscriber]
	stateChanges *subscriberList[stateSubscriber]
	samples      *subscriberList[sampleSubscriber]
}

// NewHub constructs a Notification Hub. It requires no Run/background
// goroutine: publishing is synchronous and the hub holds no queue
// (spec.md §4.1: "Publishing is non-blocking (modulo subscriber work)").
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:       logger,
		results:      newSubscriberList[resultSubscriber](),
		connects:     newSubscriberList[connectSubscriber](),
		disconnects:  newSubscriberList[disconnectSubscriber](),
		stateChanges: newSubscriberList[stateSubscriber](),
		samples:      newSubscriberList[sampleSubscriber](),
	}
}

// SubscribeResult registers fn for ResultPublished events and returns an
// unsubscribe handle.
func (h *Hub) SubscribeResult(fn func(ModelResult)) uint64 { return h.results.add(fn) }
func (h *Hub) UnsubscribeResult(handle uint64)              { h.results.remove(handle) }

// SubscribeImuConnected registers fn for ImuConnected events.
func (h *Hub) SubscribeImuConnected(fn func(ImuConnectionEvent)) uint64 { return h.connects.add(fn) }
func (h *Hub) UnsubscribeImuConnected(handle uint64)                    { h.connects.remove(handle) }

// SubscribeImuDisconnected registers fn for ImuDisconnected events.
func (h *Hub) SubscribeImuDisconnected(fn func(ImuConnectionEvent)) uint64 {
	return h.disconnects.add(fn)
}
func (h *Hub) UnsubscribeImuDisconnected(handle uint64) { h.disconnects.remove(handle) }

// SubscribeImuStateUpdated registers fn for ImuStateUpdated events.
func (h *Hub) SubscribeImuStateUpdated(fn func(ImuStateEvent)) uint64 { return h.stateChanges.add(fn) }
func (h *Hub) UnsubscribeImuStateUpdated(handle uint64)               { h.stateChanges.remove(handle) }

// SubscribeImuSampleReceived registers fn for ImuSampleReceived events.
func (h *Hub) SubscribeImuSampleReceived(fn func(ImuSampleEvent)) uint64 { return h.samples.add(fn) }
func (h *Hub) UnsubscribeImuSampleReceived(handle uint64)                { h.samples.remove(handle) }

// notifyResult publishes a ModelResult to all subscribers, in registration
// order, synchronously on the caller's goroutine.
func (h *Hub) notifyResult(r ModelResult) {
	for _, fn := range h.results.snapshot() {
		h.dispatch("result", func() { fn(r) })
	}
}

func (h *Hub) notifyImuConnected(ev ImuConnectionEvent) {
	for _, fn := range h.connects.snapshot() {
		h.dispatch("imu_connected", func() { fn(ev) })
	}
}

func (h *Hub) notifyImuDisconnected(ev ImuConnectionEvent) {
	for _, fn := range h.disconnects.snapshot() {
		h.dispatch("imu_disconnected", func() { fn(ev) })
	}
}

func (h *Hub) notifyImuStateUpdated(ev ImuStateEvent) {
	for _, fn := range h.stateChanges.snapshot() {
		h.dispatch("imu_state_updated", func() { fn(ev) })
	}
}

func (h *Hub) notifyImuSampleReceived(ev ImuSampleEvent) {
	for _, fn := range h.samples.snapshot() {
		h.dispatch("imu_sample_received", func() { fn(ev) })
	}
}

// dispatch invokes fn, recovering and logging any panic so that no
// subscriber failure prevents delivery to later subscribers (spec.md §4.1,
// §7: "Subscriber exception ... Caught and logged; delivery continues").
func (h *Hub) dispatch(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("hub subscriber panicked", "event_kind", kind, "panic", r)
		}
	}()
	fn()
}
