package orchestrator

import (
	"log/slog"
	"sync"
	"testing"
	"time"
)

// waitUntil polls cond until it returns true or timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func TestHubNotifyResultFansOutToAllSubscribers(t *testing.T) {
	hub := NewHub(slog.Default())

	var mu sync.Mutex
	var got1, got2 []ModelResult

	hub.SubscribeResult(func(r ModelResult) {
		mu.Lock()
		defer mu.Unlock()
		got1 = append(got1, r)
	})
	hub.SubscribeResult(func(r ModelResult) {
		mu.Lock()
		defer mu.Unlock()
		got2 = append(got2, r)
	})

	cmd := NewModelCommand("ctrl", CommandStart, "", "corr-1")
	result := newResult(cmd, StatusSuccess, true, "ok", "")
	hub.notifyResult(result)

	mu.Lock()
	defer mu.Unlock()
	if len(got1) != 1 || len(got2) != 1 {
		t.Fatalf("expected both subscribers to receive one result, got %d and %d", len(got1), len(got2))
	}
	if got1[0].CorrelationID != "corr-1" || got2[0].CorrelationID != "corr-1" {
		t.Errorf("unexpected correlation ids: %q, %q", got1[0].CorrelationID, got2[0].CorrelationID)
	}
}

func TestHubUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := NewHub(slog.Default())

	var mu sync.Mutex
	count := 0

	handle := hub.SubscribeResult(func(r ModelResult) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	cmd := NewModelCommand("ctrl", CommandStart, "", "")
	hub.notifyResult(newResult(cmd, StatusSuccess, true, "", ""))

	hub.UnsubscribeResult(handle)
	hub.UnsubscribeResult(handle) // idempotent: must not panic

	hub.notifyResult(newResult(cmd, StatusSuccess, true, "", ""))

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("count = %d, want 1 (no delivery after unsubscribe)", count)
	}
}

func TestHubDispatchRecoversPanickingSubscriber(t *testing.T) {
	hub := NewHub(slog.Default())

	var mu sync.Mutex
	secondCalled := false

	hub.SubscribeResult(func(r ModelResult) {
		panic("boom")
	})
	hub.SubscribeResult(func(r ModelResult) {
		mu.Lock()
		defer mu.Unlock()
		secondCalled = true
	})

	cmd := NewModelCommand("ctrl", CommandStart, "", "")

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped hub dispatch: %v", r)
			}
		}()
		hub.notifyResult(newResult(cmd, StatusSuccess, true, "", ""))
	}()

	mu.Lock()
	defer mu.Unlock()
	if !secondCalled {
		t.Fatal("expected second subscriber to run despite first subscriber panicking")
	}
}

func TestHubRegistrationOrderDispatch(t *testing.T) {
	hub := NewHub(slog.Default())

	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		hub.SubscribeImuConnected(func(ev ImuConnectionEvent) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		})
	}

	hub.notifyImuConnected(ImuConnectionEvent{Connected: true, RemoteEndpoint: "10.0.0.1:9000"})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("dispatch order = %v, want ascending registration order", order)
		}
	}
}

func TestHubImuConnectionEvents(t *testing.T) {
	hub := NewHub(slog.Default())

	connectedCh := make(chan ImuConnectionEvent, 1)
	disconnectedCh := make(chan ImuConnectionEvent, 1)

	hub.SubscribeImuConnected(func(ev ImuConnectionEvent) { connectedCh <- ev })
	hub.SubscribeImuDisconnected(func(ev ImuConnectionEvent) { disconnectedCh <- ev })

	hub.notifyImuConnected(ImuConnectionEvent{Connected: true, RemoteEndpoint: "1.2.3.4:5"})
	hub.notifyImuDisconnected(ImuConnectionEvent{Connected: false})

	select {
	case ev := <-connectedCh:
		if !ev.Connected || ev.RemoteEndpoint != "1.2.3.4:5" {
			t.Errorf("unexpected connect event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connect event")
	}

	select {
	case ev := <-disconnectedCh:
		if ev.Connected {
			t.Errorf("unexpected disconnect event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect event")
	}
}
