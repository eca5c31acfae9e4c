package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestPipeline() (*Pipeline, *Hub) {
	hub := NewHub(slog.Default())
	imu := NewImuClient(hub, slog.Default())
	handler := NewHandler(imu)
	return NewPipeline(handler, hub, slog.Default()), hub
}

func TestPipelineExecuteReturnsMatchingResult(t *testing.T) {
	p, _ := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	defer p.Stop()

	cmd := NewModelCommand("ctrl-a", CommandStart, "", NewCorrelationID())
	result, err := p.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.CorrelationID != cmd.CorrelationID {
		t.Errorf("CorrelationID = %q, want %q", result.CorrelationID, cmd.CorrelationID)
	}
	if result.Payload.Status != StatusSuccess {
		t.Errorf("status = %s, want Success", result.Payload.Status)
	}
}

func TestPipelineExecuteRequiresCorrelationID(t *testing.T) {
	p, _ := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	cmd := NewModelCommand("ctrl-a", CommandStart, "", "")
	if _, err := p.Execute(context.Background(), cmd); err == nil {
		t.Fatal("expected error for empty correlation id")
	}
}

func TestPipelineExecuteFailsWhenNotRunning(t *testing.T) {
	p, _ := newTestPipeline()
	// Deliberately do not Start the pipeline: Execute must fail fast rather
	// than wait on ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd := NewModelCommand("ctrl-a", CommandStart, "", NewCorrelationID())
	_, err := p.Execute(ctx, cmd)
	if err == nil {
		t.Fatal("expected error when pipeline is not running")
	}
}

func TestPipelineTryEnqueueFailsWhenNotRunning(t *testing.T) {
	p, _ := newTestPipeline()
	cmd := NewModelCommand("ctrl-a", CommandStart, "", "")
	if p.TryEnqueue(cmd) {
		t.Fatal("expected TryEnqueue to fail before Start")
	}
}

func TestPipelinePublishesResultBeforeResolvingWaiter(t *testing.T) {
	p, hub := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	var mu sync.Mutex
	publishedBeforeResolve := false

	cmd := NewModelCommand("ctrl-a", CommandStart, "", NewCorrelationID())

	hub.SubscribeResult(func(r ModelResult) {
		if r.CorrelationID != cmd.CorrelationID {
			return
		}
		mu.Lock()
		publishedBeforeResolve = true
		mu.Unlock()
	})

	result, err := p.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	_ = result

	mu.Lock()
	defer mu.Unlock()
	if !publishedBeforeResolve {
		t.Fatal("expected hub subscriber to observe the result (published before Execute's waiter resolves)")
	}
}

func TestPipelineSerializesCommands(t *testing.T) {
	p, _ := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	const n = 50
	results := make([]ModelResult, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			cmd := NewModelCommand("ctrl-a", CommandStart, "", NewCorrelationID())
			r, err := p.Execute(context.Background(), cmd)
			if err != nil {
				t.Errorf("Execute %d: %v", i, err)
				return
			}
			results[i] = r
		}()
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if r.Payload.Status == StatusSuccess {
			successCount++
		}
	}
	// Exactly one caller claims ownership (Success); the rest observe AlreadyRunning
	// from the same controller id, since all commands share "ctrl-a".
	if successCount != 1 {
		t.Fatalf("successCount = %d, want exactly one Success result among concurrent starts", successCount)
	}
}

func TestPipelineStopClosesPendingWaiters(t *testing.T) {
	p, _ := newTestPipeline()
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	cmd := NewModelCommand("ctrl-a", CommandStart, "", NewCorrelationID())

	waiter := make(chan ModelResult, 1)
	p.pendingMu.Lock()
	p.pending[cmd.CorrelationID] = waiter
	p.pendingMu.Unlock()

	cancel()
	p.Stop()

	select {
	case _, ok := <-waiter:
		if ok {
			t.Fatal("expected pending waiter channel to be closed, not delivered to")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pending waiter to be closed")
	}
}
