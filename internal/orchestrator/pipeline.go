package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ============================================================================
// Command Pipeline (spec.md §4.4)
// ============================================================================
//
// Serializes command execution (single processor goroutine, at-most-one
// command in the handler at a time) and delivers results (single dispatcher
// goroutine, so publish order equals enqueue order). Grounded on daemon.go's
// runDaemon explicit-queue-draining shape, generalized from one select loop
// into two goroutines per spec.md §5 ("parallel worker tasks, not
// cooperative single-threaded"). The pending correlation table is the
// "single-producer/single-consumer signaling primitive per entry" spec.md §9
// calls for: one buffered-1 channel per pending correlation id.
// ============================================================================

// Pipeline is the Command Pipeline.
type Pipeline struct {
	logger *slog.Logger

	handler *Handler
	hub     *Hub

	commandQueue chan ModelCommand
	resultQueue  chan pendingResult

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]chan ModelResult
}

// pendingResult pairs a ModelResult with an optional event publication that
// must go out only after the result itself has been dispatched (spec.md §8
// scenario S6: a start result precedes its ImuConnected event).
type pendingResult struct {
	result  ModelResult
	publish func()
}

// NewPipeline constructs a Pipeline. Queues are unbounded in the source
// (spec.md §9); this implementation uses Go channels sized large enough to
// behave as effectively unbounded for normal command volumes, matching the
// "deliberate simplification" the spec calls out.
func NewPipeline(handler *Handler, hub *Hub, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:       logger,
		handler:      handler,
		hub:          hub,
		commandQueue: make(chan ModelCommand, 4096),
		resultQueue:  make(chan pendingResult, 4096),
		pending:      make(map[string]chan ModelResult),
	}
}

// Start launches the processor and dispatcher goroutines under ctx.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(2)
	go p.runProcessor(runCtx)
	go p.runDispatcher(runCtx)
}

// Stop cancels both workers, waits for them to drain, and cancels all
// outstanding pending correlation slots.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	p.pendingMu.Lock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
	p.pendingMu.Unlock()
}

// TryEnqueue pushes cmd onto the command queue. It returns false only if the
// pipeline is stopped or the queue is momentarily full (spec.md §9's
// documented overflow semantics).
func (p *Pipeline) TryEnqueue(cmd ModelCommand) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}

	select {
	case p.commandQueue <- cmd:
		return true
	default:
		return false
	}
}

// Execute enqueues cmd and blocks until its ModelResult is dispatched, or
// until ctx is canceled. cmd.CorrelationID must be non-empty.
func (p *Pipeline) Execute(ctx context.Context, cmd ModelCommand) (ModelResult, error) {
	if cmd.CorrelationID == "" {
		return ModelResult{}, fmt.Errorf("pipeline: execute requires a correlation id")
	}

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return ModelResult{}, fmt.Errorf("pipeline: not running")
	}

	waiter := make(chan ModelResult, 1)

	p.pendingMu.Lock()
	if _, exists := p.pending[cmd.CorrelationID]; exists {
		p.pendingMu.Unlock()
		return ModelResult{}, fmt.Errorf("pipeline: duplicate correlation id %q", cmd.CorrelationID)
	}
	p.pending[cmd.CorrelationID] = waiter
	p.pendingMu.Unlock()

	if !p.TryEnqueue(cmd) {
		p.removePending(cmd.CorrelationID)
		return ModelResult{}, fmt.Errorf("pipeline: enqueue failed")
	}

	select {
	case res, ok := <-waiter:
		if !ok {
			return ModelResult{}, fmt.Errorf("pipeline: canceled")
		}
		return res, nil
	case <-ctx.Done():
		p.removePending(cmd.CorrelationID)
		return ModelResult{}, ctx.Err()
	}
}

func (p *Pipeline) removePending(correlationID string) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if ch, ok := p.pending[correlationID]; ok {
		close(ch)
		delete(p.pending, correlationID)
	}
}

// runProcessor is the single command consumer: at-most-one command executes
// in the handler at a time (spec.md §5).
func (p *Pipeline) runProcessor(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-p.commandQueue:
			if !ok {
				return
			}
			result := p.safeHandle(cmd)
			publish := p.handler.TakePendingPublish()
			select {
			case p.resultQueue <- pendingResult{result: result, publish: publish}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// safeHandle guards against a truly uncaught panic escaping the handler
// (the handler itself already converts its own failures to Failed results;
// this is a last-resort backstop, per spec.md §4.4's failure semantics).
func (p *Pipeline) safeHandle(cmd ModelCommand) (result ModelResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline processor: uncaught panic in handler", "panic", r)
			result = newResult(cmd, StatusFailed, false, "", fmt.Sprintf("internal error: %v", r))
		}
	}()
	return p.handler.Handle(cmd)
}

// runDispatcher publishes results via the hub, then any event publication
// the handler deferred for this command (spec.md §8 scenario S6: the start
// result precedes ImuConnected), then resolves any pending correlation
// waiter — all three always happen in that order so synchronous subscribers
// observe results (and any deferred event) before awaiters unblock
// (spec.md §4.4's ordering guarantee).
func (p *Pipeline) runDispatcher(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case pr, ok := <-p.resultQueue:
			if !ok {
				return
			}
			result := pr.result
			p.hub.notifyResult(result)
			if pr.publish != nil {
				pr.publish()
			}

			if result.CorrelationID == "" {
				continue
			}
			p.pendingMu.Lock()
			ch, exists := p.pending[result.CorrelationID]
			if exists {
				delete(p.pending, result.CorrelationID)
			}
			p.pendingMu.Unlock()
			if exists {
				ch <- result
			}
		}
	}
}
