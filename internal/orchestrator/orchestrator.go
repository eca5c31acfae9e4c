package orchestrator

import (
	"context"
	"log/slog"
	"sync"
)

// ============================================================================
// Orchestrator (spec.md §4.6)
// ============================================================================
//
// Composes the Hub, IMU Client, Handler, Pipeline, and registered Controllers
// into a running system. Grounded on daemon.go + main.go's top-level wiring:
// a single hierarchical cancellation scope, started/stopped controllers in
// (reverse) registration order, and errgroup-style goroutine supervision at
// the cmd/imu-orchestrator/main.go layer.
// ============================================================================

// Orchestrator owns the wiring and lifecycle described in spec.md §4.6.
type Orchestrator struct {
	logger *slog.Logger

	Hub      *Hub
	Imu      *ImuClient
	Handler  *Handler
	Pipeline *Pipeline

	mu          sync.Mutex
	controllers []Controller
	cancel      context.CancelFunc
	running     bool
	disposed    bool
}

// New constructs an Orchestrator with a fresh Hub, IMU Client, Handler, and
// Pipeline wired together.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	hub := NewHub(logger)
	imu := NewImuClient(hub, logger)
	handler := NewHandler(imu)
	pipeline := NewPipeline(handler, hub, logger)

	return &Orchestrator{
		logger:   logger,
		Hub:      hub,
		Imu:      imu,
		Handler:  handler,
		Pipeline: pipeline,
	}
}

// SetDefaultImuEndpoint configures the endpoint used for start commands that
// carry no endpoint of their own (cmd/imu-orchestrator/config.go's
// IMUConfig.DefaultAddress/DefaultPort). Call before Start.
func (o *Orchestrator) SetDefaultImuEndpoint(address string, port int) {
	o.Handler.SetDefaultEndpoint(address, port)
}

// RegisterController appends c to the controller list (deduplicated by
// identity), subscribes its command emission to the pipeline, and attaches
// the pipeline to controllers that need request/response rendezvous.
func (o *Orchestrator) RegisterController(c Controller) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, existing := range o.controllers {
		if existing == c {
			return
		}
	}
	o.controllers = append(o.controllers, c)
	c.OnCommand(o.Pipeline.TryEnqueue)
	if pa, ok := c.(pipelineAware); ok {
		pa.attachPipeline(o.Pipeline)
	}
}

// UnregisterController removes c from the controller list, detaches the
// pipeline, and releases any ownership it held. It does NOT disconnect the
// IMU (spec.md §4.6).
func (o *Orchestrator) UnregisterController(c Controller) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	idx := -1
	for i, existing := range o.controllers {
		if existing == c {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	o.controllers = append(o.controllers[:idx], o.controllers[idx+1:]...)

	if pa, ok := c.(pipelineAware); ok {
		pa.detachPipeline()
	}
	o.Handler.ReleaseOwnership(c.ID())
	return true
}

// Start brings the pipeline and all registered controllers up, in
// registration order. On any controller failure it unwinds what was already
// started, in reverse order, and returns false.
func (o *Orchestrator) Start(ctx context.Context) bool {
	o.mu.Lock()
	if o.running || o.disposed {
		o.mu.Unlock()
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	controllers := append([]Controller(nil), o.controllers...)
	o.mu.Unlock()

	o.Pipeline.Start(runCtx)

	started := make([]Controller, 0, len(controllers))
	for _, c := range controllers {
		if !c.Start(runCtx) {
			o.logger.Error("orchestrator: controller failed to start", "controller_id", c.ID())
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop()
			}
			cancel()
			o.Pipeline.Stop()
			o.Imu.Disconnect()
			o.Handler.ResetOwnership()

			o.mu.Lock()
			o.running = false
			o.mu.Unlock()
			return false
		}
		started = append(started, c)
	}

	o.mu.Lock()
	o.running = true
	o.mu.Unlock()
	return true
}

// Stop cancels the root scope, stops the pipeline (awaiting drain), stops
// all controllers (errors swallowed), disconnects the IMU, and resets
// ownership. Always disconnects the IMU regardless of who owned it
// (spec.md §9 open question 2).
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	controllers := append([]Controller(nil), o.controllers...)
	o.running = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	o.Pipeline.Stop()

	for i := len(controllers) - 1; i >= 0; i-- {
		if err := controllers[i].Stop(); err != nil {
			o.logger.Warn("orchestrator: controller stop error", "controller_id", controllers[i].ID(), "error", err)
		}
	}

	o.Imu.Disconnect()
	o.Handler.ResetOwnership()
}

// Dispose stops the orchestrator (if running) and marks it permanently
// disposed; it cannot be Start()ed again afterward.
func (o *Orchestrator) Dispose() {
	o.Stop()
	o.mu.Lock()
	o.disposed = true
	o.mu.Unlock()
}

// Snapshot is the domain-stack operational-visibility accessor
// (SPEC_FULL.md §D.2), mirroring the teacher's RequestStateSnapshot round
// trip in spirit without requiring a channel hop.
type Snapshot struct {
	CurrentOwner   string
	HasOwner       bool
	ImuConnected   bool
	ControllersLen int
}

// Snapshot returns a point-in-time view of orchestrator-owned state.
func (o *Orchestrator) Snapshot() Snapshot {
	owner, hasOwner := o.Handler.CurrentOwner()

	o.mu.Lock()
	n := len(o.controllers)
	o.mu.Unlock()

	return Snapshot{
		CurrentOwner:   owner,
		HasOwner:       hasOwner,
		ImuConnected:   o.Imu.IsConnected(),
		ControllersLen: n,
	}
}
