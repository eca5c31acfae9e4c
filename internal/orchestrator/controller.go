package orchestrator

import (
	"context"
	"fmt"
)

// ============================================================================
// Controller Contract (spec.md §4.5)
// ============================================================================

// Controller is the contract any input channel must satisfy to inject
// commands into the Orchestrator. Grounded on actions.go's Action
// abstraction: a stable identity plus a synchronous emission surface.
type Controller interface {
	// ID returns a stable, unique identifier for this controller.
	ID() string

	// OnCommand registers fn to be invoked, synchronously on the
	// controller's own producing goroutine, for every ModelCommand the
	// controller emits. Only one subscriber is expected: the Orchestrator.
	OnCommand(fn func(ModelCommand))

	// Start is called by the Orchestrator when the system starts, in
	// registration order. Returning false aborts startup.
	Start(ctx context.Context) bool

	// Stop is called by the Orchestrator when the system stops, in
	// reverse registration order. Errors are swallowed by the caller.
	Stop() error
}

// pipelineAware is implemented by controllers that need a back-reference
// to the Pipeline for request/response rendezvous (spec.md §9: "attach via
// explicit installer hook on registration; detach on unregister").
type pipelineAware interface {
	attachPipeline(p *Pipeline)
	detachPipeline()
}

// ImuControlResult is the outcome handed back to a synchronous caller of the
// Programmatic Controller.
type ImuControlResult struct {
	Status      ImuControlStatus
	IsConnected bool
	Message     string
	Error       string
}

// ProgrammaticController is the in-process reference Controller
// implementation (spec.md §4.5). Grounded on ipc.go's request/response
// shape (synthesize a correlated request, wait for the matching reply),
// translated from a socket round-trip into a direct Pipeline.Execute call.
type ProgrammaticController struct {
	id       string
	onCmd    func(ModelCommand)
	pipeline *Pipeline
}

// NewProgrammaticController constructs a Programmatic Controller with the
// given stable id.
func NewProgrammaticController(id string) *ProgrammaticController {
	return &ProgrammaticController{id: id}
}

func (c *ProgrammaticController) ID() string { return c.id }

func (c *ProgrammaticController) OnCommand(fn func(ModelCommand)) { c.onCmd = fn }

func (c *ProgrammaticController) Start(ctx context.Context) bool { return true }

func (c *ProgrammaticController) Stop() error { return nil }

func (c *ProgrammaticController) attachPipeline(p *Pipeline) { c.pipeline = p }
func (c *ProgrammaticController) detachPipeline()            { c.pipeline = nil }

// StartImu synthesizes a "start" ModelCommand with a fresh correlation id,
// hands it to the Pipeline via Execute, and projects the resulting
// ImuCommandPayload back into an ImuControlResult.
func (c *ProgrammaticController) StartImu(ctx context.Context, payloadJSON string) (ImuControlResult, error) {
	return c.execute(ctx, CommandStart, payloadJSON)
}

// StopImu synthesizes an "end" ModelCommand the same way StartImu does.
func (c *ProgrammaticController) StopImu(ctx context.Context) (ImuControlResult, error) {
	return c.execute(ctx, CommandEnd, "")
}

func (c *ProgrammaticController) execute(ctx context.Context, cmdType CommandType, payloadJSON string) (ImuControlResult, error) {
	if c.pipeline == nil {
		return ImuControlResult{}, fmt.Errorf("programmatic controller %q: not attached to a pipeline", c.id)
	}

	cmd := NewModelCommand(c.id, cmdType, payloadJSON, NewCorrelationID())

	result, err := c.pipeline.Execute(ctx, cmd)
	if err != nil {
		return ImuControlResult{}, err
	}

	return ImuControlResult{
		Status:      result.Payload.Status,
		IsConnected: result.Payload.IsConnected,
		Message:     result.Payload.Message,
		Error:       result.Error,
	}, nil
}
