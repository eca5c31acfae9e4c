package orchestrator

import (
	"fmt"
	"sync"
)

// ============================================================================
// Command Handler (spec.md §4.3)
// ============================================================================
//
// Executes a ModelCommand against the IMU Client under ownership rules and
// produces a ModelResult. Unlike reducer.go's Reduce() — deliberately pure
// and I/O-free — this handler is NOT pure: spec.md §4.3 requires start/stop
// to call imu_client.Connect/Disconnect synchronously. It keeps the
// teacher's switch-on-type dispatch shape but executes side effects inline
// under the ownership lock (spec.md §5).
// ============================================================================

// Handler is the Command Handler state machine.
type Handler struct {
	mu           sync.Mutex
	currentOwner string // empty means "no controller owns the IMU"
	hasOwner     bool

	imu *ImuClient

	defaultAddress string
	defaultPort    int
	hasDefault     bool

	pubMu          sync.Mutex
	pendingPublish func() // set by handleStart on a successful connect; see TakePendingPublish
}

// NewHandler constructs a Command Handler bound to imu.
func NewHandler(imu *ImuClient) *Handler {
	return &Handler{imu: imu}
}

// SetDefaultEndpoint configures the endpoint a start command connects to when
// it carries no endpoint of its own (cmd/imu-orchestrator/config.go's
// IMUConfig.DefaultAddress/DefaultPort) — the orchestrator-wide fallback for controllers, such as the
// HTTP adapter, that issue endpoint-less start commands.
func (h *Handler) SetDefaultEndpoint(address string, port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.defaultAddress = address
	h.defaultPort = port
	h.hasDefault = true
}

// TakePendingPublish returns and clears the ImuConnected publication deferred
// by the most recent successful connect-on-start, if any. The Pipeline calls
// this immediately after Handle returns so it can publish the start result
// first and the connect event second (spec.md §8 scenario S6). Direct
// callers of Handle that don't do this simply never observe ImuConnected —
// use Connect/ImuClient's own events if that matters to them.
func (h *Handler) TakePendingPublish() func() {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()
	fn := h.pendingPublish
	h.pendingPublish = nil
	return fn
}

// Handle executes cmd and returns the resulting ModelResult. It never
// panics; any unexpected condition is converted to a Failed result
// (spec.md §7: "the handler never throws").
func (h *Handler) Handle(cmd ModelCommand) (result ModelResult) {
	defer func() {
		if r := recover(); r != nil {
			result = newResult(cmd, StatusFailed, h.imu.IsConnected(), "", fmt.Sprintf("handler panic: %v", r))
		}
	}()

	switch cmd.Type {
	case CommandStart:
		return h.handleStart(cmd)
	case CommandEnd:
		return h.handleStop(cmd)
	default:
		return newResult(cmd, StatusFailed, h.imu.IsConnected(), "", "Unknown command type")
	}
}

func (h *Handler) handleStart(cmd ModelCommand) ModelResult {
	address, port, hasEndpoint := parseStartPayload(cmd.RawPayload)

	h.mu.Lock()
	defer h.mu.Unlock()

	if !hasEndpoint && h.hasDefault {
		address, port, hasEndpoint = h.defaultAddress, h.defaultPort, true
	}

	if !h.hasOwner {
		if hasEndpoint {
			publish, err := h.imu.ConnectDeferred(address, port)
			if err != nil {
				return newResult(cmd, StatusFailed, h.imu.IsConnected(), "", err.Error())
			}
			h.pubMu.Lock()
			h.pendingPublish = publish
			h.pubMu.Unlock()
		}
		h.currentOwner = cmd.ControllerID
		h.hasOwner = true

		msg := fmt.Sprintf("started by %s", cmd.ControllerID)
		if hasEndpoint {
			msg = fmt.Sprintf("started by %s, connected to %s:%d", cmd.ControllerID, address, port)
		}
		return newResult(cmd, StatusSuccess, h.imu.IsConnected(), msg, "")
	}

	if h.currentOwner == cmd.ControllerID {
		return newResult(cmd, StatusAlreadyRunning, h.imu.IsConnected(), "already running", "")
	}

	return newResult(cmd, StatusOwnershipError, h.imu.IsConnected(), "", "owned by another controller")
}

func (h *Handler) handleStop(cmd ModelCommand) ModelResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasOwner {
		h.imu.Disconnect()
		return newResult(cmd, StatusSuccess, h.imu.IsConnected(), "no owner was assigned", "")
	}

	if h.currentOwner == cmd.ControllerID {
		h.currentOwner = ""
		h.hasOwner = false
		h.imu.Disconnect()
		return newResult(cmd, StatusSuccess, h.imu.IsConnected(), "stopped", "")
	}

	return newResult(cmd, StatusOwnershipError, h.imu.IsConnected(), "", "owned by another controller")
}

// ReleaseOwnership clears ownership if controllerID currently owns the IMU
// session. It does NOT disconnect (spec.md §4.3) — used when a controller
// unregisters from the Orchestrator.
func (h *Handler) ReleaseOwnership(controllerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hasOwner && h.currentOwner == controllerID {
		h.currentOwner = ""
		h.hasOwner = false
	}
}

// ResetOwnership unconditionally clears ownership; used at orchestrator
// teardown, after the IMU client has already been told to disconnect
// (spec.md §9 open question 2: reset always accompanies a disconnect, it
// does not gate on prior ownership).
func (h *Handler) ResetOwnership() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentOwner = ""
	h.hasOwner = false
}

// CurrentOwner reports the current owning controller id, if any.
func (h *Handler) CurrentOwner() (controllerID string, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentOwner, h.hasOwner
}
