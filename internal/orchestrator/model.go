package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandType is the set of ModelCommand types the Command Handler understands.
type CommandType string

const (
	CommandStart CommandType = "start"
	CommandEnd   CommandType = "end"
)

// ModelCommand is an immutable record emitted by a Controller and carried
// through the Command Pipeline to the Command Handler.
type ModelCommand struct {
	ControllerID  string      `json:"controller_id"`
	Type          CommandType `json:"type"`
	RawPayload    string      `json:"raw_payload"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// NewModelCommand stamps the timestamp consistently so every Controller
// implementation produces commands the same way.
func NewModelCommand(controllerID string, cmdType CommandType, rawPayload string, correlationID string) ModelCommand {
	return ModelCommand{
		ControllerID:  controllerID,
		Type:          cmdType,
		RawPayload:    rawPayload,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}

// NewCorrelationID mints an opaque correlation id for request/response
// rendezvous (spec.md §4.4, §4.5 Programmatic Controller).
func NewCorrelationID() string {
	return uuid.NewString()
}

// ImuControlStatus is the tagged outcome of a Command Handler evaluation.
type ImuControlStatus string

const (
	StatusSuccess        ImuControlStatus = "Success"
	StatusAlreadyRunning ImuControlStatus = "AlreadyRunning"
	StatusOwnershipError ImuControlStatus = "OwnershipError"
	StatusFailed         ImuControlStatus = "Failed"
)

// success reports whether this status counts as a successful outcome
// (spec.md §3: "true for Success and AlreadyRunning outcomes").
func (s ImuControlStatus) success() bool {
	return s == StatusSuccess || s == StatusAlreadyRunning
}

// ImuCommandPayload is the typed payload carried by IMU-control ModelResults.
//
// IsConnected reflects the moment connect()/disconnect() returned for this
// command, not the long-lived session state — callers that need liveness
// should subscribe to ImuConnected/ImuDisconnected instead (spec.md §9).
type ImuCommandPayload struct {
	Status      ImuControlStatus `json:"status"`
	IsConnected bool             `json:"is_connected"`
	Message     string           `json:"message,omitempty"`
}

// ModelResult is an immutable record produced by the Command Handler and
// dispatched through the Command Pipeline to the Notification Hub.
type ModelResult struct {
	ControllerID  string            `json:"controller_id"`
	Type          CommandType       `json:"type"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Success       bool              `json:"success"`
	Error         string            `json:"error,omitempty"`
	Payload       ImuCommandPayload `json:"payload"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// newResult builds a ModelResult for cmd with the given status/payload,
// deriving Success from the status per spec.md §3.
func newResult(cmd ModelCommand, status ImuControlStatus, isConnected bool, message string, errText string) ModelResult {
	return ModelResult{
		ControllerID:  cmd.ControllerID,
		Type:          cmd.Type,
		CorrelationID: cmd.CorrelationID,
		Success:       status.success(),
		Error:         errText,
		Payload: ImuCommandPayload{
			Status:      status,
			IsConnected: isConnected,
			Message:     message,
		},
		CompletedAt: time.Now(),
	}
}

// startPayload is the best-effort decode target for a "start" command's
// RawPayload, per spec.md §6.3. Parse failure is not a command error: it is
// treated as "no endpoint requested."
type startPayload struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// parseStartPayload best-effort decodes raw as a start endpoint. A parse
// failure or an out-of-range port yields (ok=false) rather than an error:
// the caller proceeds as an ownership claim without an endpoint.
func parseStartPayload(raw string) (address string, port int, ok bool) {
	if raw == "" {
		return "", 0, false
	}
	var p startPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", 0, false
	}
	if p.Address == "" || p.Port < 1 || p.Port > 65535 {
		return "", 0, false
	}
	return p.Address, p.Port, true
}
