package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ============================================================================
// IMU Client (spec.md §4.2)
// ============================================================================
//
// Owns a single TCP connection to an IMU endpoint, decodes the framed binary
// protocol (protocol.go), and issues re-arm requests so the device reaches
// ON. Grounded on camilladsp.go's mutex-guarded conn/ensureConnected/send
// shape, generalized from a WebSocket JSON client to a raw net.Conn
// binary-framed client; the read-loop idiom (fixed header read, then
// length-prefixed payload read, dispatch by message id, clean exit on EOF)
// follows the pack's clearest framed-TCP precedent, the go-iecp5 CS104
// client's recvLoop.
// ============================================================================

// ErrProtocolViolation is logged by the receive loop (it is never returned to
// a caller) when payload_length exceeds maxPayloadLength.
var ErrProtocolViolation = errors.New("imu client: protocol violation")

// ImuClient manages the single TCP session to the sensor.
type ImuClient struct {
	logger *slog.Logger

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	cancel    context.CancelFunc
	done      chan struct{} // closed when the receive loop for the current session exits

	writeMu sync.Mutex // guards writes (re-arm frames) against concurrent senders

	hub *Hub

	dialTimeout time.Duration
}

// NewImuClient constructs an IMU Client publishing events to hub.
func NewImuClient(hub *Hub, logger *slog.Logger) *ImuClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImuClient{
		logger:      logger,
		hub:         hub,
		dialTimeout: 5 * time.Second,
	}
}

// IsConnected is an atomic-like observable accessor (mutex-guarded so it is
// never stale relative to event publication, per spec.md §4.2).
func (c *ImuClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect synchronously dials address:port. On success it publishes
// ImuConnected and spawns the receive loop. On failure it logs and leaves
// the client disconnected without publishing an event (spec.md §4.2).
//
// Connect first tears down any still-winding-down prior session, so it is
// safe to call while a previous disconnect is still in flight.
func (c *ImuClient) Connect(address string, port int) error {
	publish, err := c.ConnectDeferred(address, port)
	if err != nil {
		return err
	}
	publish()
	return nil
}

// ConnectDeferred does everything Connect does except publish ImuConnected:
// it returns that publication as a closure instead of invoking it. Callers
// that must sequence ImuConnected after some other event they are about to
// publish (the Pipeline does this to honor spec.md §8 scenario S6's
// result-before-connected ordering) call the returned closure once that
// event has gone out; ordinary callers can call it immediately, which is
// exactly what Connect does.
func (c *ImuClient) ConnectDeferred(address string, port int) (publish func(), err error) {
	c.disconnectLocked(true)

	endpoint := fmt.Sprintf("%s:%d", address, port)
	conn, err := net.DialTimeout("tcp", endpoint, c.dialTimeout)
	if err != nil {
		c.logger.Warn("imu client connect failed", "endpoint", endpoint, "error", err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("imu client connected", "endpoint", endpoint)

	go c.receiveLoop(ctx, conn, done, endpoint)

	return func() {
		c.hub.notifyImuConnected(ImuConnectionEvent{Connected: true, RemoteEndpoint: endpoint})
	}, nil
}

// Disconnect tears down the current session, if any. Idempotent
// (spec.md §8 property 5: calling it N times from Idle is a no-op).
func (c *ImuClient) Disconnect() {
	c.disconnectLocked(false)
}

// disconnectLocked performs the disconnect sequence. quiet suppresses the
// ImuDisconnected publication when called as the "ensure torn down" prelude
// to Connect. Because this call clears c.connected before the receive loop
// observes the close, it is this call (not finishSession) that publishes
// ImuDisconnected for a session it tears down, once the loop has exited, so
// the event still goes out exactly once per session (spec.md §4.2 step 5).
func (c *ImuClient) disconnectLocked(quiet bool) {
	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	done := c.done
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		// Wait for the receive loop to exit. We already cleared c.connected
		// above, so finishSession's own read of it will be false and it will
		// not publish: this call is responsible for the event instead.
		<-done
		if wasConnected && !quiet {
			c.hub.notifyImuDisconnected(ImuConnectionEvent{Connected: false})
		}
		return
	}
	if wasConnected && !quiet {
		// No loop was tracked (should not normally happen) but state said
		// connected: publish disconnect so observers never see a stale true.
		c.hub.notifyImuDisconnected(ImuConnectionEvent{Connected: false})
	}
}

// receiveLoop implements spec.md §4.2's framed receive loop.
func (c *ImuClient) receiveLoop(ctx context.Context, conn net.Conn, done chan struct{}, endpoint string) {
	defer close(done)
	defer c.finishSession(endpoint)

	for {
		var hdr [headerSize]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			c.logSessionEnd(err)
			return
		}

		messageID, payloadLength := decodeHeader(hdr)
		if payloadLength > maxPayloadLength {
			c.logger.Error("imu client protocol violation", "error", ErrProtocolViolation, "payload_length", payloadLength)
			return
		}

		payload := make([]byte, payloadLength)
		if payloadLength > 0 {
			if _, err := io.ReadFull(conn, payload); err != nil {
				c.logSessionEnd(err)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.dispatchFrame(conn, messageID, payload)
	}
}

// dispatchFrame handles one decoded frame per spec.md §4.2 step 4.
func (c *ImuClient) dispatchFrame(conn net.Conn, messageID byte, payload []byte) {
	switch messageID {
	case msgIDImuState:
		on, err := decodeStatePayload(payload)
		if err != nil {
			c.logger.Warn("imu client: malformed imu_state frame", "error", err)
			return
		}
		c.hub.notifyImuStateUpdated(ImuStateEvent{IsOn: on})
		if !on {
			c.sendReArm(conn)
		}

	case msgIDImuData:
		sample, err := decodeSample(payload)
		if err != nil {
			c.logger.Warn("imu client: malformed imu_data frame", "error", err)
			return
		}
		c.hub.notifyImuSampleReceived(ImuSampleEvent{Sample: sample})

	default:
		// Unknown ids are silently ignored, per spec.md §4.2 step 4.
	}
}

// sendReArm writes a SET_IMU_STATE(on) frame, reactively re-arming the
// device (spec.md §4.2 step 4). The write path is serialized against
// concurrent re-arms by writeMu.
func (c *ImuClient) sendReArm(conn net.Conn) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write(encodeSetImuStateFrame(true)); err != nil {
		c.logger.Warn("imu client: re-arm write failed", "error", err)
	}
}

// finishSession clears connection state and publishes ImuDisconnected when
// the session ended on its own (fatal I/O error) rather than via
// disconnectLocked, which already cleared c.connected and publishes itself.
func (c *ImuClient) finishSession(endpoint string) {
	c.mu.Lock()
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.cancel = nil
	c.mu.Unlock()

	if wasConnected {
		c.hub.notifyImuDisconnected(ImuConnectionEvent{Connected: false, RemoteEndpoint: endpoint})
	}
}

func (c *ImuClient) logSessionEnd(err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.logger.Info("imu client session ended", "reason", err)
		return
	}
	c.logger.Warn("imu client session ended with error", "error", err)
}
