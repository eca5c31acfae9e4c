package orchestrator

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// WebSocket Observer (domain-stack addition, SPEC_FULL.md §D.3)
// ============================================================================
//
// An optional read-only fanout of Hub events over WebSocket, directly adapted
// from state_ws.go's Hub/Client/broadcaster trio: a registry of clients with
// per-client buffered send queues so one slow client can't block delivery to
// others, write/read pumps with ping keepalive, and a coalescing window for
// the highest-frequency event (ImuSampleReceived) so a slow network link
// doesn't force the observer to choose between dropping clients and building
// unbounded backlog.
// ============================================================================

// wsEnvelope is the wire format for every outbound observer message.
type wsEnvelope struct {
	Type string      `json:"type"`
	Ts   time.Time   `json:"ts"`
	Data interface{} `json:"data"`
}

type wsResultData struct {
	ControllerID string            `json:"controller_id"`
	Type         CommandType       `json:"type"`
	Success      bool              `json:"success"`
	Payload      ImuCommandPayload `json:"payload"`
}

type wsConnectionData struct {
	Connected      bool   `json:"connected"`
	RemoteEndpoint string `json:"remote_endpoint,omitempty"`
}

type wsStateData struct {
	IsOn bool `json:"is_on"`
}

type wsSampleData struct {
	TimestampNs uint64 `json:"timestamp_ns"`
	Gyro        Vec3   `json:"gyro"`
	Accel       Vec3   `json:"accel"`
}

// sampleCoalesceWindow bounds how often ImuSampleReceived events reach
// observer clients: latest-wins, flushed at most once per window.
const sampleCoalesceWindow = 50 * time.Millisecond

// wsClient is a single observer connection with its own outbound queue.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// WsObserver fans Hub events out to WebSocket clients. It is entirely
// optional: an Orchestrator with no WsObserver attached behaves identically.
type WsObserver struct {
	logger *slog.Logger
	hub    *Hub

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	sampleMu      sync.Mutex
	pendingSample *wsSampleData
	sampleTimer   *time.Timer

	handles []uint64
}

// NewWsObserver constructs an observer bound to hub. Call Attach to start
// receiving events and Register to expose the HTTP upgrade endpoint.
func NewWsObserver(hub *Hub, logger *slog.Logger) *WsObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &WsObserver{
		logger:  logger,
		hub:     hub,
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach subscribes the observer to every Hub event kind it forwards.
func (o *WsObserver) Attach() {
	o.handles = []uint64{
		o.hub.SubscribeResult(o.onResult),
		o.hub.SubscribeImuConnected(o.onConnected),
		o.hub.SubscribeImuDisconnected(o.onDisconnected),
		o.hub.SubscribeImuStateUpdated(o.onStateUpdated),
		o.hub.SubscribeImuSampleReceived(o.onSampleReceived),
	}
}

// Detach unsubscribes from the Hub. It does not close already-connected
// clients; call Close for that.
func (o *WsObserver) Detach() {
	if len(o.handles) < 5 {
		return
	}
	o.hub.UnsubscribeResult(o.handles[0])
	o.hub.UnsubscribeImuConnected(o.handles[1])
	o.hub.UnsubscribeImuDisconnected(o.handles[2])
	o.hub.UnsubscribeImuStateUpdated(o.handles[3])
	o.hub.UnsubscribeImuSampleReceived(o.handles[4])
	o.handles = nil
}

// Close disconnects every currently-connected observer client.
func (o *WsObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for c := range o.clients {
		_ = c.conn.Close()
		safeCloseSendChan(c.send)
		delete(o.clients, c)
	}
}

// Register wires the upgrade handler onto mux at path.
func (o *WsObserver) Register(mux *http.ServeMux, path string) {
	mux.HandleFunc(path, o.handleUpgrade)
}

var wsObserverUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (o *WsObserver) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := wsObserverUpgrader.Upgrade(w, r, nil)
	if err != nil {
		o.logger.Warn("ws observer upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 32)}

	o.mu.Lock()
	o.clients[c] = struct{}{}
	o.mu.Unlock()

	go o.writePump(c)
	go o.readPump(c)
}

const (
	observerWriteWait  = 5 * time.Second
	observerPongWait   = 30 * time.Second
	observerPingPeriod = 20 * time.Second
)

func (o *WsObserver) writePump(c *wsClient) {
	ticker := time.NewTicker(observerPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(observerWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains incoming frames to detect client-initiated close;
// the observer surface is read-only from the client's perspective.
func (o *WsObserver) readPump(c *wsClient) {
	_ = c.conn.SetReadDeadline(time.Now().Add(observerPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(observerPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			o.removeClient(c)
			return
		}
	}
}

func (o *WsObserver) removeClient(c *wsClient) {
	o.mu.Lock()
	_, ok := o.clients[c]
	if ok {
		delete(o.clients, c)
	}
	o.mu.Unlock()
	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseSendChan(c.send)
	}
}

func safeCloseSendChan(ch chan []byte) {
	defer func() { _ = recover() }()
	close(ch)
}

// broadcast enqueues msg on every connected client, evicting any client whose
// queue is already full rather than blocking or buffering without bound.
func (o *WsObserver) broadcast(msg []byte) {
	o.mu.Lock()
	var slow []*wsClient
	for c := range o.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	o.mu.Unlock()

	for _, c := range slow {
		o.removeClient(c)
	}
}

func (o *WsObserver) emit(eventType string, data interface{}) {
	msg, err := json.Marshal(wsEnvelope{Type: eventType, Ts: time.Now().UTC(), Data: data})
	if err != nil {
		o.logger.Warn("ws observer marshal failed", "type", eventType, "error", err)
		return
	}
	o.broadcast(msg)
}

func (o *WsObserver) onResult(r ModelResult) {
	o.emit("result", wsResultData{
		ControllerID: r.ControllerID,
		Type:         r.Type,
		Success:      r.Success,
		Payload:      r.Payload,
	})
}

func (o *WsObserver) onConnected(ev ImuConnectionEvent) {
	o.emit("imu_connected", wsConnectionData{Connected: ev.Connected, RemoteEndpoint: ev.RemoteEndpoint})
}

func (o *WsObserver) onDisconnected(ev ImuConnectionEvent) {
	o.emit("imu_disconnected", wsConnectionData{Connected: ev.Connected, RemoteEndpoint: ev.RemoteEndpoint})
}

func (o *WsObserver) onStateUpdated(ev ImuStateEvent) {
	o.emit("imu_state_updated", wsStateData{IsOn: ev.IsOn})
}

// onSampleReceived coalesces bursty samples: the most recent sample within
// sampleCoalesceWindow wins, flushed by a one-shot timer that the first
// sample after each flush arms, rather than on every arrival.
func (o *WsObserver) onSampleReceived(ev ImuSampleEvent) {
	data := wsSampleData{TimestampNs: ev.Sample.TimestampNs, Gyro: ev.Sample.Gyro, Accel: ev.Sample.Accel}

	o.sampleMu.Lock()
	defer o.sampleMu.Unlock()

	o.pendingSample = &data
	if o.sampleTimer == nil {
		o.sampleTimer = time.AfterFunc(sampleCoalesceWindow, o.flushSample)
	}
}

func (o *WsObserver) flushSample() {
	o.sampleMu.Lock()
	pending := o.pendingSample
	o.pendingSample = nil
	o.sampleTimer = nil
	o.sampleMu.Unlock()

	if pending != nil {
		o.emit("imu_sample", *pending)
	}
}
