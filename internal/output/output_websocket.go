package output

import (
	"encoding/binary"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tkjaer/tcplat/internal/shared"
)

const (
	frameKindValues int32 = 0
	// noDataMarker replaces sentinel entries so clients can tell them from measurements
	noDataMarker int32 = -2000000000

	clientSendBuffer = 8
	writeWait        = 5 * time.Second
)

type wsClient struct {
	conn   *websocket.Conn
	remote string
	send   chan []byte
}

// WebSocketOutput streams every cycle report to connected websocket clients
// as a binary frame of little-endian int32 values: kind, nonce, then one
// value per address.
type WebSocketOutput struct {
	mu       sync.Mutex
	clients  map[*wsClient]struct{}
	closed   bool
	upgrader websocket.Upgrader
}

func NewWebSocketOutput() *WebSocketOutput {
	return &WebSocketOutput{
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and keeps the client until it disconnects
func (w *WebSocketOutput) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, req, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", "remote", req.RemoteAddr, "err", err)
		return
	}

	c := &wsClient{
		conn:   conn,
		remote: conn.RemoteAddr().String(),
		send:   make(chan []byte, clientSendBuffer),
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		conn.Close()
		return
	}
	w.clients[c] = struct{}{}
	w.mu.Unlock()
	slog.Debug("Websocket client connected", "remote", c.remote)

	go c.writeLoop()

	// Incoming messages are ignored, reading only detects the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	w.mu.Lock()
	w.removeLocked(c)
	w.mu.Unlock()
	slog.Debug("Websocket client disconnected", "remote", c.remote)
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for frame := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// removeLocked drops a client; w.mu must be held
func (w *WebSocketOutput) removeLocked(c *wsClient) {
	if _, ok := w.clients[c]; !ok {
		return
	}
	delete(w.clients, c)
	close(c.send)
}

func (w *WebSocketOutput) Report(report shared.CycleReport) {
	frame := encodeFrame(report)

	w.mu.Lock()
	defer w.mu.Unlock()
	for c := range w.clients {
		select {
		case c.send <- frame:
		default:
			slog.Warn("Dropping slow websocket client", "remote", c.remote)
			w.removeLocked(c)
		}
	}
}

// ClientCount returns the number of connected clients
func (w *WebSocketOutput) ClientCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.clients)
}

func (w *WebSocketOutput) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for c := range w.clients {
		w.removeLocked(c)
	}
	return nil
}

// encodeFrame lays out a report as [kind, nonce, v0, v1, ...]
func encodeFrame(report shared.CycleReport) []byte {
	buf := make([]byte, 4*(2+len(report.Entries)))
	binary.LittleEndian.PutUint32(buf[0:], uint32(frameKindValues))
	binary.LittleEndian.PutUint32(buf[4:], report.Nonce)

	for i, e := range report.Entries {
		v := noDataMarker
		if !e.Sentinel {
			v = int32(min(e.Value, math.MaxInt32))
		}
		binary.LittleEndian.PutUint32(buf[8+4*i:], uint32(v))
	}
	return buf
}
