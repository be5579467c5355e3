package operator

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/arobi/trident/internal/autotune"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/state"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 256

	// connectSettle is how long a freshly connected client waits before
	// the firmware-version and config announcements are sent, so a
	// client mid-reconnect storm is not hammered with stale state.
	connectSettle = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server owns the single operator WebSocket endpoint. The protocol allows
// exactly one active client: a new connection evicts whatever client was
// previously registered rather than fanning out to many.
type Server struct {
	log             *logrus.Logger
	auth            *Authenticator
	vehicle         *state.Vehicle
	tuner           *autotune.Tuner
	firmwareVersion string

	mu     sync.Mutex
	client *connection
}

// New wires a Server to the shared vehicle state and the subsystems its
// handlers drive (the auto-tuner and the output sender's thruster-test
// slot live in vehicle state already, so Server mutates through it).
func New(log *logrus.Logger, auth *Authenticator, v *state.Vehicle, tuner *autotune.Tuner, firmwareVersion string) *Server {
	return &Server{log: log, auth: auth, vehicle: v, tuner: tuner, firmwareVersion: firmwareVersion}
}

// connection is one registered operator client: a socket plus its outbound
// queue and read/write pumps.
type connection struct {
	conn     *websocket.Conn
	send     chan Envelope
	log      *logrus.Logger
	server   *Server
	done     chan struct{}
	closeOne sync.Once
}

// HandleWebSocket upgrades the HTTP request to a WebSocket connection,
// authenticating via bearer token first. A successful connection evicts
// any previously registered client.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Verify(bearerToken(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Error("operator websocket upgrade failed")
		return
	}

	c := &connection{conn: conn, send: make(chan Envelope, sendBufferSize), log: s.log, server: s, done: make(chan struct{})}
	s.register(c)

	ctx, cancel := context.WithCancel(context.Background())
	go c.writePump(ctx)
	go c.readPump(cancel)
	go s.announceAfterSettle(c)
}

// register installs c as the sole active client, closing out whatever
// client held that slot before.
func (s *Server) register(c *connection) {
	s.mu.Lock()
	old := s.client
	s.client = c
	s.mu.Unlock()

	if old != nil {
		old.close()
	}
	metrics.UpdateOperatorConnected(true)
	s.log.Info("operator client connected")
}

// unregister clears the active-client slot if c still holds it (a client
// evicted by a newer connection must not clear the newer one's slot).
func (s *Server) unregister(c *connection) {
	s.mu.Lock()
	cleared := s.client == c
	if cleared {
		s.client = nil
	}
	s.mu.Unlock()
	if cleared {
		metrics.UpdateOperatorConnected(false)
	}
	s.log.Info("operator client disconnected")
}

// announceAfterSettle sends the firmware version and current config once
// connectSettle has elapsed, per the reconnect-settle requirement: a
// flapping connection does not spam these on every brief reconnect. The
// active-client check and the send happen under the same lock acquisition
// as register/unregister, so this can never race a close of c.
func (s *Server) announceAfterSettle(c *connection) {
	select {
	case <-time.After(connectSettle):
	case <-c.done:
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != c {
		return
	}
	c.sendJSON(TypeFirmwareVersion, FirmwareVersionPayload{Version: s.firmwareVersion})
	c.sendJSON(TypeConfig, s.vehicle.Config())
}

// Broadcast sends msg to the currently registered client, if any. Publish
// loops call this; it is a no-op with no connected operator. The send
// happens while s.mu is held, the same lock register/unregister take
// around swapping s.client, so a connection is never sent to after it has
// been closed.
func (s *Server) Broadcast(msgType string, payload interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return
	}
	s.client.sendJSON(msgType, payload)
}

// Shutdown closes the active client connection, if any.
func (s *Server) Shutdown() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mu.Unlock()
	if c != nil {
		c.close()
	}
}

// sendJSON enqueues a message for the write pump. It recovers from a send
// on an already-closed channel: a connection evicted by a newer one can
// still have its own readPump in the middle of handling a request (and
// queuing a reply) at the moment register() closes it out.
func (c *connection) sendJSON(msgType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.WithError(err).WithField("type", msgType).Error("failed to marshal outbound payload")
		return
	}
	defer func() { recover() }()
	select {
	case c.send <- Envelope{Type: msgType, Payload: raw}:
		metrics.RecordOperatorMessage("out", msgType)
	default:
		c.log.WithField("type", msgType).Warn("operator send buffer full, dropping message")
	}
}

// close marks the connection done and closes its send channel exactly
// once, safe to call from both the evicting register() path and the
// connection's own readPump teardown.
func (c *connection) close() {
	c.closeOne.Do(func() {
		close(c.done)
		close(c.send)
	})
}

func (c *connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) readPump(cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.server.unregister(c)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("operator websocket read error")
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.WithError(err).Warn("operator message malformed, ignoring")
			continue
		}
		c.server.handle(c, env)
	}
}
