// Package websocket handles the HTTP upgrade and connection lifecycle for
// the chat gateway. The handshake resolves identity from a bearer token or a
// single-use reconnection token and allows anonymous visitors.
package websocket

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/constants"
	gatewayerrors "github.com/vasquez-law/chatgateway/internal/errors"
	"github.com/vasquez-law/chatgateway/internal/event"
	"github.com/vasquez-law/chatgateway/internal/metrics"
	"github.com/vasquez-law/chatgateway/internal/ratelimit"
	"github.com/vasquez-law/chatgateway/internal/router"
	"github.com/vasquez-law/chatgateway/internal/session"
	"github.com/vasquez-law/chatgateway/internal/util"
)

var (
	// upgrader configures the WebSocket upgrade
	// SECURITY: In production, this service MUST be deployed behind a reverse proxy
	// (nginx, traefik, etc.) that terminates TLS/SSL connections, ensuring all
	// WebSocket connections use the WSS (WebSocket Secure) protocol.
	// The CheckOrigin function is configured per-handler instance.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// ErrSendBufferFull is returned when a frame cannot be queued for a connection
var ErrSendBufferFull = errors.New("send buffer full or connection closing")

// Connection is an active WebSocket connection
type Connection struct {
	conn *websocket.Conn

	// ConnectionID uniquely identifies this connection
	ConnectionID string

	// UserID is empty for anonymous visitors
	UserID string

	// send is a buffered channel for outbound frames
	send chan []byte

	// limitKey identifies this connection in the connection limiters:
	// the userID for authenticated users, "ip:<addr>" for anonymous ones
	limitKey string

	// closing is set before the send channel closes to prevent
	// send-on-closed-channel panics
	closing atomic.Bool

	mu sync.RWMutex
}

// ID implements the gateway's connection interface
func (c *Connection) ID() string {
	return c.ConnectionID
}

// Send queues a frame for delivery. It never blocks; a full buffer or a
// closing connection returns an error instead.
func (c *Connection) Send(frame []byte) error {
	if !c.SafeSend(frame) {
		return ErrSendBufferFull
	}
	return nil
}

// SafeSend attempts to queue a frame on the send channel.
// Returns false if the connection is closing or the channel is full.
func (c *Connection) SafeSend(frame []byte) bool {
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// SetClosing marks the connection as closing. After this call, SafeSend
// returns false.
func (c *Connection) SetClosing() {
	c.closing.Store(true)
}

// Close closes the underlying socket
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ReceiveForTest exposes the send channel for test assertions only
func (c *Connection) ReceiveForTest() <-chan []byte {
	return c.send
}

// NewConnectionForTest creates a detached connection for test use
func NewConnectionForTest(connectionID string) *Connection {
	return &Connection{
		ConnectionID: connectionID,
		send:         make(chan []byte, 256),
	}
}

// EventGateway is the dispatch side of the gateway (to avoid circular
// dependency and enable testing)
type EventGateway interface {
	Connect(conn router.Conn, identity auth.Identity, sessionID string) (*session.Session, error)
	Disconnect(connectionID, reason string)
	Dispatch(connectionID string, env *event.Envelope) error
}

// Handler manages WebSocket upgrades and the read/write pumps
type Handler struct {
	gate           *auth.Gate
	gateway        EventGateway
	logger         *golog.Logger
	connLimiter    *ratelimit.ConnectionLimiter
	anonLimiter    *ratelimit.ConnectionLimiter
	allowedOrigins map[string]bool
	maxMessageSize int64

	connections map[string]*Connection // connectionID -> Connection
	mu          sync.RWMutex
}

// NewHandler creates a new WebSocket handler
func NewHandler(gate *auth.Gate, gateway EventGateway, logger *golog.Logger, maxMessageSize int64) *Handler {
	wsLogger := logger.WithGroup("websocket")
	return &Handler{
		gate:           gate,
		gateway:        gateway,
		logger:         wsLogger,
		connLimiter:    ratelimit.NewConnectionLimiter(constants.DefaultMaxUserConns),
		anonLimiter:    ratelimit.NewConnectionLimiter(constants.DefaultMaxAnonConns),
		allowedOrigins: make(map[string]bool),
		maxMessageSize: maxMessageSize,
		connections:    make(map[string]*Connection),
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections.
// If no origins are set, all origins are allowed (development mode).
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Info("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// IsOpenOrigin returns true when no allowed origins are configured.
// SECURITY: When true, any website can establish WebSocket connections.
// This is acceptable only when the service sits behind a reverse proxy
// that performs its own origin validation.
func (h *Handler) IsOpenOrigin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.allowedOrigins) == 0 {
		return true
	}
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// HandleWebSocket handles the HTTP to WebSocket upgrade. Identity resolution
// never rejects the request: a bad credential downgrades to anonymous. Only
// the connection caps (per user, per IP for anonymous) produce an HTTP error.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	// Prefer the Authorization header; the query parameter exists for
	// browser WebSocket clients that cannot set headers
	var bearerToken string
	if token, err := util.ExtractBearerToken(r.Header.Get(constants.HeaderAuthorization)); err == nil {
		bearerToken = token
	}
	if bearerToken == "" {
		bearerToken = query.Get("token")
	}

	reconnectionToken := query.Get("reconnection_token")
	sessionID := query.Get("session_id")
	language := query.Get("language")

	identity := h.gate.Resolve(bearerToken, reconnectionToken)
	if language != "" {
		identity.Language = language
	}

	// Authenticated users are capped per user, anonymous visitors per
	// remote IP
	limitKey := limitKeyFor(identity, r)
	if !h.limiterFor(limitKey).Allow(limitKey) {
		h.logger.Warn("Connection limit exceeded",
			"limit_key", limitKey,
			"component", "websocket")

		gwErr := gatewayerrors.ErrConnectionLimitExceeded(5000)
		http.Error(w, gwErr.Message, http.StatusTooManyRequests)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	conn, err := localUpgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(h.logger, "websocket", "upgrade connection", err)
		h.limiterFor(limitKey).Release(limitKey)
		return
	}

	conn.SetReadLimit(h.maxMessageSize)

	connection := &Connection{
		conn:         conn,
		ConnectionID: newConnectionID(),
		UserID:       identity.UserID,
		limitKey:     limitKey,
		send:         make(chan []byte, 256),
	}

	if _, err := h.gateway.Connect(connection, identity, sessionID); err != nil {
		util.LogError(h.logger, "websocket", "register connection", err,
			"connection_id", connection.ConnectionID)
		h.limiterFor(limitKey).Release(limitKey)
		conn.Close()
		return
	}

	h.register(connection)

	h.logger.Info("WebSocket connection established",
		"connection_id", connection.ConnectionID,
		"user_id", identity.UserID,
		"authenticated", identity.Authenticated,
		"component", "websocket")

	util.SafeGo(h.logger, "readPump", func() { connection.readPump(h) })
	util.SafeGo(h.logger, "writePump", func() { connection.writePump() })
}

// limitKeyFor picks the connection limiter key for an identity
func limitKeyFor(identity auth.Identity, r *http.Request) string {
	if identity.Authenticated && identity.UserID != "" {
		return identity.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	// No else needed: fallback logic for rare error case
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// limiterFor returns the limiter that tracks the given key
func (h *Handler) limiterFor(limitKey string) *ratelimit.ConnectionLimiter {
	if strings.HasPrefix(limitKey, "ip:") {
		return h.anonLimiter
	}
	return h.connLimiter
}

// newConnectionID generates a unique connection identifier from the
// timestamp plus random bytes
func newConnectionID() string {
	randomBytes := make([]byte, 8)
	// No else needed: fallback logic for rare error case
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("conn-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("conn-%d-%s", time.Now().UnixNano(), hex.EncodeToString(randomBytes))
}

func (h *Handler) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.ConnectionID] = conn
}

func (h *Handler) unregister(conn *Connection) {
	h.mu.Lock()
	if _, exists := h.connections[conn.ConnectionID]; !exists {
		h.mu.Unlock()
		return
	}
	delete(h.connections, conn.ConnectionID)
	h.mu.Unlock()

	conn.SetClosing()
	close(conn.send)

	if conn.limitKey != "" {
		h.limiterFor(conn.limitKey).Release(conn.limitKey)
	}
}

// ConnectionCount returns the number of live connections
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// readPump reads frames from the socket and dispatches them. Teardown runs
// in its defer: the gateway closes the conversation and leaves rooms before
// the transport state is released.
func (c *Connection) readPump(h *Handler) {
	reason := "transport close"

	defer func() {
		h.gateway.Disconnect(c.ConnectionID, reason)
		h.unregister(c)
		c.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		// No else needed: error handling with break (exits loop)
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				reason = "message size limit exceeded"
				h.logger.Warn("WebSocket message size limit exceeded",
					"connection_id", c.ConnectionID,
					"limit", h.maxMessageSize,
					"component", "websocket")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				reason = "unexpected close"
				util.LogError(h.logger, "websocket", "handle unexpected close", err,
					"connection_id", c.ConnectionID)
			} else {
				h.logger.Info("WebSocket connection closing",
					"connection_id", c.ConnectionID,
					"component", "websocket")
			}
			break
		}

		env, err := event.ParseEnvelope(frame)
		// No else needed: error handling with continue (skips to next iteration)
		if err != nil {
			h.logger.Warn("Failed to parse frame",
				"connection_id", c.ConnectionID,
				"error", err)
			metrics.EventErrors.Inc()
			c.sendError(h.logger, "Invalid message format")
			continue
		}

		if err := h.gateway.Dispatch(c.ConnectionID, env); err != nil {
			// The gateway already sent the client-facing error event;
			// log the detail server-side only
			util.LogError(h.logger, "websocket", "dispatch event", err,
				"connection_id", c.ConnectionID,
				"event", env.Event)
		}
	}
}

// sendError queues a client-facing error event without blocking
func (c *Connection) sendError(logger *golog.Logger, message string) {
	frame, err := event.Encode(event.Error, &event.ErrorPayload{Message: message})
	if err != nil {
		util.LogError(logger, "websocket", "encode error event", err)
		return
	}
	c.SafeSend(frame)
}

// writePump writes queued frames and sends the heartbeat pings
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: channel closed handling (sends close and returns)
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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

// ShutdownWithContext gracefully closes all active connections, respecting
// the context deadline
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.logger.Info("Shutting down WebSocket handler, closing all connections")

	h.mu.Lock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()

			c.mu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			}
			c.mu.Unlock()

			c.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}
