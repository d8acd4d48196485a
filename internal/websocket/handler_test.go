package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/constants"
	"github.com/vasquez-law/chatgateway/internal/event"
	"github.com/vasquez-law/chatgateway/internal/reconnect"
	"github.com/vasquez-law/chatgateway/internal/respond"
	"github.com/vasquez-law/chatgateway/internal/router"
	"github.com/vasquez-law/chatgateway/internal/store"
)

const testSecret = "test-secret-key-for-testing-only-32ch"

func signToken(t *testing.T, userID, role string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"id":  userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if role != "" {
		claims["role"] = role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// fakeRecords satisfies router.RecordStore with in-memory no-op behavior
type fakeRecords struct{}

func (fakeRecords) CreateConversation(_ context.Context, c *store.Conversation) error {
	c.ID = "conv-test"
	return nil
}
func (fakeRecords) GetConversation(context.Context, string) (*store.Conversation, error) {
	return nil, store.ErrConversationNotFound
}
func (fakeRecords) CloseConversation(context.Context, string, string, time.Duration) error {
	return nil
}
func (fakeRecords) AddMessage(context.Context, *store.Message) error { return nil }
func (fakeRecords) RecentMessages(context.Context, string, int) ([]store.Message, error) {
	return nil, nil
}
func (fakeRecords) CreateNotification(context.Context, *store.Notification) error { return nil }
func (fakeRecords) UnreadNotifications(context.Context, string, int) ([]store.Notification, error) {
	return nil, nil
}
func (fakeRecords) MarkNotificationRead(context.Context, string, string) error { return nil }
func (fakeRecords) GetCase(context.Context, string) (*store.Case, error) {
	return nil, store.ErrCaseNotFound
}
func (fakeRecords) UserHasCaseAccess(context.Context, string, string) (bool, error) {
	return false, nil
}
func (fakeRecords) CreateSupportTicket(context.Context, *store.SupportTicket) error { return nil }

type testServer struct {
	handler *Handler
	gateway *router.Gateway
	srv     *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	require.NoError(t, err)

	vault := reconnect.NewVault()
	gateway := router.NewGateway(fakeRecords{}, respond.NewIntentResponder(), nil, vault, logger)
	gate := auth.NewGate(auth.NewJWTValidator(testSecret), vault, logger)
	handler := NewHandler(gate, gateway, logger, constants.DefaultMaxMessageSize)

	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		gateway.Shutdown()
	})

	return &testServer{handler: handler, gateway: gateway, srv: srv}
}

func (ts *testServer) wsURL(query string) string {
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http")
	if query != "" {
		url += "?" + query
	}
	return url
}

func dialWS(t *testing.T, url string, header http.Header) *gorillaws.Conn {
	t.Helper()
	ws, resp, err := gorillaws.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *gorillaws.Conn) *event.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := ws.ReadMessage()
	require.NoError(t, err)
	env, err := event.ParseEnvelope(frame)
	require.NoError(t, err)
	return env
}

func waitForEvent(t *testing.T, ws *gorillaws.Conn, name string) *event.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		env := readEvent(t, ws)
		if env.Event == name {
			return env
		}
	}
	t.Fatalf("event %q not received", name)
	return nil
}

func sendEvent(t *testing.T, ws *gorillaws.Conn, name string, payload interface{}) {
	t.Helper()
	frame, err := event.Encode(name, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(gorillaws.TextMessage, frame))
}

func TestAnonymousHandshakeIssuesReconnectionToken(t *testing.T) {
	ts := newTestServer(t)
	ws := dialWS(t, ts.wsURL(""), nil)

	env := readEvent(t, ws)
	assert.Equal(t, event.AuthReconnectionToken, env.Event)

	var payload event.ReconnectionTokenPayload
	require.NoError(t, env.DecodeInto(&payload))
	assert.True(t, strings.HasPrefix(payload.Token, constants.ReconnectTokenPrefix))
}

func TestAuthenticatedHandshakeViaHeader(t *testing.T) {
	ts := newTestServer(t)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, "user-1", ""))
	ws := dialWS(t, ts.wsURL(""), header)

	waitForEvent(t, ws, event.AuthReconnectionToken)

	// Notification subscription proves the identity was accepted
	sendEvent(t, ws, event.NotificationsSubscribe, nil)
	waitForEvent(t, ws, event.NotificationsInitial)
}

func TestInvalidTokenDowngradesToAnonymous(t *testing.T) {
	ts := newTestServer(t)
	// A bad bearer token still connects, just without identity
	ws := dialWS(t, ts.wsURL("token=not-a-jwt"), nil)

	waitForEvent(t, ws, event.AuthReconnectionToken)

	sendEvent(t, ws, event.NotificationsSubscribe, nil)
	env := waitForEvent(t, ws, event.NotificationsError)

	var payload event.ErrorPayload
	require.NoError(t, env.DecodeInto(&payload))
	assert.Equal(t, constants.ErrMsgAuthRequired, payload.Message)
}

func TestReconnectionTokenRestoresIdentity(t *testing.T) {
	ts := newTestServer(t)

	first := dialWS(t, ts.wsURL("token="+signToken(t, "user-1", "")), nil)
	env := waitForEvent(t, first, event.AuthReconnectionToken)
	var issued event.ReconnectionTokenPayload
	require.NoError(t, env.DecodeInto(&issued))
	first.Close()

	second := dialWS(t, ts.wsURL("reconnection_token="+issued.Token), nil)
	waitForEvent(t, second, event.AuthReconnectionToken)

	sendEvent(t, second, event.NotificationsSubscribe, nil)
	waitForEvent(t, second, event.NotificationsInitial)
}

func TestReconnectionTokenIsSingleUse(t *testing.T) {
	ts := newTestServer(t)

	first := dialWS(t, ts.wsURL("token="+signToken(t, "user-1", "")), nil)
	env := waitForEvent(t, first, event.AuthReconnectionToken)
	var issued event.ReconnectionTokenPayload
	require.NoError(t, env.DecodeInto(&issued))
	first.Close()

	second := dialWS(t, ts.wsURL("reconnection_token="+issued.Token), nil)
	waitForEvent(t, second, event.AuthReconnectionToken)

	// The token was consumed; a third connection with it is anonymous
	third := dialWS(t, ts.wsURL("reconnection_token="+issued.Token), nil)
	waitForEvent(t, third, event.AuthReconnectionToken)
	sendEvent(t, third, event.NotificationsSubscribe, nil)
	waitForEvent(t, third, event.NotificationsError)
}

func TestChatRoundTripOverSocket(t *testing.T) {
	ts := newTestServer(t)
	ws := dialWS(t, ts.wsURL("language=es"), nil)
	waitForEvent(t, ws, event.AuthReconnectionToken)

	sendEvent(t, ws, event.ChatInit, &event.ChatInitPayload{})
	env := waitForEvent(t, ws, event.Message)

	var welcome event.ChatMessagePayload
	require.NoError(t, env.DecodeInto(&welcome))
	assert.Equal(t, constants.WelcomeMessageES, welcome.Content)
}

func TestMalformedFrameSendsErrorAndKeepsConnection(t *testing.T) {
	ts := newTestServer(t)
	ws := dialWS(t, ts.wsURL(""), nil)
	waitForEvent(t, ws, event.AuthReconnectionToken)

	require.NoError(t, ws.WriteMessage(gorillaws.TextMessage, []byte("{not json")))
	env := waitForEvent(t, ws, event.Error)

	var payload event.ErrorPayload
	require.NoError(t, env.DecodeInto(&payload))
	assert.Equal(t, "Invalid message format", payload.Message)

	// The connection survives the bad frame
	sendEvent(t, ws, event.ChatInit, &event.ChatInitPayload{})
	waitForEvent(t, ws, event.Message)
}

func TestOriginRestriction(t *testing.T) {
	ts := newTestServer(t)
	ts.handler.SetAllowedOrigins([]string{"https://www.vasquezlawnc.com"})
	assert.False(t, ts.handler.IsOpenOrigin())

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := gorillaws.DefaultDialer.Dial(ts.wsURL(""), header)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	allowed := http.Header{}
	allowed.Set("Origin", "https://www.vasquezlawnc.com")
	ws := dialWS(t, ts.wsURL(""), allowed)
	waitForEvent(t, ws, event.AuthReconnectionToken)
}

func TestDisconnectReleasesSession(t *testing.T) {
	ts := newTestServer(t)
	ws := dialWS(t, ts.wsURL(""), nil)
	waitForEvent(t, ws, event.AuthReconnectionToken)

	require.Eventually(t, func() bool {
		return ts.gateway.ActiveSessionsCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	ws.Close()

	require.Eventually(t, func() bool {
		return ts.gateway.ActiveSessionsCount() == 0 && ts.handler.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestLimitKeyFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "203.0.113.9:43210"

	authed := auth.Identity{UserID: "user-1", Authenticated: true}
	assert.Equal(t, "user-1", limitKeyFor(authed, req))

	anon := auth.Identity{}
	assert.Equal(t, "ip:203.0.113.9", limitKeyFor(anon, req))

	// Unparseable remote address falls back to the raw value
	req.RemoteAddr = "garbage"
	assert.Equal(t, "ip:garbage", limitKeyFor(anon, req))
}

func TestUserConnectionCap(t *testing.T) {
	ts := newTestServer(t)
	token := signToken(t, "user-1", "")

	conns := make([]*gorillaws.Conn, 0, constants.DefaultMaxUserConns)
	for i := 0; i < constants.DefaultMaxUserConns; i++ {
		ws := dialWS(t, ts.wsURL("token="+token), nil)
		waitForEvent(t, ws, event.AuthReconnectionToken)
		conns = append(conns, ws)
	}

	// One over the cap is refused before the upgrade
	_, resp, err := gorillaws.DefaultDialer.Dial(ts.wsURL("token="+token), nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		resp.Body.Close()
	}

	// Releasing one slot admits a new connection
	conns[0].Close()
	require.Eventually(t, func() bool {
		ws, resp, err := gorillaws.DefaultDialer.Dial(ts.wsURL("token="+token), nil)
		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return false
		}
		if resp != nil {
			resp.Body.Close()
		}
		ws.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSafeSendAfterClosing(t *testing.T) {
	conn := NewConnectionForTest("conn-1")
	assert.True(t, conn.SafeSend([]byte("frame")))

	conn.SetClosing()
	assert.False(t, conn.SafeSend([]byte("frame")))
	assert.ErrorIs(t, conn.Send([]byte("frame")), ErrSendBufferFull)
}

func TestShutdownWithContextClosesConnections(t *testing.T) {
	ts := newTestServer(t)
	ws := dialWS(t, ts.wsURL(""), nil)
	waitForEvent(t, ws, event.AuthReconnectionToken)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ts.handler.ShutdownWithContext(ctx))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}
