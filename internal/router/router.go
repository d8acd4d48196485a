// Package router dispatches WebSocket events to their handlers and manages
// the fan-out of messages, notifications, and case updates to connections.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/real-rm/golog"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/constants"
	gatewayerrors "github.com/vasquez-law/chatgateway/internal/errors"
	"github.com/vasquez-law/chatgateway/internal/event"
	"github.com/vasquez-law/chatgateway/internal/metrics"
	"github.com/vasquez-law/chatgateway/internal/ratelimit"
	"github.com/vasquez-law/chatgateway/internal/reconnect"
	"github.com/vasquez-law/chatgateway/internal/respond"
	"github.com/vasquez-law/chatgateway/internal/room"
	"github.com/vasquez-law/chatgateway/internal/session"
	"github.com/vasquez-law/chatgateway/internal/store"
	"github.com/vasquez-law/chatgateway/internal/util"
)

var (
	// ErrNilConnection is returned when a nil connection is provided
	ErrNilConnection = errors.New("connection cannot be nil")
	// ErrSessionNotFound is returned when no session exists for a connection
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnknownEvent is returned for event names outside the protocol
	ErrUnknownEvent = errors.New("unknown event")
)

// Conn is the transport side of a connection as seen by the gateway
type Conn interface {
	ID() string
	Send(frame []byte) error
}

// RecordStore interface for persistence operations (to avoid circular dependency and enable testing)
type RecordStore interface {
	CreateConversation(ctx context.Context, conversation *store.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*store.Conversation, error)
	CloseConversation(ctx context.Context, conversationID, reason string, duration time.Duration) error
	AddMessage(ctx context.Context, message *store.Message) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	CreateNotification(ctx context.Context, notification *store.Notification) error
	UnreadNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	GetCase(ctx context.Context, caseID string) (*store.Case, error)
	UserHasCaseAccess(ctx context.Context, caseID, userID string) (bool, error)
	CreateSupportTicket(ctx context.Context, ticket *store.SupportTicket) error
}

// Alerter interface for out-of-band escalation alerts (to avoid circular dependency)
type Alerter interface {
	EscalationAlert(userID, conversationID, language string) error
}

// Gateway routes events between connections, the responder, and the record store
type Gateway struct {
	records        RecordStore
	responder      respond.Responder
	alerter        Alerter
	vault          *reconnect.Vault
	sessions       *session.Store
	rooms          *room.Registry
	messageLimiter *ratelimit.MessageLimiter
	connections    map[string]Conn // connectionID -> Conn
	mu             sync.RWMutex
	logger         *golog.Logger
}

// NewGateway creates a new event gateway. The alerter may be nil, in which
// case human escalations skip the admin alert.
func NewGateway(records RecordStore, responder respond.Responder, alerter Alerter, vault *reconnect.Vault, logger *golog.Logger) *Gateway {
	gatewayLogger := logger.WithGroup("router")

	messageLimiter := ratelimit.NewMessageLimiter(constants.DefaultRateWindow, constants.DefaultRateLimit)
	messageLimiter.StartCleanup()

	return &Gateway{
		records:        records,
		responder:      responder,
		alerter:        alerter,
		vault:          vault,
		sessions:       session.NewStore(),
		rooms:          room.NewRegistry(),
		messageLimiter: messageLimiter,
		connections:    make(map[string]Conn),
		logger:         gatewayLogger,
	}
}

// Connect registers a new connection, creates its session, and issues the
// single-use reconnection token. Called by the transport once the handshake
// succeeds.
func (g *Gateway) Connect(conn Conn, identity auth.Identity, sessionID string) (*session.Session, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	sess := session.New(conn.ID(), sessionID, identity)
	if err := g.sessions.Add(sess); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.connections[conn.ID()] = conn
	g.mu.Unlock()

	metrics.WebSocketConnections.Inc()

	token := g.vault.Issue(sess.Snapshot())
	g.emit(conn.ID(), event.AuthReconnectionToken, &event.ReconnectionTokenPayload{Token: token})

	g.logger.Info("Connection established",
		"connection_id", conn.ID(),
		"session_id", sess.SessionID,
		"authenticated", identity.Authenticated)

	return sess, nil
}

// Disconnect tears down a connection: leaves its rooms, closes its
// conversation, and drops its session and rate limit state.
func (g *Gateway) Disconnect(connectionID, reason string) {
	sess, ok := g.sessions.Get(connectionID)
	// No else needed: early return pattern (guard clause)
	if !ok {
		g.unregister(connectionID)
		return
	}

	for _, roomID := range g.rooms.LeaveAll(connectionID) {
		g.broadcastToRoom(roomID, event.RoomParticipantLeft, &event.RoomParticipantPayload{
			UserID:       sess.UserID(),
			ConnectionID: connectionID,
		}, connectionID)
	}

	if conversationID := sess.ConversationID(); conversationID != "" {
		ctx, cancel := util.NewTimeoutContext(constants.PersistTimeout)
		defer cancel()
		if err := g.records.CloseConversation(ctx, conversationID, reason, sess.Duration()); err != nil {
			util.LogError(g.logger, "router", "close conversation", err,
				"conversation_id", conversationID)
		}
	}

	g.messageLimiter.Reset(connectionID)
	g.sessions.Delete(connectionID)
	g.unregister(connectionID)

	metrics.WebSocketConnections.Dec()

	g.logger.Info("Connection closed",
		"connection_id", connectionID,
		"reason", reason,
		"duration", sess.Duration())
}

func (g *Gateway) unregister(connectionID string) {
	g.mu.Lock()
	delete(g.connections, connectionID)
	g.mu.Unlock()
}

// Dispatch routes an inbound event to its handler
func (g *Gateway) Dispatch(connectionID string, env *event.Envelope) error {
	sess, ok := g.sessions.Get(connectionID)
	if !ok {
		return ErrSessionNotFound
	}

	metrics.EventsReceived.WithLabelValues(env.Event).Inc()

	// Chat traffic shares one sliding window per connection
	switch env.Event {
	case event.Message, event.UserMessage, event.RoomMessage:
		if !g.messageLimiter.Allow(connectionID) {
			retryAfter := g.messageLimiter.GetRetryAfter(connectionID)
			g.logger.Warn("Message rate limit exceeded",
				"connection_id", connectionID,
				"retry_after", retryAfter)
			metrics.RateLimitDenials.Inc()

			g.emit(connectionID, event.Error, &event.ErrorPayload{Message: constants.ErrMsgRateLimited})
			return gatewayerrors.ErrTooManyRequests(retryAfter)
		}
	}

	var err error
	switch env.Event {
	case event.ChatInit:
		err = g.handleChatInit(sess, env)
	case event.Message:
		err = g.handleMessage(sess, env)
	case event.UserMessage:
		err = g.handleUserMessage(sess, env)
	case event.LanguageChange:
		err = g.handleLanguageChange(sess, env)
	case event.TypingStart:
		g.handleTyping(sess, true)
	case event.TypingStop:
		g.handleTyping(sess, false)
	case event.RoomJoin:
		err = g.handleRoomJoin(sess, env)
	case event.RoomLeave:
		err = g.handleRoomLeave(sess, env)
	case event.RoomMessage:
		err = g.handleRoomMessage(sess, env)
	case event.NotificationsSubscribe:
		err = g.handleNotificationsSubscribe(sess)
	case event.NotificationsMarkRead:
		err = g.handleNotificationsMarkRead(sess, env)
	case event.CaseSubscribe:
		err = g.handleCaseSubscribe(sess, env)
	case event.CaseUnsubscribe:
		err = g.handleCaseUnsubscribe(sess, env)
	case event.ReconnectAttempt:
		err = g.handleReconnectAttempt(sess, env)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}

	// No else needed: early return pattern (guard clause)
	if err != nil {
		metrics.EventErrors.Inc()
		return err
	}

	return nil
}

// handleChatInit starts a conversation and sends the localized welcome
func (g *Gateway) handleChatInit(sess *session.Session, env *event.Envelope) error {
	var payload event.ChatInitPayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.Error, &event.ErrorPayload{Message: constants.ErrMsgInitFailed})
		return err
	}

	if payload.UserID != "" {
		sess.SetUserID(payload.UserID)
	}
	if payload.Language != "" {
		sess.SetLanguage(payload.Language)
	}

	if err := g.startConversation(sess); err != nil {
		g.emit(sess.ConnectionID, event.Error, &event.ErrorPayload{Message: constants.ErrMsgInitFailed})
		return err
	}

	g.emit(sess.ConnectionID, event.Message, &event.ChatMessagePayload{
		Role:      constants.MessageRoleAssistant,
		Content:   respond.WelcomeMessage(sess.Language()),
		Timestamp: event.NowTimestamp(),
	})
	return nil
}

// startConversation creates a conversation record and binds the session to it
func (g *Gateway) startConversation(sess *session.Session) error {
	userID := sess.UserID()
	if userID == "" {
		userID = constants.AnonymousUserID
	}

	conversation := &store.Conversation{
		UserID:   userID,
		Channel:  constants.ConversationChannelChat,
		Status:   constants.ConversationStatusActive,
		Language: sess.Language(),
		Metadata: store.ConversationMetadata{
			ConnectionID:  sess.ConnectionID,
			SessionID:     sess.SessionID,
			Authenticated: sess.Authenticated(),
		},
	}

	ctx, cancel := util.NewTimeoutContext(constants.PersistTimeout)
	defer cancel()

	if err := g.records.CreateConversation(ctx, conversation); err != nil {
		return gatewayerrors.ErrStoreError(err)
	}

	roomID := constants.ConversationRoomPrefix + conversation.ID
	g.rooms.Join(roomID, sess.ConnectionID)
	sess.BindConversation(conversation.ID, roomID)

	g.logger.Info("Conversation started",
		"conversation_id", conversation.ID,
		"connection_id", sess.ConnectionID,
		"language", sess.Language())
	return nil
}

// handleMessage runs the full chat pipeline: persist the user message,
// generate a reply, persist it, and emit it with any escalation.
func (g *Gateway) handleMessage(sess *session.Session, env *event.Envelope) error {
	var payload event.MessagePayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.Error, &event.ErrorPayload{Message: constants.ErrMsgProcessFailed})
		return err
	}

	// A message before chat:init is processed but not durably recorded
	if sess.ConversationID() != "" {
		g.persistMessage(&store.Message{
			ConversationID: sess.ConversationID(),
			Role:           constants.MessageRoleUser,
			Content:        payload.Content,
			Metadata:       payload.Metadata,
		})
	}

	g.setTyping(sess, true)

	ctx, cancel := util.NewTimeoutContext(constants.RespondTimeout)
	defer cancel()

	response, err := g.responder.Respond(ctx, payload.Content, sess.Language())
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(g.logger, "router", "generate response", err,
			"conversation_id", sess.ConversationID())
		g.setTyping(sess, false)
		g.emit(sess.ConnectionID, event.Error, &event.ErrorPayload{Message: constants.ErrMsgProcessFailed})
		return gatewayerrors.ErrResponderError(err)
	}

	if sess.ConversationID() != "" {
		g.persistMessage(&store.Message{
			ConversationID: sess.ConversationID(),
			Role:           constants.MessageRoleAssistant,
			Content:        response.Content,
			Metadata:       metadataToMap(response.Metadata),
		})
	}

	g.setTyping(sess, false)
	g.emit(sess.ConnectionID, event.Message, &event.ChatMessagePayload{
		Role:      constants.MessageRoleAssistant,
		Content:   response.Content,
		Metadata:  response.Metadata,
		Timestamp: event.NowTimestamp(),
	})

	if response.Metadata != nil && response.Metadata.Escalate {
		g.handleEscalation(sess, response.Metadata.EscalationType)
	}
	return nil
}

// handleUserMessage is the simplified virtual-assistant path. It responds
// without requiring chat:init and tags the reply with its source.
func (g *Gateway) handleUserMessage(sess *session.Session, env *event.Envelope) error {
	var payload event.UserMessagePayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.AssistantError, &event.ErrorPayload{Message: constants.ErrMsgProcessFailed})
		return err
	}

	language := payload.Language
	if language == "" {
		language = sess.Language()
	}

	ctx, cancel := util.NewTimeoutContext(constants.RespondTimeout)
	defer cancel()

	response, err := g.responder.Respond(ctx, payload.Text, language)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(g.logger, "router", "generate assistant response", err,
			"connection_id", sess.ConnectionID)
		g.emit(sess.ConnectionID, event.AssistantError, &event.ErrorPayload{Message: constants.ErrMsgProcessFailed})
		return gatewayerrors.ErrResponderError(err)
	}

	metadata := response.Metadata
	if metadata == nil {
		metadata = &event.ResponseMetadata{}
	}
	metadata.Source = "virtual_assistant"

	if conversationID := sess.ConversationID(); conversationID != "" {
		g.persistMessage(&store.Message{
			ConversationID: conversationID,
			Role:           constants.MessageRoleUser,
			Content:        payload.Text,
		})
		g.persistMessage(&store.Message{
			ConversationID: conversationID,
			Role:           constants.MessageRoleAssistant,
			Content:        response.Content,
			Metadata:       metadataToMap(metadata),
		})
	}

	g.emit(sess.ConnectionID, event.AssistantMessage, &event.AssistantMessagePayload{
		ID:        uuid.New().String(),
		Text:      response.Content,
		Metadata:  metadata,
		Timestamp: event.NowTimestamp(),
	})

	if metadata.Escalate {
		g.handleEscalation(sess, metadata.EscalationType)
	}
	return nil
}

// handleLanguageChange switches the session language
func (g *Gateway) handleLanguageChange(sess *session.Session, env *event.Envelope) error {
	var payload event.LanguageChangePayload
	if err := env.DecodeInto(&payload); err != nil {
		return err
	}

	language := payload.Language
	if language != constants.LanguageEnglish && language != constants.LanguageSpanish {
		language = constants.LanguageEnglish
	}

	sess.SetLanguage(language)
	g.emit(sess.ConnectionID, event.LanguageChanged, &event.LanguageChangedPayload{Language: language})
	return nil
}

// setTyping emits typing state to the sender and mirrors it to the rest of
// the conversation room
func (g *Gateway) setTyping(sess *session.Session, isTyping bool) {
	g.emit(sess.ConnectionID, event.Typing, &event.TypingPayload{IsTyping: isTyping})

	// No else needed: without a room there is nobody else to tell
	if roomID := sess.RoomID(); roomID != "" {
		g.broadcastToRoom(roomID, event.Typing, &event.TypingPayload{
			UserID:   sess.UserID(),
			IsTyping: isTyping,
		}, sess.ConnectionID)
	}
}

// handleTyping relays typing state to the other members of the conversation room
func (g *Gateway) handleTyping(sess *session.Session, isTyping bool) {
	roomID := sess.RoomID()
	// No else needed: typing outside a conversation is dropped silently
	if roomID == "" {
		return
	}

	g.broadcastToRoom(roomID, event.Typing, &event.TypingPayload{
		UserID:   sess.UserID(),
		IsTyping: isTyping,
	}, sess.ConnectionID)
}

// handleRoomJoin checks the authorization matrix and adds the connection to
// the room
func (g *Gateway) handleRoomJoin(sess *session.Session, env *event.Envelope) error {
	var payload event.RoomJoinPayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgRoomJoinFailed})
		return err
	}
	if payload.RoomID == "" {
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgRoomJoinFailed})
		return gatewayerrors.ErrNotRoomMember(payload.RoomID)
	}

	if !room.CanJoin(payload.RoomType, sess.Authenticated(), sess.UserRole()) {
		g.logger.Warn("Room join denied",
			"connection_id", sess.ConnectionID,
			"room_id", payload.RoomID,
			"room_type", payload.RoomType)
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgRoomUnauthorized})
		return gatewayerrors.ErrInsufficientPermissions(nil)
	}

	g.rooms.Join(payload.RoomID, sess.ConnectionID)
	g.emit(sess.ConnectionID, event.RoomJoined, &event.RoomAckPayload{RoomID: payload.RoomID})
	g.broadcastToRoom(payload.RoomID, event.RoomParticipantJoined, &event.RoomParticipantPayload{
		UserID:       sess.UserID(),
		ConnectionID: sess.ConnectionID,
	}, sess.ConnectionID)
	return nil
}

// handleRoomLeave removes the connection from a room
func (g *Gateway) handleRoomLeave(sess *session.Session, env *event.Envelope) error {
	var payload event.RoomLeavePayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgRoomLeaveFailed})
		return err
	}

	g.rooms.Leave(payload.RoomID, sess.ConnectionID)
	g.emit(sess.ConnectionID, event.RoomLeft, &event.RoomAckPayload{RoomID: payload.RoomID})
	g.broadcastToRoom(payload.RoomID, event.RoomParticipantLeft, &event.RoomParticipantPayload{
		UserID:       sess.UserID(),
		ConnectionID: sess.ConnectionID,
	}, sess.ConnectionID)
	return nil
}

// handleRoomMessage fans a message out to every member of a room, including
// the sender
func (g *Gateway) handleRoomMessage(sess *session.Session, env *event.Envelope) error {
	var payload event.RoomMessagePayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgRoomMessageFailed})
		return err
	}

	if !g.rooms.IsMember(payload.RoomID, sess.ConnectionID) {
		g.emit(sess.ConnectionID, event.RoomError, &event.ErrorPayload{Message: constants.ErrMsgNotInRoom})
		return gatewayerrors.ErrNotRoomMember(payload.RoomID)
	}

	g.broadcastToRoom(payload.RoomID, event.RoomMessage, &event.RoomBroadcastPayload{
		UserID:    sess.UserID(),
		Message:   payload.Message,
		Timestamp: event.NowTimestamp(),
	}, "")
	return nil
}

// handleNotificationsSubscribe joins the user's notification room and sends
// the unread backlog
func (g *Gateway) handleNotificationsSubscribe(sess *session.Session) error {
	if !sess.Authenticated() || sess.UserID() == "" {
		g.emit(sess.ConnectionID, event.NotificationsError, &event.ErrorPayload{Message: constants.ErrMsgAuthRequired})
		return gatewayerrors.ErrAuthRequired()
	}

	g.rooms.Join(constants.NotificationRoomPrefix+sess.UserID(), sess.ConnectionID)

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()

	unread, err := g.records.UnreadNotifications(ctx, sess.UserID(), constants.UnreadNotificationLimit)
	if err != nil {
		util.LogError(g.logger, "router", "load unread notifications", err, "user_id", sess.UserID())
		g.emit(sess.ConnectionID, event.NotificationsError, &event.ErrorPayload{Message: constants.ErrMsgNotifSubFailed})
		return gatewayerrors.ErrStoreError(err)
	}

	records := make([]event.NotificationRecord, len(unread))
	for i, n := range unread {
		records[i] = event.NotificationRecord{
			ID:        n.ID,
			Type:      n.Type,
			Title:     n.Title,
			Message:   n.Message,
			Metadata:  n.Metadata,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	g.emit(sess.ConnectionID, event.NotificationsInitial, &event.NotificationsInitialPayload{Notifications: records})
	return nil
}

// handleNotificationsMarkRead marks one of the user's notifications as read
func (g *Gateway) handleNotificationsMarkRead(sess *session.Session, env *event.Envelope) error {
	if !sess.Authenticated() || sess.UserID() == "" {
		g.emit(sess.ConnectionID, event.NotificationsError, &event.ErrorPayload{Message: constants.ErrMsgAuthRequired})
		return gatewayerrors.ErrAuthRequired()
	}

	var payload event.NotificationReadPayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.NotificationsError, &event.ErrorPayload{Message: constants.ErrMsgNotifMarkFailed})
		return err
	}

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()

	if err := g.records.MarkNotificationRead(ctx, payload.NotificationID, sess.UserID()); err != nil {
		util.LogError(g.logger, "router", "mark notification read", err,
			"notification_id", payload.NotificationID,
			"user_id", sess.UserID())
		g.emit(sess.ConnectionID, event.NotificationsError, &event.ErrorPayload{Message: constants.ErrMsgNotifMarkFailed})
		return gatewayerrors.ErrStoreError(err)
	}

	g.emit(sess.ConnectionID, event.NotificationsMarkedRead, &event.MarkedReadPayload{NotificationID: payload.NotificationID})
	return nil
}

// handleCaseSubscribe verifies case access and joins the case room
func (g *Gateway) handleCaseSubscribe(sess *session.Session, env *event.Envelope) error {
	if !sess.Authenticated() || sess.UserID() == "" {
		g.emit(sess.ConnectionID, event.CaseError, &event.ErrorPayload{Message: constants.ErrMsgAuthRequired})
		return gatewayerrors.ErrAuthRequired()
	}

	var payload event.CaseSubscribePayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.CaseError, &event.ErrorPayload{Message: constants.ErrMsgCaseSubscribeFailed})
		return err
	}

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()

	hasAccess, err := g.records.UserHasCaseAccess(ctx, payload.CaseID, sess.UserID())
	if err != nil {
		util.LogError(g.logger, "router", "check case access", err,
			"case_id", payload.CaseID,
			"user_id", sess.UserID())
		g.emit(sess.ConnectionID, event.CaseError, &event.ErrorPayload{Message: constants.ErrMsgCaseSubscribeFailed})
		return gatewayerrors.ErrStoreError(err)
	}
	if !hasAccess {
		g.logger.Warn("Case subscription denied",
			"case_id", payload.CaseID,
			"user_id", sess.UserID())
		g.emit(sess.ConnectionID, event.CaseError, &event.ErrorPayload{Message: constants.ErrMsgCaseUnauthorized})
		return gatewayerrors.ErrInsufficientPermissions(nil)
	}

	g.rooms.Join(constants.CaseRoomPrefix+payload.CaseID, sess.ConnectionID)
	g.emit(sess.ConnectionID, event.CaseSubscribed, &event.CaseAckPayload{CaseID: payload.CaseID})
	return nil
}

// handleCaseUnsubscribe leaves a case room
func (g *Gateway) handleCaseUnsubscribe(sess *session.Session, env *event.Envelope) error {
	var payload event.CaseSubscribePayload
	if err := env.DecodeInto(&payload); err != nil {
		return err
	}

	g.rooms.Leave(constants.CaseRoomPrefix+payload.CaseID, sess.ConnectionID)
	g.emit(sess.ConnectionID, event.CaseUnsubscribed, &event.CaseAckPayload{CaseID: payload.CaseID})
	return nil
}

// handleReconnectAttempt restores a dropped conversation and replays its
// recent history in chronological order
func (g *Gateway) handleReconnectAttempt(sess *session.Session, env *event.Envelope) error {
	var payload event.ReconnectAttemptPayload
	if err := env.DecodeInto(&payload); err != nil {
		g.emit(sess.ConnectionID, event.ReconnectError, &event.ErrorPayload{Message: constants.ErrMsgReconnectFailed})
		return err
	}

	conversationID := payload.ConversationID
	if conversationID == "" {
		conversationID = sess.ConversationID()
	}
	if conversationID == "" {
		g.emit(sess.ConnectionID, event.ReconnectError, &event.ErrorPayload{Message: constants.ErrMsgReconnectFailed})
		return gatewayerrors.ErrConversationNotFound(conversationID)
	}

	ctx, cancel := util.NewTimeoutContext(constants.DefaultContextTimeout)
	defer cancel()

	conversation, err := g.records.GetConversation(ctx, conversationID)
	if err != nil {
		util.LogError(g.logger, "router", "restore conversation", err,
			"conversation_id", conversationID)
		g.emit(sess.ConnectionID, event.ReconnectError, &event.ErrorPayload{Message: constants.ErrMsgReconnectFailed})
		if errors.Is(err, store.ErrConversationNotFound) {
			return gatewayerrors.ErrConversationNotFound(conversationID)
		}
		return gatewayerrors.ErrStoreError(err)
	}

	roomID := constants.ConversationRoomPrefix + conversation.ID
	g.rooms.Join(roomID, sess.ConnectionID)
	sess.BindConversation(conversation.ID, roomID)

	messages, err := g.records.RecentMessages(ctx, conversation.ID, constants.ReconnectHistoryLimit)
	if err != nil {
		util.LogError(g.logger, "router", "load conversation history", err,
			"conversation_id", conversation.ID)
		g.emit(sess.ConnectionID, event.ReconnectError, &event.ErrorPayload{Message: constants.ErrMsgReconnectFailed})
		return gatewayerrors.ErrStoreError(err)
	}

	history := make([]event.HistoryMessage, len(messages))
	for i, m := range messages {
		history[i] = event.HistoryMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  mapToMetadata(m.Metadata),
			Timestamp: m.CreatedAt.UTC().Format(time.RFC3339),
		}
	}

	g.emit(sess.ConnectionID, event.ReconnectSuccess, &event.ReconnectSuccessPayload{
		Conversation: event.ConversationHistory{
			ID:       conversation.ID,
			Messages: history,
		},
	})

	g.logger.Info("Session restored",
		"conversation_id", conversation.ID,
		"connection_id", sess.ConnectionID,
		"history_messages", len(history))
	return nil
}

// handleEscalation hands the user off to voice or a human agent. Human
// handoff creates a support ticket only when both the user and conversation
// are known.
func (g *Gateway) handleEscalation(sess *session.Session, escalationType string) {
	metrics.Escalations.WithLabelValues(escalationType).Inc()
	spanish := sess.Language() == constants.LanguageSpanish

	switch escalationType {
	case constants.EscalationVoice:
		message := constants.VoiceEscalationEN
		if spanish {
			message = constants.VoiceEscalationES
		}
		g.emit(sess.ConnectionID, event.Escalation, &event.EscalationPayload{
			Type:        constants.EscalationVoice,
			Message:     message,
			PhoneNumber: constants.VoiceCallbackNumber,
		})

	case constants.EscalationHuman:
		userID := sess.UserID()
		conversationID := sess.ConversationID()
		if userID != "" && conversationID != "" {
			ctx, cancel := util.NewTimeoutContext(constants.PersistTimeout)
			defer cancel()

			ticket := &store.SupportTicket{
				UserID:      userID,
				Subject:     constants.TicketSubjectHumanAgent,
				Description: fmt.Sprintf("User requested a human agent during conversation %s", conversationID),
				Category:    constants.TicketCategoryGeneralInquiry,
				Priority:    constants.TicketPriorityHigh,
				Status:      constants.TicketStatusOpen,
				Metadata:    map[string]string{"conversationId": conversationID},
			}
			if err := g.records.CreateSupportTicket(ctx, ticket); err != nil {
				util.LogError(g.logger, "router", "create support ticket", err,
					"conversation_id", conversationID)
			}

			if g.alerter != nil {
				language := sess.Language()
				util.SafeGo(g.logger, "router", func() {
					if err := g.alerter.EscalationAlert(userID, conversationID, language); err != nil {
						util.LogError(g.logger, "router", "send escalation alert", err,
							"conversation_id", conversationID)
					}
				})
			}
		}

		message := constants.HumanEscalationEN
		if spanish {
			message = constants.HumanEscalationES
		}
		g.emit(sess.ConnectionID, event.Escalation, &event.EscalationPayload{
			Type:    constants.EscalationHuman,
			Message: message,
		})

	default:
		g.logger.Warn("Unknown escalation type", "type", escalationType)
	}
}

// SendNotification pushes a notification live to the user's notification room
// and records it durably. Delivery is fire-and-forget: the broadcast happens
// whether or not the record can be written.
func (g *Gateway) SendNotification(ctx context.Context, notification *store.Notification) {
	g.broadcastToRoom(constants.NotificationRoomPrefix+notification.UserID, event.Notification, &event.NotificationPayload{
		Type:      notification.Type,
		Title:     notification.Title,
		Message:   notification.Message,
		Metadata:  notification.Metadata,
		Timestamp: event.NowTimestamp(),
	}, "")
	metrics.NotificationsPublished.Inc()

	// The durable record always carries the SYSTEM type and backs later
	// notifications:subscribe fetches
	record := *notification
	record.Type = constants.NotificationTypeSystem
	record.Read = false
	if err := g.records.CreateNotification(ctx, &record); err != nil {
		util.LogError(g.logger, "router", "persist notification", err,
			"user_id", notification.UserID)
	}
}

// SendCaseUpdate fans an update out to the case room and notifies the client
// and the attorney. The attorney is skipped when they made the update.
func (g *Gateway) SendCaseUpdate(ctx context.Context, caseID, updateType string, data map[string]string, updatedBy string) error {
	g.broadcastToRoom(constants.CaseRoomPrefix+caseID, event.CaseUpdate, &event.CaseUpdatePayload{
		UpdateType: updateType,
		Data:       data,
		Timestamp:  event.NowTimestamp(),
	}, "")
	metrics.CaseUpdatesPublished.Inc()

	// The lookup only drives the notification fan-out; room members already
	// have their update
	c, err := g.records.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, store.ErrCaseNotFound) {
			return gatewayerrors.ErrCaseNotFound(caseID)
		}
		return gatewayerrors.ErrStoreError(err)
	}

	message := caseUpdateMessage(updateType, c.CaseNumber)
	notifyMetadata := map[string]string{
		"caseId":     caseID,
		"updateType": updateType,
	}

	g.SendNotification(ctx, &store.Notification{
		UserID:   c.ClientID,
		Type:     constants.NotificationTypeInfo,
		Title:    constants.CaseUpdateTitle,
		Message:  message,
		Metadata: notifyMetadata,
	})

	// No else needed: the attorney who made the change already knows
	if c.AttorneyID != "" && c.AttorneyID != updatedBy {
		g.SendNotification(ctx, &store.Notification{
			UserID:   c.AttorneyID,
			Type:     constants.NotificationTypeInfo,
			Title:    constants.CaseUpdateTitle,
			Message:  message,
			Metadata: notifyMetadata,
		})
	}

	return nil
}

// BroadcastToUser sends an event to every connection of a user
func (g *Gateway) BroadcastToUser(userID, name string, payload interface{}) {
	for _, connectionID := range g.sessions.ConnectionsForUser(userID) {
		g.emit(connectionID, name, payload)
	}
}

// BroadcastToAll sends an event to every live connection
func (g *Gateway) BroadcastToAll(name string, payload interface{}) {
	for _, sess := range g.sessions.All() {
		g.emit(sess.ConnectionID, name, payload)
	}
}

// ActiveSessionsCount returns the number of live sessions
func (g *Gateway) ActiveSessionsCount() int {
	return g.sessions.Count()
}

// RoomParticipantCount returns the number of connections in a room
func (g *Gateway) RoomParticipantCount(roomID string) int {
	return g.rooms.MemberCount(roomID)
}

// Shutdown stops the gateway's background goroutines
func (g *Gateway) Shutdown() {
	g.messageLimiter.StopCleanup()
}

// persistMessage writes a message to the record store (fire-and-forget).
// The live socket is the source of truth; storage failure is logged but
// non-fatal.
func (g *Gateway) persistMessage(message *store.Message) {
	ctx, cancel := util.NewTimeoutContext(constants.PersistTimeout)
	defer cancel()

	if err := g.records.AddMessage(ctx, message); err != nil {
		g.logger.Warn("Failed to persist message",
			"conversation_id", message.ConversationID,
			"role", message.Role,
			"error", err)
	}
}

// emit sends an event to a single connection
func (g *Gateway) emit(connectionID, name string, payload interface{}) {
	frame, err := event.Encode(name, payload)
	if err != nil {
		util.LogError(g.logger, "router", "encode event", err, "event", name)
		return
	}

	g.mu.RLock()
	conn, ok := g.connections[connectionID]
	g.mu.RUnlock()

	// No else needed: the connection may have gone away mid-dispatch
	if !ok {
		return
	}

	if err := conn.Send(frame); err != nil {
		g.logger.Warn("Failed to send event",
			"connection_id", connectionID,
			"event", name,
			"error", err)
		return
	}

	metrics.EventsSent.Inc()
}

// broadcastToRoom sends an event to every member of a room except the
// excluded connection. An empty exclusion sends to everyone.
func (g *Gateway) broadcastToRoom(roomID, name string, payload interface{}, excludeConnectionID string) {
	for _, connectionID := range g.rooms.Members(roomID) {
		if connectionID == excludeConnectionID {
			continue
		}
		g.emit(connectionID, name, payload)
	}
}

// caseUpdateMessage maps an update type to its notification body
func caseUpdateMessage(updateType, caseNumber string) string {
	template, ok := constants.CaseUpdateMessages[updateType]
	if !ok {
		template = constants.CaseUpdateFallback
	}
	return fmt.Sprintf(template, caseNumber)
}

// metadataToMap flattens response metadata for storage
func metadataToMap(metadata *event.ResponseMetadata) map[string]string {
	if metadata == nil {
		return nil
	}

	m := make(map[string]string)
	if metadata.Intent != "" {
		m["intent"] = metadata.Intent
	}
	if metadata.PracticeArea != "" {
		m["practiceArea"] = metadata.PracticeArea
	}
	if metadata.Escalate {
		m["escalate"] = "true"
	}
	if metadata.EscalationType != "" {
		m["escalationType"] = metadata.EscalationType
	}
	if metadata.Source != "" {
		m["source"] = metadata.Source
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// mapToMetadata restores response metadata from its stored form
func mapToMetadata(m map[string]string) *event.ResponseMetadata {
	if len(m) == 0 {
		return nil
	}

	escalate, _ := strconv.ParseBool(m["escalate"])
	return &event.ResponseMetadata{
		Intent:         m["intent"],
		PracticeArea:   m["practiceArea"],
		Escalate:       escalate,
		EscalationType: m["escalationType"],
		Source:         m["source"],
	}
}
