// Package event defines the wire protocol for the chat gateway: the closed
// set of event names and the typed payloads exchanged over a connection.
// Frames are JSON envelopes of the form {"event": "<name>", "data": {...}}.
package event

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vasquez-law/chatgateway/internal/util"
)

// Inbound event names (client to gateway)
const (
	ChatInit               = "chat:init"
	Message                = "message"
	UserMessage            = "user:message"
	LanguageChange         = "language:change"
	TypingStart            = "typing:start"
	TypingStop             = "typing:stop"
	RoomJoin               = "room:join"
	RoomLeave              = "room:leave"
	RoomMessage            = "room:message"
	NotificationsSubscribe = "notifications:subscribe"
	NotificationsMarkRead  = "notifications:mark-read"
	CaseSubscribe          = "case:subscribe"
	CaseUnsubscribe        = "case:unsubscribe"
	ReconnectAttempt       = "reconnect:attempt"
)

// Outbound event names (gateway to client). Message and RoomMessage are
// bidirectional and reuse the inbound names.
const (
	AuthReconnectionToken   = "auth:reconnection-token"
	Error                   = "error"
	Typing                  = "typing"
	AssistantMessage        = "assistant:message"
	AssistantError          = "assistant:error"
	LanguageChanged         = "language:changed"
	RoomJoined              = "room:joined"
	RoomLeft                = "room:left"
	RoomError               = "room:error"
	RoomParticipantJoined   = "room:participant-joined"
	RoomParticipantLeft     = "room:participant-left"
	NotificationsInitial    = "notifications:initial"
	NotificationsError      = "notifications:error"
	NotificationsMarkedRead = "notifications:marked-read"
	Notification            = "notification"
	CaseSubscribed          = "case:subscribed"
	CaseUnsubscribed        = "case:unsubscribed"
	CaseError               = "case:error"
	CaseUpdate              = "case:update"
	ReconnectSuccess        = "reconnect:success"
	ReconnectError          = "reconnect:error"
	Escalation              = "escalation"
)

// ErrMissingEventName is returned when a frame has no event name
var ErrMissingEventName = errors.New("frame missing event name")

// Envelope is the outer frame for every event in both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a raw frame into an envelope
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := util.UnmarshalJSON(data, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrMissingEventName
	}
	return &env, nil
}

// DecodeInto unmarshals the envelope payload into a typed struct.
// A frame with no data section decodes into the zero value.
func (e *Envelope) DecodeInto(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	return util.UnmarshalJSON(e.Data, v)
}

// Encode builds the wire bytes for an outbound event
func Encode(name string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := util.MarshalJSON(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return util.MarshalJSON(&Envelope{Event: name, Data: data})
}

// NowTimestamp returns the protocol timestamp for the current instant
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// ResponseMetadata is attached to generated responses. Zero fields are
// omitted from the wire.
type ResponseMetadata struct {
	Intent         string `json:"intent,omitempty"`
	PracticeArea   string `json:"practiceArea,omitempty"`
	Escalate       bool   `json:"escalate,omitempty"`
	EscalationType string `json:"escalationType,omitempty"`
	Source         string `json:"source,omitempty"`
}

// Inbound payloads

// ChatInitPayload starts a conversation
type ChatInitPayload struct {
	UserID   string `json:"userId,omitempty"`
	Language string `json:"language,omitempty"`
}

// MessagePayload is a chat message from the client
type MessagePayload struct {
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UserMessagePayload is the simplified virtual-assistant message path
type UserMessagePayload struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// LanguageChangePayload switches the session language
type LanguageChangePayload struct {
	Language string `json:"language"`
}

// RoomJoinPayload requests membership in a room
type RoomJoinPayload struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
}

// RoomLeavePayload leaves a room
type RoomLeavePayload struct {
	RoomID string `json:"roomId"`
}

// RoomMessagePayload broadcasts a message to a room
type RoomMessagePayload struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

// NotificationReadPayload marks a notification as read
type NotificationReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// CaseSubscribePayload subscribes to updates for a case
type CaseSubscribePayload struct {
	CaseID string `json:"caseId"`
}

// ReconnectAttemptPayload resumes a previous conversation
type ReconnectAttemptPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
}

// Outbound payloads

// ReconnectionTokenPayload carries the single-use token issued on connect
type ReconnectionTokenPayload struct {
	Token string `json:"token"`
}

// ChatMessagePayload is an assistant or replayed chat message
type ChatMessagePayload struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  *ResponseMetadata `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ErrorPayload carries a client-facing error string
type ErrorPayload struct {
	Message string `json:"message"`
}

// TypingPayload signals typing state. UserID is set on room broadcasts only.
type TypingPayload struct {
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// AssistantMessagePayload is the virtual-assistant response shape
type AssistantMessagePayload struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Metadata  *ResponseMetadata `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// LanguageChangedPayload acknowledges a language switch
type LanguageChangedPayload struct {
	Language string `json:"language"`
}

// RoomAckPayload acknowledges a join or leave
type RoomAckPayload struct {
	RoomID string `json:"roomId"`
}

// RoomParticipantPayload notifies members of a join or leave
type RoomParticipantPayload struct {
	UserID       string `json:"userId,omitempty"`
	ConnectionID string `json:"connectionId"`
}

// RoomBroadcastPayload is a message fanned out to a room
type RoomBroadcastPayload struct {
	UserID    string `json:"userId,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// NotificationRecord is the wire shape of a stored notification
type NotificationRecord struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt string            `json:"createdAt"`
}

// NotificationsInitialPayload delivers the unread batch on subscribe
type NotificationsInitialPayload struct {
	Notifications []NotificationRecord `json:"notifications"`
}

// MarkedReadPayload acknowledges a mark-read
type MarkedReadPayload struct {
	NotificationID string `json:"notificationId"`
}

// NotificationPayload is a live notification pushed to a user room
type NotificationPayload struct {
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// CaseAckPayload acknowledges a case subscribe or unsubscribe
type CaseAckPayload struct {
	CaseID string `json:"caseId"`
}

// CaseUpdatePayload is a live update fanned out to a case room
type CaseUpdatePayload struct {
	UpdateType string            `json:"updateType"`
	Data       map[string]string `json:"data,omitempty"`
	Timestamp  string            `json:"timestamp"`
}

// HistoryMessage is a replayed message inside a reconnect response
type HistoryMessage struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  *ResponseMetadata `json:"metadata,omitempty"`
	Timestamp string            `json:"timestamp"`
}

// ConversationHistory is the restored conversation state
type ConversationHistory struct {
	ID       string           `json:"id"`
	Messages []HistoryMessage `json:"messages"`
}

// ReconnectSuccessPayload restores a conversation after reconnect
type ReconnectSuccessPayload struct {
	Conversation ConversationHistory `json:"conversation"`
}

// EscalationPayload hands the user off to voice or a human agent
type EscalationPayload struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}
