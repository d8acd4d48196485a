// Package constants provides centralized constant definitions for the chat gateway.
// This eliminates magic numbers and strings throughout the codebase.
package constants

import "time"

// HTTP Status Codes
const (
	StatusOK                 = 200
	StatusTooManyRequests    = 429
	StatusServiceUnavailable = 503
)

// Timeouts for various operations
const (
	DefaultContextTimeout = 10 * time.Second // Standard database operations
	MongoIndexTimeout     = 30 * time.Second // MongoDB index creation
	HealthCheckTimeout    = 2 * time.Second  // Health check operations
	RespondTimeout        = 30 * time.Second // Response generator invocations
	PersistTimeout        = 5 * time.Second  // Conversation and message writes
)

// Sizes and Limits
const (
	DefaultMaxMessageSize   = 1048576 // 1MB in bytes for WebSocket frames
	DefaultRateLimit        = 30      // Messages per window per connection
	DefaultAdminRateLimit   = 20      // Default admin requests per minute
	PublicEndpointRate      = 60      // Requests per minute for public endpoints (healthz, readyz, metrics)
	DefaultMaxUserConns     = 10      // Concurrent sockets per authenticated user
	DefaultMaxAnonConns     = 20      // Concurrent anonymous sockets per remote IP
	UnreadNotificationLimit = 10      // Unread notifications sent on subscribe
	ReconnectHistoryLimit   = 20      // Messages replayed on session restore
	MaxRetryAttempts        = 3       // Maximum retry attempts for transient errors
	MaxEventsPerConnection  = 1000    // Maximum rate limit events tracked per connection
	MaxConnectionsTracked   = 100000  // Maximum distinct connections in rate limiter map
)

// HTTP Server Timeouts (for standalone server mode)
const (
	HTTPReadTimeout  = 15 * time.Second  // Maximum time to read the entire request
	HTTPWriteTimeout = 60 * time.Second  // Maximum time to write the response
	HTTPIdleTimeout  = 120 * time.Second // Maximum time to keep idle connections alive
)

// Durations for background operations
const (
	DefaultRateWindow      = 1 * time.Minute // Rate limiting window
	DefaultReconnectTTL    = 5 * time.Minute // Reconnection token time-to-live
	DefaultCleanupInterval = 5 * time.Minute // Cleanup goroutine interval
	InitialRetryDelay      = 100 * time.Millisecond
	MaxRetryDelay          = 2 * time.Second
	RetryMultiplier        = 2.0
)

// Role names carried in verified token claims
const (
	RoleAdmin    = "ADMIN"
	RoleAttorney = "ATTORNEY"
)

// Supported languages
const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

// Identifier prefixes. These formats are part of the client protocol.
const (
	ConversationRoomPrefix = "conversation_"
	CaseRoomPrefix         = "case_"
	NotificationRoomPrefix = "notifications_"
	ReconnectTokenPrefix   = "reconnect_"
	SessionIDPrefix        = "session_"
)

// Room types accepted by room:join
const (
	RoomTypeConversation = "conversation"
	RoomTypeCase         = "case"
	RoomTypeSupport      = "support"
	RoomTypeBroadcast    = "broadcast"
)

// Conversation record fields
const (
	ConversationChannelChat  = "chat"
	ConversationStatusActive = "active"
	ConversationStatusClosed = "closed"
	AnonymousUserID          = "anonymous"
)

// Message roles as stored and emitted
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// Support ticket fields created on human escalation
const (
	TicketCategoryGeneralInquiry = "GENERAL_INQUIRY"
	TicketPriorityHigh           = "HIGH"
	TicketStatusOpen             = "OPEN"
	TicketSubjectHumanAgent      = "Human Agent Requested"
)

// Escalation types recognized from response metadata
const (
	EscalationVoice = "voice"
	EscalationHuman = "human"
)

// VoiceCallbackNumber is the callback number emitted with voice escalations.
const VoiceCallbackNumber = "1-844-967-3536"

// Localized client-facing texts
const (
	WelcomeMessageEN = "Hello! I'm the Vasquez Law Firm virtual assistant. How can I help you today?"
	WelcomeMessageES = "¡Hola! Soy el asistente virtual de Vasquez Law Firm. ¿Cómo puedo ayudarte hoy?"

	VoiceEscalationEN = "I'm transferring you to our voice assistant. Please call 1-844-YO-PELEO."
	VoiceEscalationES = "Te estoy transfiriendo a nuestro asistente de voz. Por favor, llama al 1-844-YO-PELEO."

	HumanEscalationEN = "A member of our team will be in touch with you shortly."
	HumanEscalationES = "Un miembro de nuestro equipo se pondrá en contacto contigo pronto."
)

// Client-facing error strings sent over the socket
const (
	ErrMsgRateLimited         = "Too many messages. Please slow down."
	ErrMsgInitFailed          = "Failed to initialize chat"
	ErrMsgProcessFailed       = "Failed to process message"
	ErrMsgRoomUnauthorized    = "Unauthorized to join this room"
	ErrMsgRoomJoinFailed      = "Failed to join room"
	ErrMsgRoomLeaveFailed     = "Failed to leave room"
	ErrMsgNotInRoom           = "Not in this room"
	ErrMsgRoomMessageFailed   = "Failed to send room message"
	ErrMsgAuthRequired        = "Authentication required"
	ErrMsgCaseUnauthorized    = "Unauthorized to access this case"
	ErrMsgCaseSubscribeFailed = "Failed to subscribe to case updates"
	ErrMsgNotifSubFailed      = "Failed to subscribe to notifications"
	ErrMsgNotifMarkFailed     = "Failed to mark notification as read"
	ErrMsgReconnectFailed     = "Failed to restore session"
)

// CaseUpdateMessages maps an update type to its notification body template.
// The %s is the case number.
var CaseUpdateMessages = map[string]string{
	"status_change":     "Case %s status has been updated",
	"document_added":    "New document added to case %s",
	"note_added":        "New note added to case %s",
	"attorney_assigned": "Attorney assigned to case %s",
	"task_updated":      "Task updated in case %s",
}

// CaseUpdateFallback covers unrecognized update types.
const CaseUpdateFallback = "Case %s has been updated"

// CaseUpdateTitle is the title for all case update notifications.
const CaseUpdateTitle = "Case Update"

// Notification record types
const (
	NotificationTypeSystem = "SYSTEM"
	NotificationTypeInfo   = "info"
)

// HTTP Headers
const (
	HeaderAuthorization = "Authorization"
	HeaderRetryAfter    = "Retry-After"
	BearerPrefix        = "Bearer "
	BearerPrefixLength  = 7
)

// HTTP error messages for the admin surface
const (
	ErrMsgInvalidAuthHeader = "Invalid or missing Authorization header"
	ErrMsgInvalidToken      = "Invalid or expired token"
	ErrMsgForbidden         = "Insufficient permissions"
	ErrMsgInternalError     = "Internal server error"
	ErrMsgRateLimitExceeded = "Too many requests. Please try again later."
	ErrMsgUserIDRequired    = "User ID is required"
	ErrMsgCaseIDRequired    = "Case ID is required"
)

// Default Configuration Values
const (
	DefaultMongoURI   = "mongodb://localhost:27017"
	DefaultDatabase   = "gateway"
	DefaultPort       = 8080
	DefaultLogLevel   = "info"
	DefaultLogDir     = "logs"
	DefaultPathPrefix = "/gateway" // Default HTTP path prefix for all routes
)

// MongoDB collection names
const (
	CollConversations  = "conversations"
	CollMessages       = "messages"
	CollNotifications  = "notifications"
	CollCases          = "cases"
	CollSupportTickets = "support_tickets"
)

// MongoDB Index Names
const (
	IndexConversationUser  = "idx_conversation_user"
	IndexMessageConvTime   = "idx_message_conv_time"
	IndexNotificationUser  = "idx_notification_user_read"
	IndexCaseClient        = "idx_case_client"
)

// Weak Secrets for validation (security check)
var WeakSecrets = []string{
	"secret", "test", "test123", "password", "admin",
	"changeme", "default", "example", "demo", "12345",
	"placeholder",
}

// Minimum Security Requirements
const (
	MinJWTSecretLength = 32 // Minimum length for JWT secret (256 bits)
)

// Retry After Calculation
const (
	MillisecondsPerSecond = 1000
	MinRetryAfterSeconds  = 1 // Minimum retry-after value in seconds
)

// Network configuration defaults
const (
	DefaultTrustedProxies         = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"
	DefaultMetricsAllowedNetworks = "10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8"
)
