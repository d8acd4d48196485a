// Package errors provides error handling functionality for the chat gateway.
// It defines error categories, error codes, and typed constructors.
package errors

import "fmt"

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryHandshake represents errors establishing a connection
	CategoryHandshake ErrorCategory = "handshake"
	// CategoryCredential represents invalid or expired credentials
	CategoryCredential ErrorCategory = "credential"
	// CategoryAuthorization represents denied access to a resource
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryCollaborator represents failures in backing services (store, responder)
	CategoryCollaborator ErrorCategory = "collaborator"
	// CategoryNotFound represents missing entities (conversation, case, token)
	CategoryNotFound ErrorCategory = "not_found"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Handshake and credential errors
	ErrCodeHandshakeFailed ErrorCode = "HANDSHAKE_FAILED"
	ErrCodeInvalidToken    ErrorCode = "INVALID_TOKEN"
	ErrCodeExpiredToken    ErrorCode = "EXPIRED_TOKEN"

	// Authorization errors
	ErrCodeAuthRequired      ErrorCode = "AUTH_REQUIRED"
	ErrCodeInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"
	ErrCodeNotRoomMember     ErrorCode = "NOT_ROOM_MEMBER"

	// Collaborator errors
	ErrCodeStoreError     ErrorCode = "STORE_ERROR"
	ErrCodeResponderError ErrorCode = "RESPONDER_ERROR"

	// Not found errors
	ErrCodeConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrCodeCaseNotFound         ErrorCode = "CASE_NOT_FOUND"
	ErrCodeTokenNotFound        ErrorCode = "TOKEN_NOT_FOUND"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// GatewayError represents an application error with category and recoverability information
type GatewayError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *GatewayError) IsFatal() bool {
	return !e.Recoverable
}

// NewHandshakeError creates a handshake error (fatal)
func NewHandshakeError(message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryHandshake,
		Code:        ErrCodeHandshakeFailed,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewCredentialError creates a credential error. Recoverable: presenting a bad
// credential downgrades to anonymous instead of closing the connection.
func NewCredentialError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryCredential,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewAuthorizationError creates an authorization error (recoverable, the
// operation is denied but the connection survives)
func NewAuthorizationError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryAuthorization,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewCollaboratorError creates an error for a failing backing service
func NewCollaboratorError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryCollaborator,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryNotFound,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *GatewayError {
	return &GatewayError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *GatewayError {
	return NewCredentialError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrExpiredToken creates an expired token error
func ErrExpiredToken(cause error) *GatewayError {
	return NewCredentialError(ErrCodeExpiredToken, "Authentication token has expired", cause)
}

// ErrAuthRequired creates an authentication required error
func ErrAuthRequired() *GatewayError {
	return NewAuthorizationError(ErrCodeAuthRequired, "Authentication required", nil)
}

// ErrInsufficientPermissions creates an insufficient permissions error
func ErrInsufficientPermissions(cause error) *GatewayError {
	return NewAuthorizationError(ErrCodeInsufficientPerms, "Insufficient permissions for this operation", cause)
}

// ErrNotRoomMember creates an error for sending to a room without membership
func ErrNotRoomMember(roomID string) *GatewayError {
	return NewAuthorizationError(ErrCodeNotRoomMember, fmt.Sprintf("Not a member of room %s", roomID), nil)
}

// ErrStoreError creates a record store error
func ErrStoreError(cause error) *GatewayError {
	return NewCollaboratorError(ErrCodeStoreError, "Record store operation failed", cause)
}

// ErrResponderError creates a response generator error
func ErrResponderError(cause error) *GatewayError {
	return NewCollaboratorError(ErrCodeResponderError, "Response generation failed", cause)
}

// ErrConversationNotFound creates a conversation not found error
func ErrConversationNotFound(conversationID string) *GatewayError {
	return NewNotFoundError(ErrCodeConversationNotFound,
		fmt.Sprintf("Conversation %s not found", conversationID), nil)
}

// ErrCaseNotFound creates a case not found error
func ErrCaseNotFound(caseID string) *GatewayError {
	return NewNotFoundError(ErrCodeCaseNotFound, fmt.Sprintf("Case %s not found", caseID), nil)
}

// ErrTokenNotFound creates an unknown reconnection token error
func ErrTokenNotFound() *GatewayError {
	return NewNotFoundError(ErrCodeTokenNotFound, "Reconnection token not found or expired", nil)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *GatewayError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit exceeded error
func ErrConnectionLimitExceeded(retryAfter int) *GatewayError {
	return NewRateLimitError(ErrCodeConnectionLimit,
		"Connection limit exceeded, please try again later", retryAfter, nil)
}
