package auth

import (
	"github.com/real-rm/golog"
)

// Identity is the resolved identity of a connection after the handshake.
// The zero value is an anonymous identity.
type Identity struct {
	UserID         string
	UserRole       string
	Language       string
	ConversationID string
	Authenticated  bool
}

// SnapshotSource redeems a reconnection token for the identity snapshot it
// was issued against. Redeem must be single-use: a token that has been
// redeemed or has expired returns ok=false.
type SnapshotSource interface {
	Redeem(token string) (Identity, bool)
}

// Gate resolves the credentials presented during the handshake. Credential
// failures are non-fatal: a bad bearer token or unknown reconnection token
// downgrades the connection to anonymous instead of rejecting it.
type Gate struct {
	validator *JWTValidator
	snapshots SnapshotSource
	logger    *golog.Logger
}

// NewGate creates a handshake gate
func NewGate(validator *JWTValidator, snapshots SnapshotSource, logger *golog.Logger) *Gate {
	return &Gate{
		validator: validator,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Resolve determines the connection identity from the handshake material.
// Resolution order: bearer token, then reconnection token, then anonymous.
// A redeemed reconnection token also restores language and conversation.
func (g *Gate) Resolve(bearerToken, reconnectionToken string) Identity {
	identity := Identity{}

	if bearerToken != "" {
		claims, err := g.validator.ValidateToken(bearerToken)
		if err != nil {
			// Invalid credentials downgrade to anonymous
			g.logger.Warn("Bearer token rejected", "error", err)
		} else {
			identity.UserID = claims.UserID
			identity.UserRole = claims.Role
			identity.Authenticated = true
		}
	}

	if !identity.Authenticated && reconnectionToken != "" {
		snapshot, ok := g.snapshots.Redeem(reconnectionToken)
		if ok {
			identity = snapshot
		} else {
			g.logger.Warn("Reconnection token rejected")
		}
	}

	return identity
}
