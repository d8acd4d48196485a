// Package session tracks the per-connection state of the gateway: who the
// connection belongs to, its language, and the conversation it is bound to.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vasquez-law/chatgateway/internal/auth"
	"github.com/vasquez-law/chatgateway/internal/metrics"
)

var (
	// ErrSessionNotFound is returned when a session is not found
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidConnectionID is returned when the connection ID is empty
	ErrInvalidConnectionID = errors.New("connection ID cannot be empty")
)

// DefaultSessionID builds the fallback session identifier used when the
// client does not supply one. The format is part of the client protocol.
func DefaultSessionID() string {
	return fmt.Sprintf("session_%d", time.Now().UnixMilli())
}

// Session is the state of one connection. Identity fields are fixed at
// handshake; language and conversation binding change over the connection's
// lifetime and are guarded by a mutex because the publisher reads them from
// outside the connection's read loop.
type Session struct {
	ConnectionID string
	SessionID    string
	ConnectedAt  time.Time

	mu             sync.RWMutex
	language       string
	userID         string
	userRole       string
	authenticated  bool
	conversationID string
	roomID         string
}

// New creates a session for a freshly established connection
func New(connectionID, sessionID string, identity auth.Identity) *Session {
	if sessionID == "" {
		sessionID = DefaultSessionID()
	}
	language := identity.Language
	if language == "" {
		language = "en"
	}
	return &Session{
		ConnectionID:   connectionID,
		SessionID:      sessionID,
		ConnectedAt:    time.Now(),
		language:       language,
		userID:         identity.UserID,
		userRole:       identity.UserRole,
		authenticated:  identity.Authenticated,
		conversationID: identity.ConversationID,
	}
}

// Language returns the session language
func (s *Session) Language() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.language
}

// SetLanguage updates the session language
func (s *Session) SetLanguage(language string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = language
}

// UserID returns the user the connection belongs to, empty when anonymous
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// SetUserID overrides the user identifier (chat:init may supply one)
func (s *Session) SetUserID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// UserRole returns the verified role from the bearer token
func (s *Session) UserRole() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userRole
}

// Authenticated reports whether the connection presented valid credentials
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// ConversationID returns the bound conversation, empty before chat:init
func (s *Session) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// RoomID returns the conversation room the connection sits in
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// BindConversation binds the session to a conversation and its room
func (s *Session) BindConversation(conversationID, roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.roomID = roomID
}

// Duration returns how long the connection has been up
func (s *Session) Duration() time.Duration {
	return time.Since(s.ConnectedAt)
}

// Snapshot captures the identity for a reconnection token
func (s *Session) Snapshot() auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return auth.Identity{
		UserID:         s.userID,
		UserRole:       s.userRole,
		Language:       s.language,
		ConversationID: s.conversationID,
		Authenticated:  s.authenticated,
	}
}

// Store holds the sessions of all live connections, keyed by connection ID
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewStore creates an empty session store
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// Add registers a session. Adding under an already used connection ID
// replaces the previous session.
func (st *Store) Add(s *Session) error {
	if s.ConnectionID == "" {
		return ErrInvalidConnectionID
	}

	st.mu.Lock()
	st.sessions[s.ConnectionID] = s
	count := len(st.sessions)
	st.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	return nil
}

// Get returns the session for a connection
func (st *Store) Get(connectionID string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[connectionID]
	return s, ok
}

// Delete removes the session for a connection
func (st *Store) Delete(connectionID string) {
	st.mu.Lock()
	delete(st.sessions, connectionID)
	count := len(st.sessions)
	st.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
}

// Count returns the number of live sessions
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// ConnectionsForUser returns the connection IDs belonging to a user
func (st *Store) ConnectionsForUser(userID string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	var ids []string
	for id, s := range st.sessions {
		if s.UserID() == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns a snapshot of every live session
func (st *Store) All() []*Session {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
