// Package store persists gateway records in MongoDB using gomongo:
// conversations, messages, notifications, cases, and support tickets.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vasquez-law/chatgateway/internal/constants"
	"github.com/vasquez-law/chatgateway/internal/metrics"
)

var (
	// ErrConversationNotFound is returned when a conversation does not exist
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrNotificationNotFound is returned when a notification does not exist
	// or belongs to another user
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrCaseNotFound is returned when a case does not exist
	ErrCaseNotFound = errors.New("case not found")
	// ErrInvalidID is returned when a required identifier is empty
	ErrInvalidID = errors.New("identifier cannot be empty")
)

// retryConfig holds configuration for MongoDB retry logic
type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

var defaultRetryConfig = retryConfig{
	maxAttempts:  constants.MaxRetryAttempts,
	initialDelay: constants.InitialRetryDelay,
	maxDelay:     constants.MaxRetryDelay,
	multiplier:   constants.RetryMultiplier,
}

// Conversation is a chat conversation record
type Conversation struct {
	ID        string               `bson:"_id"`
	UserID    string               `bson:"uid"`
	Channel   string               `bson:"channel"`
	Status    string               `bson:"status"`
	Language  string               `bson:"lang"`
	StartedAt time.Time            `bson:"ts"`
	EndedAt   *time.Time           `bson:"endTs,omitempty"`
	Metadata  ConversationMetadata `bson:"meta"`
}

// ConversationMetadata captures how the conversation was established and,
// once closed, how it ended
type ConversationMetadata struct {
	ConnectionID     string `bson:"connId,omitempty"`
	SessionID        string `bson:"sessionId,omitempty"`
	Authenticated    bool   `bson:"authenticated"`
	DisconnectReason string `bson:"disconnectReason,omitempty"`
	DurationMillis   int64  `bson:"dur,omitempty"`
}

// Message is a stored chat message
type Message struct {
	ID             string            `bson:"_id"`
	ConversationID string            `bson:"convId"`
	Role           string            `bson:"role"`
	Content        string            `bson:"content"`
	Metadata       map[string]string `bson:"meta,omitempty"`
	CreatedAt      time.Time         `bson:"ts"`
}

// Notification is a stored user notification
type Notification struct {
	ID        string            `bson:"_id"`
	UserID    string            `bson:"uid"`
	Type      string            `bson:"type"`
	Title     string            `bson:"title"`
	Message   string            `bson:"message"`
	Metadata  map[string]string `bson:"meta,omitempty"`
	Read      bool              `bson:"read"`
	CreatedAt time.Time         `bson:"ts"`
}

// Case is the subset of a case record the gateway reads
type Case struct {
	ID         string `bson:"_id"`
	ClientID   string `bson:"clientId"`
	AttorneyID string `bson:"attorneyId,omitempty"`
	CaseNumber string `bson:"caseNumber"`
}

// SupportTicket is created when a user asks for a human agent
type SupportTicket struct {
	ID          string            `bson:"_id"`
	UserID      string            `bson:"uid"`
	Subject     string            `bson:"subject"`
	Description string            `bson:"description"`
	Category    string            `bson:"category"`
	Priority    string            `bson:"priority"`
	Status      string            `bson:"status"`
	Metadata    map[string]string `bson:"meta,omitempty"`
	CreatedAt   time.Time         `bson:"ts"`
}

// MongoStore manages gateway record persistence using gomongo
type MongoStore struct {
	mongo          *gomongo.Mongo
	conversations  *gomongo.MongoCollection
	messages       *gomongo.MongoCollection
	notifications  *gomongo.MongoCollection
	cases          *gomongo.MongoCollection
	supportTickets *gomongo.MongoCollection
	logger         *golog.Logger
}

// NewMongoStore creates a store bound to the given database
func NewMongoStore(mongoInstance *gomongo.Mongo, dbName string, logger *golog.Logger) *MongoStore {
	return &MongoStore{
		mongo:          mongoInstance,
		conversations:  mongoInstance.Coll(dbName, constants.CollConversations),
		messages:       mongoInstance.Coll(dbName, constants.CollMessages),
		notifications:  mongoInstance.Coll(dbName, constants.CollNotifications),
		cases:          mongoInstance.Coll(dbName, constants.CollCases),
		supportTickets: mongoInstance.Coll(dbName, constants.CollSupportTickets),
		logger:         logger,
	}
}

// EnsureIndexes creates the indexes the gateway queries depend on.
// Call once during registration.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	conversationIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uid", Value: 1}, {Key: "ts", Value: -1}},
			Options: options.Index().SetName(constants.IndexConversationUser),
		},
	}
	messageIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "convId", Value: 1}, {Key: "ts", Value: -1}},
			Options: options.Index().SetName(constants.IndexMessageConvTime),
		},
	}
	notificationIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "uid", Value: 1}, {Key: "read", Value: 1}, {Key: "ts", Value: -1}},
			Options: options.Index().SetName(constants.IndexNotificationUser),
		},
	}
	caseIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "clientId", Value: 1}},
			Options: options.Index().SetName(constants.IndexCaseClient),
		},
	}

	for _, batch := range []struct {
		coll    *gomongo.MongoCollection
		indexes []mongo.IndexModel
	}{
		{s.conversations, conversationIndexes},
		{s.messages, messageIndexes},
		{s.notifications, notificationIndexes},
		{s.cases, caseIndexes},
	} {
		if _, err := batch.coll.CreateIndexes(ctx, batch.indexes); err != nil {
			return fmt.Errorf("failed to create indexes: %w", err)
		}
	}

	s.logger.Info("MongoDB indexes created successfully")
	return nil
}

// CreateConversation inserts a new conversation. A missing ID is generated.
func (s *MongoStore) CreateConversation(ctx context.Context, conversation *Conversation) error {
	if conversation.ID == "" {
		conversation.ID = uuid.New().String()
	}
	if conversation.StartedAt.IsZero() {
		conversation.StartedAt = time.Now()
	}

	err := s.retryOperation(ctx, "CreateConversation", func() error {
		_, err := s.conversations.InsertOne(ctx, conversation)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	metrics.ConversationsCreated.Inc()
	return nil
}

// GetConversation fetches a conversation by ID
func (s *MongoStore) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidID
	}

	var conversation Conversation
	err := s.retryOperation(ctx, "GetConversation", func() error {
		result := s.conversations.FindOne(ctx, bson.M{"_id": conversationID})
		return result.Decode(&conversation)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conversation, nil
}

// CloseConversation marks a conversation closed and records how it ended
func (s *MongoStore) CloseConversation(ctx context.Context, conversationID, reason string, duration time.Duration) error {
	if conversationID == "" {
		return ErrInvalidID
	}

	now := time.Now()
	update := bson.M{"$set": bson.M{
		"status":                constants.ConversationStatusClosed,
		"endTs":                 now,
		"meta.disconnectReason": reason,
		"meta.dur":              duration.Milliseconds(),
	}}

	err := s.retryOperation(ctx, "CloseConversation", func() error {
		_, err := s.conversations.UpdateOne(ctx, bson.M{"_id": conversationID}, update)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to close conversation: %w", err)
	}

	return nil
}

// AddMessage appends a message to a conversation
func (s *MongoStore) AddMessage(ctx context.Context, message *Message) error {
	if message.ConversationID == "" {
		return ErrInvalidID
	}
	if message.ID == "" {
		message.ID = uuid.New().String()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}

	err := s.retryOperation(ctx, "AddMessage", func() error {
		_, err := s.messages.InsertOne(ctx, message)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to add message: %w", err)
	}

	return nil
}

// RecentMessages returns the last limit messages of a conversation in
// chronological order (oldest first)
func (s *MongoStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidID
	}
	if limit <= 0 {
		limit = constants.ReconnectHistoryLimit
	}

	queryOpts := gomongo.QueryOptions{
		Sort:  bson.D{{Key: "ts", Value: -1}},
		Limit: int64(limit),
	}

	cursor, err := s.messages.Find(ctx, bson.M{"convId": conversationID}, queryOpts)
	if err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	defer cursor.Close(ctx)

	var newestFirst []Message
	if err := cursor.All(ctx, &newestFirst); err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to decode recent messages: %w", err)
	}

	// Reverse into chronological order
	messages := make([]Message, len(newestFirst))
	for i, m := range newestFirst {
		messages[len(newestFirst)-1-i] = m
	}
	return messages, nil
}

// CreateNotification stores a notification for a user
func (s *MongoStore) CreateNotification(ctx context.Context, notification *Notification) error {
	if notification.UserID == "" {
		return ErrInvalidID
	}
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now()
	}

	err := s.retryOperation(ctx, "CreateNotification", func() error {
		_, err := s.notifications.InsertOne(ctx, notification)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// UnreadNotifications returns up to limit unread notifications for a user,
// newest first
func (s *MongoStore) UnreadNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if userID == "" {
		return nil, ErrInvalidID
	}
	if limit <= 0 {
		limit = constants.UnreadNotificationLimit
	}

	queryOpts := gomongo.QueryOptions{
		Sort:  bson.D{{Key: "ts", Value: -1}},
		Limit: int64(limit),
	}

	cursor, err := s.notifications.Find(ctx, bson.M{"uid": userID, "read": false}, queryOpts)
	if err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to load unread notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead marks a notification read. The user filter prevents
// marking another user's notification.
func (s *MongoStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if notificationID == "" || userID == "" {
		return ErrInvalidID
	}

	filter := bson.M{"_id": notificationID, "uid": userID}
	update := bson.M{"$set": bson.M{"read": true}}

	var result *mongo.UpdateResult
	err := s.retryOperation(ctx, "MarkNotificationRead", func() error {
		var err error
		result, err = s.notifications.UpdateOne(ctx, filter, update)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// GetCase fetches the gateway's view of a case
func (s *MongoStore) GetCase(ctx context.Context, caseID string) (*Case, error) {
	if caseID == "" {
		return nil, ErrInvalidID
	}

	var c Case
	err := s.retryOperation(ctx, "GetCase", func() error {
		result := s.cases.FindOne(ctx, bson.M{"_id": caseID})
		return result.Decode(&c)
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCaseNotFound
		}
		metrics.StoreErrors.Inc()
		return nil, fmt.Errorf("failed to get case: %w", err)
	}

	return &c, nil
}

// UserHasCaseAccess reports whether the user is the client or the attorney
// on the case
func (s *MongoStore) UserHasCaseAccess(ctx context.Context, caseID, userID string) (bool, error) {
	if caseID == "" || userID == "" {
		return false, ErrInvalidID
	}

	filter := bson.M{
		"_id": caseID,
		"$or": bson.A{
			bson.M{"clientId": userID},
			bson.M{"attorneyId": userID},
		},
	}

	err := s.retryOperation(ctx, "UserHasCaseAccess", func() error {
		result := s.cases.FindOne(ctx, filter)
		return result.Decode(&Case{})
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		metrics.StoreErrors.Inc()
		return false, fmt.Errorf("failed to check case access: %w", err)
	}

	return true, nil
}

// CreateSupportTicket stores a human-handoff support ticket
func (s *MongoStore) CreateSupportTicket(ctx context.Context, ticket *SupportTicket) error {
	if ticket.UserID == "" {
		return ErrInvalidID
	}
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	if ticket.CreatedAt.IsZero() {
		ticket.CreatedAt = time.Now()
	}

	err := s.retryOperation(ctx, "CreateSupportTicket", func() error {
		_, err := s.supportTickets.InsertOne(ctx, ticket)
		return err
	})
	if err != nil {
		metrics.StoreErrors.Inc()
		return fmt.Errorf("failed to create support ticket: %w", err)
	}

	return nil
}

// isRetryableError checks if an error is retryable (transient)
func isRetryableError(err error) bool {
	// No else needed: early return pattern (guard clause)
	if err == nil {
		return false
	}

	errStr := err.Error()

	// Network errors
	if containsAny(errStr, []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"i/o timeout",
		"EOF",
	}) {
		return true
	}

	// MongoDB specific transient errors
	return containsAny(errStr, []string{
		"server selection timeout",
		"no reachable servers",
		"connection pool",
		"socket",
	})
}

func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// retryOperation executes an operation with retry logic for transient errors
// using exponential backoff
func (s *MongoStore) retryOperation(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	delay := defaultRetryConfig.initialDelay

	for attempt := 1; attempt <= defaultRetryConfig.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return err
		}

		lastErr = err

		if attempt < defaultRetryConfig.maxAttempts {
			s.logger.Warn("MongoDB operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", defaultRetryConfig.maxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
				// Continue to next attempt
			case <-ctx.Done():
				return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
			}

			delay = time.Duration(float64(delay) * defaultRetryConfig.multiplier)
			if delay > defaultRetryConfig.maxDelay {
				delay = defaultRetryConfig.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w",
		defaultRetryConfig.maxAttempts, lastErr)
}
