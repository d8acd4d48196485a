package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"i/o timeout", errors.New("read tcp: i/o timeout"), true},
		{"server selection timeout", errors.New("server selection timeout"), true},
		{"connection pool", errors.New("connection pool exhausted"), true},
		{"duplicate key", errors.New("E11000 duplicate key error"), false},
		{"validation", errors.New("document failed validation"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("read tcp: i/o timeout", []string{"timeout"}))
	assert.False(t, containsAny("all good", []string{"timeout", "EOF"}))
}

func TestEmptyIdentifierValidation(t *testing.T) {
	// Validation happens before any collection access, so a zero-value
	// store is enough to exercise it.
	s := &MongoStore{}
	ctx := context.Background()

	_, err := s.GetConversation(ctx, "")
	require.ErrorIs(t, err, ErrInvalidID)

	require.ErrorIs(t, s.CloseConversation(ctx, "", "transport close", 0), ErrInvalidID)
	require.ErrorIs(t, s.AddMessage(ctx, &Message{}), ErrInvalidID)

	_, err = s.RecentMessages(ctx, "", 20)
	require.ErrorIs(t, err, ErrInvalidID)

	require.ErrorIs(t, s.CreateNotification(ctx, &Notification{}), ErrInvalidID)

	_, err = s.UnreadNotifications(ctx, "", 10)
	require.ErrorIs(t, err, ErrInvalidID)

	require.ErrorIs(t, s.MarkNotificationRead(ctx, "", "user-1"), ErrInvalidID)
	require.ErrorIs(t, s.MarkNotificationRead(ctx, "notif-1", ""), ErrInvalidID)

	_, err = s.GetCase(ctx, "")
	require.ErrorIs(t, err, ErrInvalidID)

	_, err = s.UserHasCaseAccess(ctx, "case-1", "")
	require.ErrorIs(t, err, ErrInvalidID)

	require.ErrorIs(t, s.CreateSupportTicket(ctx, &SupportTicket{}), ErrInvalidID)
}
