// Package ratelimit provides rate limiting for WebSocket connections and
// messages. It implements a sliding window per connection and a concurrent
// connection cap per user.
package ratelimit

import (
	"sync"
	"time"

	"github.com/vasquez-law/chatgateway/internal/constants"
)

// ConnectionLimiter limits the number of concurrent connections per user
type ConnectionLimiter struct {
	connections map[string]int // userID -> connection count
	maxPerUser  int
	mu          sync.RWMutex
}

// NewConnectionLimiter creates a new connection limiter
func NewConnectionLimiter(maxPerUser int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxPerUser:  maxPerUser,
	}
}

// Allow checks if a new connection is allowed for the user
func (cl *ConnectionLimiter) Allow(userID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[userID]
	if count >= cl.maxPerUser {
		return false
	}

	cl.connections[userID] = count + 1
	return true
}

// Release decrements the connection count for a user
func (cl *ConnectionLimiter) Release(userID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if count, ok := cl.connections[userID]; ok {
		if count <= 1 {
			delete(cl.connections, userID)
		} else {
			cl.connections[userID] = count - 1
		}
	}
}

// GetCount returns the current connection count for a user
func (cl *ConnectionLimiter) GetCount(userID string) int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.connections[userID]
}

// MessageLimiter limits the rate of messages per connection using a sliding
// window: expired timestamps are discarded, the remaining count is checked
// against the limit, and only an allowed message appends a timestamp.
type MessageLimiter struct {
	events map[string][]time.Time // connectionID -> timestamps
	window time.Duration
	limit  int
	mu     sync.RWMutex

	// Hard memory bounds independent of the configured limit
	maxEventsPerConn int
	maxConnections   int

	// Cleanup goroutine management
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// NewMessageLimiter creates a new message rate limiter
// window: time window for rate limiting (e.g., 1 minute)
// limit: maximum number of messages allowed in the window
func NewMessageLimiter(window time.Duration, limit int) *MessageLimiter {
	return &MessageLimiter{
		events:           make(map[string][]time.Time),
		window:           window,
		limit:            limit,
		maxEventsPerConn: constants.MaxEventsPerConnection,
		maxConnections:   constants.MaxConnectionsTracked,
		cleanupInterval:  5 * time.Minute,
		stopCleanup:      make(chan struct{}),
	}
}

// Allow checks if a message is allowed based on rate limiting
// Returns true if allowed, false if rate limit exceeded
func (ml *MessageLimiter) Allow(connectionID string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	events, tracked := ml.events[connectionID]

	// Refuse untracked connections once the map is at capacity so a
	// connection-churn flood cannot grow it without bound
	if !tracked && len(ml.events) >= ml.maxConnections {
		return false
	}

	now := time.Now()
	cutoff := now.Add(-ml.window)

	// Discard events outside the window
	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// A denied message does not consume window capacity. The per-connection
	// event cap backstops a misconfigured limit.
	if len(recentEvents) >= ml.limit || len(recentEvents) >= ml.maxEventsPerConn {
		ml.events[connectionID] = recentEvents
		return false
	}

	recentEvents = append(recentEvents, now)
	ml.events[connectionID] = recentEvents

	return true
}

// GetRetryAfter returns the time in milliseconds until the next message is allowed
func (ml *MessageLimiter) GetRetryAfter(connectionID string) int {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	events := ml.events[connectionID]
	if len(events) < ml.limit {
		return 0
	}

	now := time.Now()
	cutoff := now.Add(-ml.window)

	var oldestInWindow time.Time
	for _, t := range events {
		if t.After(cutoff) {
			if oldestInWindow.IsZero() || t.Before(oldestInWindow) {
				oldestInWindow = t
			}
		}
	}

	if oldestInWindow.IsZero() {
		return 0
	}

	expiresAt := oldestInWindow.Add(ml.window)
	retryAfter := expiresAt.Sub(now)

	if retryAfter < 0 {
		return 0
	}

	return int(retryAfter.Milliseconds())
}

// Reset clears the rate limit history for a connection
func (ml *MessageLimiter) Reset(connectionID string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	delete(ml.events, connectionID)
}

// Cleanup removes expired events to prevent memory leaks
// Should be called periodically
func (ml *MessageLimiter) Cleanup() {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-ml.window)

	for connectionID, events := range ml.events {
		var recentEvents []time.Time
		for _, t := range events {
			if t.After(cutoff) {
				recentEvents = append(recentEvents, t)
			}
		}

		if len(recentEvents) == 0 {
			delete(ml.events, connectionID)
		} else {
			ml.events[connectionID] = recentEvents
		}
	}
}

// StartCleanup starts a background goroutine that periodically cleans up expired events
func (ml *MessageLimiter) StartCleanup() {
	ml.cleanupWg.Add(1)
	go func() {
		defer ml.cleanupWg.Done()
		ticker := time.NewTicker(ml.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ml.Cleanup()
			case <-ml.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to finish
func (ml *MessageLimiter) StopCleanup() {
	ml.stopOnce.Do(func() {
		close(ml.stopCleanup)
	})
	ml.cleanupWg.Wait()
}
