package ratelimit

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: for any burst of N messages within a single window, exactly
// min(N, limit) are allowed and the remainder are denied.
func TestProperty_SlidingWindowEnforcement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("burst within a window allows exactly the limit", prop.ForAll(
		func(connectionID string, limit int, numRequests int) bool {
			if connectionID == "" {
				return true
			}

			ml := NewMessageLimiter(time.Minute, limit)

			allowed := 0
			denied := 0
			for i := 0; i < numRequests; i++ {
				if ml.Allow(connectionID) {
					allowed++
				} else {
					denied++
				}
			}

			if numRequests <= limit {
				return allowed == numRequests && denied == 0
			}
			return allowed == limit && denied == numRequests-limit
		},
		gen.AlphaString(),
		gen.IntRange(1, 100),
		gen.IntRange(1, 200),
	))

	properties.Property("denied messages never consume capacity", prop.ForAll(
		func(connectionID string, limit int, extraDenials int) bool {
			if connectionID == "" {
				return true
			}

			ml := NewMessageLimiter(time.Minute, limit)

			for i := 0; i < limit; i++ {
				if !ml.Allow(connectionID) {
					return false
				}
			}
			for i := 0; i < extraDenials; i++ {
				if ml.Allow(connectionID) {
					return false
				}
			}

			ml.mu.RLock()
			count := len(ml.events[connectionID])
			ml.mu.RUnlock()
			return count == limit
		},
		gen.AlphaString(),
		gen.IntRange(1, 50),
		gen.IntRange(1, 50),
	))

	properties.Property("connection limiter releases restore capacity", prop.ForAll(
		func(userID string, maxConnections int, churn int) bool {
			if userID == "" {
				return true
			}

			cl := NewConnectionLimiter(maxConnections)

			for i := 0; i < churn; i++ {
				if !cl.Allow(userID) {
					return false
				}
				cl.Release(userID)
			}
			return cl.GetCount(userID) == 0
		},
		gen.AlphaString(),
		gen.IntRange(1, 20),
		gen.IntRange(1, 100),
	))

	properties.TestingRun(t)
}
