package alert

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(time.Minute, 3)

	assert.True(t, rl.Allow("escalation:conv-1"))
	assert.True(t, rl.Allow("escalation:conv-1"))
	assert.True(t, rl.Allow("escalation:conv-1"))
	assert.False(t, rl.Allow("escalation:conv-1"))

	// Other keys are unaffected
	assert.True(t, rl.Allow("escalation:conv-2"))
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(30*time.Millisecond, 1)

	assert.True(t, rl.Allow("key"))
	assert.False(t, rl.Allow("key"))

	time.Sleep(50 * time.Millisecond)
	assert.True(t, rl.Allow("key"))
}

func TestRateLimiterCleansStaleKeys(t *testing.T) {
	rl := NewRateLimiter(10*time.Millisecond, 5)

	rl.Allow("stale")
	time.Sleep(30 * time.Millisecond)

	// Touching the key after the window removes then re-adds it
	assert.True(t, rl.Allow("stale"))
	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Len(t, rl.events["stale"], 1)
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", []string{}},
		{"single", "admin@example.com", []string{"admin@example.com"}},
		{"multiple with spaces", " a@x.com , b@x.com ,c@x.com", []string{"a@x.com", "b@x.com", "c@x.com"}},
		{"skips empty parts", "a@x.com,,  ,b@x.com", []string{"a@x.com", "b@x.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitAndTrim(tt.input))
		})
	}
}

func TestBuildEscalationHTMLEscapesInput(t *testing.T) {
	html := buildEscalationHTML(`<script>alert(1)</script>`, "conv-1", "en", "")

	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "conv-1")
	assert.Contains(t, html, "Human Agent Requested")
}

func TestBuildEscalationHTMLLink(t *testing.T) {
	withURL := buildEscalationHTML("user-1", "conv-1", "en", "https://admin.example.com/conversations")
	assert.Contains(t, withURL, `href="https://admin.example.com/conversations/conv-1"`)

	withoutURL := buildEscalationHTML("user-1", "conv-1", "en", "")
	assert.False(t, strings.Contains(withoutURL, "href="))
	assert.Contains(t, withoutURL, "admin panel")
}
