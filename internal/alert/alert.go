// Package alert notifies firm staff out of band when a chat user asks for a
// human agent. Alerts go to the configured admin contacts by email and SMS
// and are rate limited to prevent flooding.
package alert

import (
	"fmt"
	"html"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomail"
	"github.com/real-rm/gomongo"
	"github.com/real-rm/gosms"

	"github.com/vasquez-law/chatgateway/internal/util"
)

// Service sends escalation alerts to admin contacts
type Service struct {
	mailer        *gomail.Mailer
	smsSender     *gosms.SMSSender
	logger        *golog.Logger
	config        *goconfig.ConfigAccessor
	rateLimiter   *RateLimiter
	adminPanelURL string
}

// RateLimiter prevents alert flooding
type RateLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// Allow checks if an event is allowed based on rate limiting
func (rl *RateLimiter) Allow(eventKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Cap map growth: reject new keys when at capacity
	const maxTrackedEvents = 100000
	events := rl.events[eventKey]
	if events == nil && len(rl.events) >= maxTrackedEvents {
		return false
	}

	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// Remove keys with no recent events to prevent unbounded map growth
	if len(recentEvents) == 0 && len(events) > 0 {
		delete(rl.events, eventKey)
	}

	if len(recentEvents) >= rl.limit {
		rl.events[eventKey] = recentEvents
		return false
	}

	recentEvents = append(recentEvents, now)
	rl.events[eventKey] = recentEvents

	return true
}

// NewService creates the alert service. SMS is optional; when Twilio
// credentials are absent the service degrades to email only.
func NewService(
	logger *golog.Logger,
	config *goconfig.ConfigAccessor,
	mongo *gomongo.Mongo,
) (*Service, error) {
	mailer, err := gomail.GetSendMailObj(gomail.MailerOptions{
		Logger: logger,
		Config: config,
		Mongo:  mongo, // Enable email logging
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gomail: %w", err)
	}

	// Priority: environment variables over config file
	accountSID := os.Getenv("SMS_ACCOUNT_SID")
	if accountSID == "" {
		accountSID, err = config.ConfigString("sms.accountSID")
		if err != nil {
			logger.Warn("SMS account SID not configured", "error", err)
			accountSID = ""
		}
	}

	authToken := os.Getenv("SMS_AUTH_TOKEN")
	if authToken == "" {
		authToken, err = config.ConfigString("sms.authToken")
		if err != nil {
			logger.Warn("SMS auth token not configured", "error", err)
			authToken = ""
		}
	}

	var smsSender *gosms.SMSSender
	if accountSID != "" && authToken != "" {
		twilioEngine, err := gosms.NewTwilioEngine(accountSID, authToken)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Twilio engine: %w", err)
		}

		smsSender, err = gosms.NewSMSSender(twilioEngine)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SMS sender: %w", err)
		}
	} else {
		logger.Warn("SMS not configured - SMS alerts will be skipped")
	}

	// Max 5 alerts per 5 minutes per conversation
	rateLimiter := NewRateLimiter(5*time.Minute, 5)

	adminPanelURL := os.Getenv("ADMIN_PANEL_URL")
	if adminPanelURL == "" {
		adminPanelURL, _ = config.ConfigString("alert.adminPanelURL")
	}

	return &Service{
		mailer:        mailer,
		smsSender:     smsSender,
		logger:        logger,
		config:        config,
		rateLimiter:   rateLimiter,
		adminPanelURL: adminPanelURL,
	}, nil
}

// EscalationAlert notifies admins that a user asked for a human agent
func (s *Service) EscalationAlert(userID, conversationID, language string) error {
	eventKey := fmt.Sprintf("escalation:%s", conversationID)

	if !s.rateLimiter.Allow(eventKey) {
		s.logger.Warn("Escalation alert rate limited", "conversation_id", conversationID)
		return nil // Skip silently, the support ticket still exists
	}

	adminEmails, err := s.getAdminEmails()
	if err != nil {
		return fmt.Errorf("failed to get admin emails: %w", err)
	}

	adminPhones, err := s.getAdminPhones()
	if err != nil {
		return fmt.Errorf("failed to get admin phones: %w", err)
	}

	if len(adminEmails) > 0 {
		msg := &gomail.EmailMessage{
			To:      adminEmails,
			Subject: fmt.Sprintf("Human Agent Requested - User %s", userID),
			HTML:    buildEscalationHTML(userID, conversationID, language, s.adminPanelURL),
			Text: fmt.Sprintf("Human Agent Requested - User: %s, Conversation: %s, Language: %s, Time: %s",
				userID, conversationID, language, time.Now().Format(time.RFC3339)),
		}

		// SendWithRetry provides automatic failover across engines
		engines := s.mailer.GetEngineNames()
		if err := s.mailer.SendWithRetry(engines, msg); err != nil {
			util.LogError(s.logger, "alert", "send escalation email", err, "conversation_id", conversationID)
			return fmt.Errorf("failed to send email: %w", err)
		}

		s.logger.Info("Escalation email sent", "conversation_id", conversationID, "recipients", len(adminEmails))
	}

	if s.smsSender != nil && len(adminPhones) > 0 {
		fromNumber, err := s.config.ConfigString("sms.fromNumber")
		if err != nil {
			s.logger.Warn("SMS from number not configured", "error", err)
			fromNumber = ""
		}

		message := fmt.Sprintf("Human agent requested - User %s, conversation %s", userID, conversationID)

		for _, phone := range adminPhones {
			opt := gosms.SendOption{
				To:      phone,
				From:    fromNumber,
				Message: message,
			}

			if err := s.smsSender.Send(opt); err != nil {
				util.LogError(s.logger, "alert", "send escalation SMS", err, "phone", phone)
				// Continue to next phone number
			} else {
				s.logger.Info("Escalation SMS sent", "phone", phone)
			}
		}
	}

	return nil
}

// getAdminEmails retrieves admin email addresses from config
func (s *Service) getAdminEmails() ([]string, error) {
	adminEmailsStr, err := s.config.ConfigString("alert.adminEmails")
	if err == nil && adminEmailsStr != "" {
		emails := splitAndTrim(adminEmailsStr)
		if len(emails) > 0 {
			return emails, nil
		}
	}

	// Fallback to mail.adminEmail
	adminEmail, err := s.config.ConfigString("mail.adminEmail")
	if err != nil {
		return nil, err
	}

	if adminEmail == "" {
		return []string{}, nil
	}

	return []string{adminEmail}, nil
}

// getAdminPhones retrieves admin phone numbers from config
func (s *Service) getAdminPhones() ([]string, error) {
	adminPhonesStr, err := s.config.ConfigString("alert.adminPhones")
	if err != nil {
		// Not configured is okay
		return []string{}, nil
	}

	return splitAndTrim(adminPhonesStr), nil
}

// buildEscalationHTML builds the HTML body for escalation alert emails.
// If adminURL is empty, no link is rendered.
func buildEscalationHTML(userID, conversationID, language, adminURL string) string {
	timestamp := time.Now().Format(time.RFC3339)
	safeUserID := html.EscapeString(userID)
	safeConversationID := html.EscapeString(conversationID)
	safeLanguage := html.EscapeString(language)
	linkSection := "<p>Please check the admin panel to view this conversation.</p>"
	if adminURL != "" {
		safeAdminURL := html.EscapeString(adminURL)
		linkSection = fmt.Sprintf(`<p><a href="%s/%s">View Conversation</a></p>`, safeAdminURL, safeConversationID)
	}
	return fmt.Sprintf(`
		<h2>Human Agent Requested</h2>
		<p>A chat user has asked to speak with a human agent.</p>
		<ul>
			<li><strong>User ID:</strong> %s</li>
			<li><strong>Conversation ID:</strong> %s</li>
			<li><strong>Language:</strong> %s</li>
			<li><strong>Time:</strong> %s</li>
		</ul>
		%s
	`, safeUserID, safeConversationID, safeLanguage, timestamp, linkSection)
}

// splitAndTrim splits a string by comma and trims whitespace from each part
func splitAndTrim(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	return result
}
