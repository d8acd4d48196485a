// Package respond generates assistant replies. The gateway treats response
// generation as a pluggable collaborator; IntentResponder is the built-in
// keyword-rule implementation.
package respond

import (
	"context"
	"strings"

	"github.com/vasquez-law/chatgateway/internal/constants"
	"github.com/vasquez-law/chatgateway/internal/event"
)

// Response is a generated assistant reply
type Response struct {
	Content  string
	Metadata *event.ResponseMetadata
}

// Responder generates a reply to a user message in the given language
type Responder interface {
	Respond(ctx context.Context, content, language string) (*Response, error)
}

// IntentResponder matches user messages against keyword rules for the
// firm's practice areas and produces localized canned replies.
type IntentResponder struct{}

// NewIntentResponder creates the built-in rule-based responder
func NewIntentResponder() *IntentResponder {
	return &IntentResponder{}
}

// Respond classifies the message and returns the reply for its intent.
// Rules are checked in order; the first match wins.
func (r *IntentResponder) Respond(_ context.Context, content, language string) (*Response, error) {
	lower := strings.ToLower(content)
	spanish := language == constants.LanguageSpanish

	if containsAny(lower, "appointment", "schedule") {
		return &Response{
			Content: pick(spanish,
				"Puedo ayudarte a programar una cita. ¿Qué tipo de consulta legal necesitas?",
				"I can help you schedule an appointment. What type of legal consultation do you need?"),
			Metadata: &event.ResponseMetadata{Intent: "appointment"},
		}, nil
	}

	if containsAny(lower, "immigration", "visa") {
		return &Response{
			Content: pick(spanish,
				"Nuestro equipo de inmigración puede ayudarte. ¿Necesitas ayuda con una visa, residencia, o ciudadanía?",
				"Our immigration team can help you. Do you need assistance with a visa, green card, or citizenship?"),
			Metadata: &event.ResponseMetadata{Intent: "immigration", PracticeArea: "immigration"},
		}, nil
	}

	if containsAny(lower, "accident", "injury") {
		return &Response{
			Content: pick(spanish,
				"Lamento escuchar sobre tu accidente. ¿Cuándo ocurrió y has recibido atención médica?",
				"I'm sorry to hear about your accident. When did it occur and have you received medical attention?"),
			Metadata: &event.ResponseMetadata{Intent: "personal_injury", PracticeArea: "personal_injury"},
		}, nil
	}

	if containsAny(lower, "speak", "talk", "call") {
		return &Response{
			Content: pick(spanish,
				"¿Te gustaría hablar con alguien por teléfono? Puedo transferirte a nuestro asistente de voz.",
				"Would you like to speak with someone over the phone? I can transfer you to our voice assistant."),
			Metadata: &event.ResponseMetadata{Escalate: true, EscalationType: constants.EscalationVoice},
		}, nil
	}

	return &Response{
		Content: pick(spanish,
			"Entiendo. ¿Puedes darme más detalles sobre tu situación legal?",
			"I understand. Can you provide more details about your legal situation?"),
		Metadata: &event.ResponseMetadata{},
	}, nil
}

// WelcomeMessage returns the localized conversation opener
func WelcomeMessage(language string) string {
	if language == constants.LanguageSpanish {
		return constants.WelcomeMessageES
	}
	return constants.WelcomeMessageEN
}

func containsAny(s string, keywords ...string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

func pick(spanish bool, es, en string) string {
	if spanish {
		return es
	}
	return en
}
