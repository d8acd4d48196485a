package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"chat:init","data":{"userId":"u1","language":"es"}}`))
	require.NoError(t, err)
	assert.Equal(t, ChatInit, env.Event)

	var payload ChatInitPayload
	require.NoError(t, env.DecodeInto(&payload))
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "es", payload.Language)
}

func TestParseEnvelopeNoData(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{"event":"notifications:subscribe"}`))
	require.NoError(t, err)
	assert.Equal(t, NotificationsSubscribe, env.Event)

	// Decoding an absent data section leaves the zero value
	var payload NotificationReadPayload
	require.NoError(t, env.DecodeInto(&payload))
	assert.Empty(t, payload.NotificationID)
}

func TestParseEnvelopeErrors(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{"data":{}}`))
	require.ErrorIs(t, err, ErrMissingEventName)

	_, err = ParseEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestEncode(t *testing.T) {
	data, err := Encode(Error, &ErrorPayload{Message: "Failed to initialize chat"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"error","data":{"message":"Failed to initialize chat"}}`, string(data))
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(TypingStop, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing:stop"}`, string(data))
}

func TestResponseMetadataOmitsZeroFields(t *testing.T) {
	data, err := Encode(Message, &ChatMessagePayload{
		Role:      "assistant",
		Content:   "hello",
		Metadata:  &ResponseMetadata{Intent: "immigration", PracticeArea: "immigration"},
		Timestamp: "2026-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"intent":"immigration"`)
	assert.NotContains(t, string(data), "escalate")
	assert.NotContains(t, string(data), "escalationType")
}

func TestEscalationPayloadPhoneOptional(t *testing.T) {
	data, err := Encode(Escalation, &EscalationPayload{Type: "human", Message: "soon"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "phoneNumber")

	data, err = Encode(Escalation, &EscalationPayload{Type: "voice", Message: "call", PhoneNumber: "1-844-967-3536"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phoneNumber":"1-844-967-3536"`)
}
