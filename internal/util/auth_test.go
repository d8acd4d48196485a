package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   error
	}{
		{
			name:      "valid bearer token",
			header:    "Bearer abc123",
			wantToken: "abc123",
		},
		{
			name:    "missing header",
			header:  "",
			wantErr: ErrMissingAuthHeader,
		},
		{
			name:    "wrong scheme",
			header:  "Basic abc123",
			wantErr: ErrInvalidAuthHeader,
		},
		{
			name:    "bearer with no token",
			header:  "Bearer ",
			wantErr: ErrInvalidAuthHeader,
		},
		{
			name:    "lowercase bearer rejected",
			header:  "bearer abc123",
			wantErr: ErrInvalidAuthHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := ExtractBearerToken(tt.header)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, token)
		})
	}
}

func TestHasRole(t *testing.T) {
	assert.True(t, HasRole("ADMIN", "ADMIN", "ATTORNEY"))
	assert.True(t, HasRole("ATTORNEY", "ADMIN", "ATTORNEY"))
	assert.False(t, HasRole("CLIENT", "ADMIN", "ATTORNEY"))
	assert.False(t, HasRole("", "ADMIN"))
	assert.False(t, HasRole("admin", "ADMIN"), "role comparison is case sensitive")
}

func TestContainsWeakPattern(t *testing.T) {
	weak := []string{"secret", "password", "test"}

	found, pattern := ContainsWeakPattern("my-SECRET-key", weak)
	assert.True(t, found)
	assert.Equal(t, "secret", pattern)

	found, _ = ContainsWeakPattern("Xk9mQ2vL8pR4nT7w", weak)
	assert.False(t, found)
}
