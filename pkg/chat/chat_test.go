package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHistory(t *testing.T) {
	tests := []struct {
		name    string
		history []ChatMessage
		wantErr error
	}{
		{"empty", nil, ErrEmptyHistory},
		{"assistant last", []ChatMessage{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}}, ErrNotUserTurn},
		{"unknown role", []ChatMessage{{Role: "system", Content: "x"}, {Role: RoleUser, Content: "hi"}}, ErrUnknownRole},
		{"valid", []ChatMessage{{Role: RoleAssistant, Content: "hello"}, {Role: RoleUser, Content: "hi"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHistory(tt.history)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCloneIsIndependent(t *testing.T) {
	history := []ChatMessage{{Role: RoleUser, Content: "hi"}}
	cloned := Clone(history)
	history[0].Content = "changed"

	assert.Equal(t, "hi", cloned[0].Content)
}

func TestNormalizeRole(t *testing.T) {
	assert.Equal(t, RoleUser, NormalizeRole("user"))
	assert.Equal(t, RoleAssistant, NormalizeRole("persona"))
	assert.Equal(t, RoleAssistant, NormalizeRole("assistant"))
}
