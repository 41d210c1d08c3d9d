package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTelegramToken(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTelegramToken("123456789:ABCdefGHIjklMNOpqrsTUVwxyz"))
	assert.Error(t, v.ValidateTelegramToken(""))
	assert.Error(t, v.ValidateTelegramToken("not-a-token"))
}

func TestValidateChatID(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateChatID("123456"))
	assert.NoError(t, v.ValidateChatID("-100123456"))
	assert.Error(t, v.ValidateChatID("chat"))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"trace", "debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}
