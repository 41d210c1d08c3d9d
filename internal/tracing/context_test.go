package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewIDs(t *testing.T) {
	assert.NotEmpty(t, NewTraceID())
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewTurnID(), NewTurnID())
}

func TestFromContext(t *testing.T) {
	t.Run("should read every field", func(t *testing.T) {
		ctx := WithTraceID(context.Background(), "trace")
		ctx = WithSessionID(ctx, "session")
		ctx = WithTurnID(ctx, "turn")
		ctx = WithChannel(ctx, "cli")

		tc := FromContext(ctx)
		assert.Equal(t, "trace", tc.TraceID)
		assert.Equal(t, "session", tc.SessionID)
		assert.Equal(t, "turn", tc.TurnID)
		assert.Equal(t, "cli", tc.Channel)
	})

	t.Run("should return empty fields for a bare context", func(t *testing.T) {
		assert.Equal(t, &TraceContext{}, FromContext(context.Background()))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithSessionID(context.Background(), "s-1")
	ctx = WithTurnID(ctx, "t-1")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("x")

	assert.Contains(t, buf.String(), `"session_id":"s-1"`)
	assert.Contains(t, buf.String(), `"turn_id":"t-1"`)
	assert.NotContains(t, buf.String(), "trace_id")
}
