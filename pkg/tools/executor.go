package tools

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/harun/tandem/internal/observability"
	"github.com/harun/tandem/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
)

// MaxOutputBytes caps the output handed back to the model.
const MaxOutputBytes = 50 * 1024

const truncationMarker = "\n... [output truncated]"

// Execute runs a tool call. Every failure, unknown tools included, comes back
// as a failed Result.
func (r *Registry) Execute(ctx context.Context, name string, inv Invocation) Result {
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "tandem.tools", "tools.execute",
		attribute.String("tool", name),
		attribute.String("call_id", inv.CallID),
	)
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("tool", name).Str("call_id", inv.CallID).Logger()

	result := r.execute(ctx, name, inv)

	duration := time.Since(start)
	result = result.WithMetadata("duration_ms", duration.Milliseconds())
	observability.RecordToolExecution(name, duration, result.Success)

	span.SetAttributes(attribute.Bool("success", result.Success), attribute.Bool("truncated", result.Truncated))
	if !result.Success {
		tracing.EndSpan(span, errors.New(result.Error))
		logger.Debug().Str("error", result.Error).Dur("duration", duration).Msg("Tool call failed")
	} else {
		tracing.EndSpan(span, nil)
		logger.Debug().Dur("duration", duration).Bool("truncated", result.Truncated).Msg("Tool call completed")
	}
	return result
}

func (r *Registry) execute(ctx context.Context, name string, inv Invocation) Result {
	e, ok := r.lookup(name)
	if !ok {
		return Failure("tool not found: %s", name)
	}
	if inv.Params == nil {
		inv.Params = map[string]interface{}{}
	}

	if err := validateParams(e.loader, inv.Params); err != nil {
		return Failure("parameter validation failed: %v", err)
	}

	if rejected := authorize(ctx, &e.desc, inv, r.logger); rejected != nil {
		return *rejected
	}

	timeout := e.desc.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error().Interface("panic", p).Str("tool", name).Msg("Tool handler panicked")
				done <- Failure("tool panicked: %v", p)
			}
		}()
		done <- e.desc.Handler(runCtx, inv)
	}()

	select {
	case res := <-done:
		return truncate(res)
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return Failure("tool execution cancelled: %v", ctx.Err())
		}
		return Failure("tool execution timeout after %v", timeout)
	}
}

// truncate caps Output at MaxOutputBytes on a rune boundary.
func truncate(res Result) Result {
	if len(res.Output) <= MaxOutputBytes {
		return res
	}

	cut := MaxOutputBytes
	for cut > 0 && !utf8.RuneStart(res.Output[cut]) {
		cut--
	}
	original := len(res.Output)
	res.Output = res.Output[:cut] + truncationMarker
	res.Truncated = true
	return res.WithMetadata("original_bytes", original)
}

// String implements fmt.Stringer for log output.
func (res Result) String() string {
	if res.Success {
		return fmt.Sprintf("ok (%d bytes)", len(res.Output))
	}
	return "error: " + res.Error
}
