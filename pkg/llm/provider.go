package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// DeltaFunc receives streamed assistant text increments.
type DeltaFunc func(text string)

// Request is one model call.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Response is the accumulated result of one streamed model call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// Provider is a streaming model client.
type Provider interface {
	// Name returns the provider name
	Name() string
	// Stream calls the model, reporting text increments to onDelta as they arrive.
	Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Response, error)
	// ListModels returns the model ids the endpoint serves.
	ListModels(ctx context.Context) ([]string, error)
	// Close releases the client.
	Close() error
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	Kind       string // openai, anthropic
	APIKey     string
	BaseURL    string
	MaxRetries uint64
}

// NewProvider creates the provider named by cfg.Kind.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "openai", "":
		return NewOpenAIProvider(cfg), nil
	case "anthropic":
		return NewAnthropicProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}

// IsRetryableError reports whether err is transient: rate limits, server
// errors and network failures.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode == 429 || oaiErr.StatusCode >= 500
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode == 429 || antErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection reset", "connection refused", "rate limit", "overloaded", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// newRetryBackoff returns the exponential backoff used between provider attempts.
func newRetryBackoff(ctx context.Context, maxRetries uint64) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 8 * time.Second
	b.MaxElapsedTime = time.Minute
	return backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx)
}

// streamWithRetry runs attempt until it succeeds, fails permanently, or the
// retry budget is spent. Once attempt has reported a delta it is never retried,
// because the caller has already shown that text.
func streamWithRetry(ctx context.Context, maxRetries uint64, onDelta DeltaFunc, attempt func(DeltaFunc) (*Response, error)) (*Response, error) {
	var resp *Response
	op := func() error {
		emitted := false
		r, err := attempt(func(s string) {
			emitted = true
			if onDelta != nil {
				onDelta(s)
			}
		})
		if err != nil {
			if emitted || !IsRetryableError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	if err := backoff.Retry(op, newRetryBackoff(ctx, maxRetries)); err != nil {
		return nil, err
	}
	return resp, nil
}
