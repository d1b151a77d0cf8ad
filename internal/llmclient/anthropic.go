package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/tractvcs/tract/internal/telemetry"
)

// errAPIKeyRequired is returned when an API key is needed but not provided.
var errAPIKeyRequired = errors.New("anthropic: API key required")

const defaultMaxElapsed = 30 * time.Second

// AnthropicClient adapts the Anthropic SDK to the llmclient.Client
// interface, retrying transient failures with bounded exponential backoff.
type AnthropicClient struct {
	client     anthropic.Client
	maxElapsed time.Duration
}

// NewAnthropicClient builds a client. ANTHROPIC_API_KEY takes precedence
// over an explicitly-passed apiKey.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or pass one explicitly", errAPIKeyRequired)
	}
	llmMetricsOnce()
	return &AnthropicClient{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxElapsed: defaultMaxElapsed,
	}, nil
}

// Complete implements llmclient.Client.
func (c *AnthropicClient) Complete(ctx context.Context, model string, prompt string, maxTokens int) (*ChatResponse, error) {
	tracer := telemetry.Tracer("github.com/tractvcs/tract/llm")
	ctx, span := tracer.Start(ctx, "anthropic.messages.new")
	defer span.End()
	span.SetAttributes(attribute.String("tract.llm.model", model))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var result *ChatResponse
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed

	err := backoff.Retry(func() error {
		attempts++
		t0 := time.Now()
		message, err := c.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		modelAttr := attribute.String("tract.llm.model", model)
		llmMetrics.inputTokens.Add(ctx, message.Usage.InputTokens, metric.WithAttributes(modelAttr))
		llmMetrics.outputTokens.Add(ctx, message.Usage.OutputTokens, metric.WithAttributes(modelAttr))
		llmMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		span.SetAttributes(
			attribute.Int64("tract.llm.input_tokens", message.Usage.InputTokens),
			attribute.Int64("tract.llm.output_tokens", message.Usage.OutputTokens),
			attribute.Int("tract.llm.attempts", attempts),
		)

		if len(message.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("anthropic: empty response"))
		}
		block := message.Content[0]
		if block.Type != "text" {
			return backoff.Permanent(fmt.Errorf("anthropic: unexpected content block type %q", block.Type))
		}
		result = &ChatResponse{
			Text:             block.Text,
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("anthropic complete: %w", err)
	}
	return result, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
