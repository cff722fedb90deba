package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dqa",
		Subsystem: "ai",
		Name:      "completion_duration_seconds",
		Help:      "Duration of prompt completion requests",
	}, []string{"model"})

	completionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dqa",
		Subsystem: "ai",
		Name:      "completion_failures_total",
		Help:      "Number of prompt completion failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI completer.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAICompleter implements Completer against the OpenAI chat completion API.
type OpenAICompleter struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAICompleter builds a new completer using the provided configuration.
func NewOpenAICompleter(cfg OpenAIConfig) (*OpenAICompleter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}

	tracer := otel.Tracer("github.com/noah-isme/design-quality-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	return &OpenAICompleter{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Complete asks the model for an improved prompt and returns its text verbatim.
func (c *OpenAICompleter) Complete(parent context.Context, input CompletionInput) (CompletionResult, error) {
	ctx, span := c.tracer.Start(parent, "openai.complete", trace.WithAttributes(
		attribute.String("model", c.cfg.Model),
		attribute.String("target_metric", input.TargetMetric),
	))
	defer span.End()

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: optimizerSystemPrompt(),
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildOptimizationPrompt(input),
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, request)
	completionDuration.WithLabelValues(c.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		return CompletionResult{}, c.fail(span, fmt.Errorf("openai complete: %w", err))
	}

	if len(resp.Choices) == 0 {
		return CompletionResult{}, c.fail(span, fmt.Errorf("no choices returned from openai"))
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return CompletionResult{}, c.fail(span, fmt.Errorf("empty completion returned from openai"))
	}

	c.logger.Debug().
		Str("model", resp.Model).
		Int("tokens", resp.Usage.TotalTokens).
		Msg("prompt completion received")

	return CompletionResult{
		Text:       text,
		Model:      resp.Model,
		TokensUsed: resp.Usage.TotalTokens,
		Raw: map[string]interface{}{
			"usage": resp.Usage,
		},
	}, nil
}

func (c *OpenAICompleter) fail(span trace.Span, err error) error {
	completionFailures.WithLabelValues(c.cfg.Model).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func optimizerSystemPrompt() string {
	return "You improve instruction prompts for a design-to-CMS-module pipeline that detects layout sections in design images. " +
		"Return only the full rewritten prompt text, keeping the original intent and output format."
}

// BuildOptimizationPrompt renders the user message sent to the model.
func BuildOptimizationPrompt(input CompletionInput) string {
	builder := strings.Builder{}
	if input.Task != "" {
		builder.WriteString("# Task\n")
		builder.WriteString(input.Task)
		builder.WriteString("\n\n")
	}
	builder.WriteString("## Current Prompt\n")
	builder.WriteString(input.BasePrompt)
	if input.TargetMetric != "" {
		builder.WriteString("\n\n## Target Metric\n")
		builder.WriteString(input.TargetMetric)
	}
	if len(input.Weaknesses) > 0 {
		builder.WriteString("\n\n## Observed Weaknesses\n")
		for _, weakness := range input.Weaknesses {
			builder.WriteString("- ")
			builder.WriteString(weakness)
			builder.WriteString("\n")
		}
	}
	if len(input.Suggestions) > 0 {
		builder.WriteString("\n## Suggested Improvements\n")
		for _, suggestion := range input.Suggestions {
			builder.WriteString("- ")
			builder.WriteString(suggestion)
			builder.WriteString("\n")
		}
	}
	builder.WriteString("\nReturn the improved prompt.")
	return builder.String()
}
