package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
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
	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gradeflow",
		Subsystem: "llm",
		Name:      "completion_duration_seconds",
		Help:      "Duration of LLM completion requests",
	}, []string{"provider", "model"})

	llmFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "llm",
		Name:      "completion_failures_total",
		Help:      "Number of failed LLM completion requests",
	}, []string{"provider", "model", "kind"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gradeflow",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Token counts reported by LLM endpoints",
	}, []string{"provider", "model", "direction"})
)

// EndpointConfig defines the connection settings for one provider endpoint.
type EndpointConfig struct {
	Name         string
	BaseURL      string
	APIKey       string
	DefaultModel string
	JSONMode     bool
	Timeout      time.Duration
	Logger       zerolog.Logger
}

// OpenAIClient implements Client against any OpenAI-compatible chat endpoint.
type OpenAIClient struct {
	client *openai.Client
	cfg    EndpointConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIClient builds a client for the configured endpoint.
func NewOpenAIClient(cfg EndpointConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required for provider %q", cfg.Name)
	}

	if cfg.DefaultModel == "" {
		return nil, fmt.Errorf("default model is required for provider %q", cfg.Name)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gradeflow-api/pkg/llm"),
		logger: logger.With().Str("component", "llm_client").Str("provider", cfg.Name).Logger(),
	}, nil
}

// ProviderName returns the configured human-readable provider name.
func (c *OpenAIClient) ProviderName() string { return c.cfg.Name }

// DefaultModel returns the model used when a request does not specify one.
func (c *OpenAIClient) DefaultModel() string { return c.cfg.DefaultModel }

// wantsJSONFormat reports whether response_format should be sent. Endpoints
// that reject the parameter disable it endpoint-wide via EndpointConfig.
func (c *OpenAIClient) wantsJSONFormat(req Request) bool {
	return req.JSONMode && c.cfg.JSONMode
}

// Complete sends the chat completion request and returns the raw text plus usage.
func (c *OpenAIClient) Complete(parent context.Context, req Request) (Completion, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.DefaultModel
	}

	ctx, span := c.tracer.Start(parent, "llm.complete", trace.WithAttributes(
		attribute.String("provider", c.cfg.Name),
		attribute.String("model", model),
		attribute.Bool("json_mode", c.wantsJSONFormat(req)),
		attribute.Int("images", len(req.Images)),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			userMessage(req),
		},
	}
	if c.wantsJSONFormat(req) {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	llmDuration.WithLabelValues(c.cfg.Name, model).Observe(time.Since(start).Seconds())

	if err != nil {
		classified := classifyError(c.cfg.Name, err)
		llmFailures.WithLabelValues(c.cfg.Name, model, string(classified.Kind)).Inc()
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Message)
		return Completion{}, classified
	}

	if len(resp.Choices) == 0 {
		classified := &ProviderError{Kind: ErrorUnknown, Provider: c.cfg.Name, Message: "no choices returned"}
		llmFailures.WithLabelValues(c.cfg.Name, model, string(classified.Kind)).Inc()
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Message)
		return Completion{}, classified
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		classified := &ProviderError{Kind: ErrorUnknown, Provider: c.cfg.Name, Message: "empty completion content"}
		llmFailures.WithLabelValues(c.cfg.Name, model, string(classified.Kind)).Inc()
		span.RecordError(classified)
		span.SetStatus(codes.Error, classified.Message)
		return Completion{}, classified
	}

	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	llmTokens.WithLabelValues(c.cfg.Name, model, "input").Add(float64(usage.PromptTokens))
	llmTokens.WithLabelValues(c.cfg.Name, model, "output").Add(float64(usage.CompletionTokens))

	return Completion{Text: content, Usage: usage}, nil
}

func userMessage(req Request) openai.ChatCompletionMessage {
	if len(req.Images) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText}
	}

	parts := make([]openai.ChatMessagePart, 0, len(req.Images)+1)
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: req.UserText})
	for _, image := range req.Images {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: dataURL(image)},
		})
	}

	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func dataURL(image ImagePayload) string {
	mime := image.MIME
	if mime == "" {
		mime = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(image.Data))
}
