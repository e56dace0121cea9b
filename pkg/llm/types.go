package llm

import "context"

// ImagePayload is one rendered image attached to a completion request.
type ImagePayload struct {
	MIME string
	Data []byte
}

// Request describes a single chat completion call.
type Request struct {
	Model        string
	SystemPrompt string
	UserText     string
	Images       []ImagePayload
	JSONMode     bool
	MaxTokens    int
	Temperature  float32
}

// Usage reports token counts as supplied by the endpoint. Zero values mean
// the endpoint did not report usage; cost estimation treats that as unknown.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the raw text returned by a provider together with usage.
type Completion struct {
	Text  string
	Usage Usage
}

// Client is a uniform interface over any OpenAI-compatible chat endpoint.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
	DefaultModel() string
	ProviderName() string
}
