package llm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWantsJSONFormatHonorsEndpointSetting(t *testing.T) {
	strict := &OpenAIClient{cfg: EndpointConfig{Name: "openai", JSONMode: true}}
	require.True(t, strict.wantsJSONFormat(Request{JSONMode: true}))
	require.False(t, strict.wantsJSONFormat(Request{JSONMode: false}))

	// Endpoint that rejects response_format: never send it, even when the
	// caller asks for JSON output.
	lenient := &OpenAIClient{cfg: EndpointConfig{Name: "custom1", JSONMode: false}}
	require.False(t, lenient.wantsJSONFormat(Request{JSONMode: true}))
}
