package proxy

import "fmt"

// Message is one chat turn in an OpenAI-compatible request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the non-streaming chat completion request sent to
// OpenRouter.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// NewChatRequest builds a request and checks the fields OpenRouter rejects.
func NewChatRequest(model string, msgs []Message, maxTokens int, temperature float64) (ChatRequest, error) {
	if model == "" {
		return ChatRequest{}, fmt.Errorf("model is required")
	}
	if len(msgs) == 0 {
		return ChatRequest{}, fmt.Errorf("at least one message is required")
	}
	if temperature < 0 || temperature > 2 {
		return ChatRequest{}, fmt.Errorf("temperature %.2f out of range [0,2]", temperature)
	}
	t := temperature
	return ChatRequest{Model: model, Messages: msgs, MaxTokens: maxTokens, Temperature: &t}, nil
}
