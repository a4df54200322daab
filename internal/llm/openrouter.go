package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kalambet/genius/internal/proxy"
)

// ChatClient is the subset of proxy.Client used by OpenRouter.
type ChatClient interface {
	Chat(ctx context.Context, req proxy.ChatRequest) (io.ReadCloser, error)
}

// OpenRouter completes prompts through the OpenRouter chat completions API.
type OpenRouter struct {
	client ChatClient
	model  string
}

// NewOpenRouter creates a Completer that sends non-streaming chat requests
// for model through client.
func NewOpenRouter(client ChatClient, model string) *OpenRouter {
	return &OpenRouter{client: client, model: model}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenRouter) Complete(ctx context.Context, req Request) (string, error) {
	msgs := []proxy.Message{}
	if req.System != "" {
		msgs = append(msgs, proxy.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, proxy.Message{Role: "user", Content: req.User})

	chatReq, err := proxy.NewChatRequest(o.model, msgs, req.MaxTokens, req.Temperature)
	if err != nil {
		return "", &CompletionError{Provider: "openrouter", Permanent: true, Err: err}
	}

	rc, err := o.client.Chat(ctx, chatReq)
	if err != nil {
		var se *proxy.StatusError
		permanent := errors.As(err, &se) && se.Permanent()
		return "", &CompletionError{Provider: "openrouter", Permanent: permanent, Err: err}
	}
	defer rc.Close()

	var resp chatResponse
	if err := json.NewDecoder(rc).Decode(&resp); err != nil {
		return "", &CompletionError{Provider: "openrouter", Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &CompletionError{Provider: "openrouter", Err: ErrEmptyContent}
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &CompletionError{Provider: "openrouter", Err: ErrEmptyContent}
	}
	return content, nil
}
