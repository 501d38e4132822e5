package qa

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/fault"
)

// Turn is one prior exchange replayed into the chat history.
type Turn struct {
	Role    string
	Content string
}

// ChatClient streams a completion for an assembled prompt. onDelta is
// invoked for every token chunk; the full text is returned at the end.
type ChatClient interface {
	StreamAnswer(ctx context.Context, systemPrompt, question string, history []Turn, onDelta func(string)) (string, error)
}

// OpenAIClient speaks the OpenAI chat completions protocol, including
// self-hosted gateways exposing the same API.
type OpenAIClient struct {
	client *openai.Client
	cfg    config.LLMConfig
}

func NewOpenAIClient(cfg config.LLMConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// StreamAnswer runs one streaming chat completion.
func (c *OpenAIClient) StreamAnswer(ctx context.Context, systemPrompt, question string, history []Turn, onDelta func(string)) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: question,
	})

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode < 500 {
			return "", fault.Wrap(fault.KindProviderProtocol, err, "chat completion rejected")
		}
		return "", fault.Wrap(fault.KindTransient, err, "chat completion unavailable")
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return buf.String(), fault.Wrap(fault.KindTransient, ctx.Err(), "chat stream cancelled")
			}
			return buf.String(), fault.Wrap(fault.KindTransient, err, "chat stream interrupted")
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		buf.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}
	return buf.String(), nil
}
