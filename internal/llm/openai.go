package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"activity-rag/internal/apperr"
)

// OpenAIClient calls the OpenAI Chat Completions API.
type OpenAIClient struct {
	model   openai.ChatModel
	timeout time.Duration
	client  *openai.Client
}

const (
	defaultChatTimeout     = 30 * time.Second
	defaultChatTemperature = 0.2
)

// NewOpenAIClient builds a client with defaults against api.openai.com.
func NewOpenAIClient(apiKey string, model openai.ChatModel, timeout time.Duration) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if timeout <= 0 {
		timeout = defaultChatTimeout
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{
		model:   model,
		timeout: timeout,
		client:  &cli,
	}, nil
}

func (c *OpenAIClient) Answer(ctx context.Context, question, contextText string, history []Message) (string, error) {
	var system string
	var err error
	if strings.TrimSpace(contextText) == "" {
		system, err = Render(TemplateNoContext, nil)
	} else {
		system, err = Render(TemplateGroundedAnswer, map[string]string{"context": contextText})
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ErrGeneration, "render prompt", err)
	}

	messages := buildMessages(system, history, question)
	answer, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer: %w: %w: %w", apperr.ErrGeneration, apperr.ErrTransient, err)
	}
	return answer, nil
}

func (c *OpenAIClient) Condense(ctx context.Context, question string, history []Message) (string, error) {
	system, err := Render(TemplateCondense, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrGeneration, "render prompt", err)
	}

	messages := buildMessages(system, history, question)
	standalone, err := c.complete(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("condense: %w: %w: %w", apperr.ErrGeneration, apperr.ErrTransient, err)
	}
	return strings.TrimSpace(standalone), nil
}

func (c *OpenAIClient) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(defaultChatTemperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(system string, history []Message, user string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfSystem: &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{
				OfString: openai.String(system),
			},
		},
	})
	for _, msg := range history {
		if msg.Role == "assistant" {
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			})
			continue
		}
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(user),
			},
		},
	})
	return messages
}
