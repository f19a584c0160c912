package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
)

// MaxTemperature is the highest sampling temperature sent to a model.
const MaxTemperature = 0.3

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior conversation turn.
type Message struct {
	Role    Role
	Content string
}

// Image is an inline image sent to a vision-capable model.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is a single model call. Prompt is sent as the final user turn,
// after Messages, together with any Images.
type Request struct {
	Kind        string // extract, segment, grade or chat; used for metrics
	System      string
	Messages    []Message
	Prompt      string
	Images      []Image
	Temperature float32
	JSON        bool
}

// Completer is a generative text/vision model.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	visionModel string
}

// New creates a new LLM client. Requests with images go to visionModel,
// which defaults to modelName.
func New(baseURL, apiKey, modelName, visionModel string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if visionModel == "" {
		visionModel = modelName
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		visionModel: visionModel,
	}
}

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Complete sends req as a chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	var chatMsgs []openai.ChatCompletionMessage
	if req.System != "" {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	modelName := c.model
	last := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Images) == 0 {
		last.Content = req.Prompt
	} else {
		modelName = c.visionModel
		last.MultiContent = []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
		for _, img := range req.Images {
			last.MultiContent = append(last.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		}
	}
	chatMsgs = append(chatMsgs, last)

	creq := openai.ChatCompletionRequest{
		Model:       modelName,
		Messages:    chatMsgs,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "kind", req.Kind, "raw", raw)
	return raw, nil
}
