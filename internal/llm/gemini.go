package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// Gemini calls Google's Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	visionModel string
}

// NewGemini creates a Gemini client. Requests with images go to
// visionModel, which defaults to modelName.
func NewGemini(ctx context.Context, apiKey, modelName, visionModel string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if visionModel == "" {
		visionModel = modelName
	}
	return &Gemini{client: client, model: modelName, visionModel: visionModel}, nil
}

// Complete sends req to GenerateContent and returns the response text.
func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	modelName := g.model
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if len(req.Images) > 0 {
		modelName = g.visionModel
		for _, img := range req.Images {
			parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
		}
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	result, err := g.client.Models.GenerateContent(ctx, modelName, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API call: %w", err)
	}
	raw := result.Text()
	if raw == "" {
		return "", errors.New("gemini returned an empty response")
	}
	slog.Debug("LLM response", "kind", req.Kind, "raw", raw)
	return raw, nil
}
