package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Client cleans scraped offer titles into searchable wine names. A nil
// *Client is valid and leaves titles untouched, so the watcher runs fine
// without an API key.
type Client struct {
	model *genai.GenerativeModel
}

type cleanResult struct {
	CleanName string `json:"clean_name"`
}

func NewClient(ctx context.Context, apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, nil // Return nil client if no key provided
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := client.GenerativeModel(modelID)
	model.SetTemperature(0.1) // Low temperature for deterministic output
	model.ResponseMIMEType = "application/json"

	model.ResponseSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"clean_name": {
				Type:        genai.TypeString,
				Description: "The producer and cuvée name of the wine, suitable as a catalog search query. Strip marketing copy, bottle size, quantity, and retail comparison text. Keep the vintage year if present.",
			},
		},
		Required: []string{"clean_name"},
	}

	return &Client{model: model}, nil
}

// CleanWineName asks the model for a searchable form of a raw offer title.
func (c *Client) CleanWineName(ctx context.Context, raw string) (string, error) {
	if c == nil || c.model == nil {
		return "", nil // Graceful degradation
	}

	prompt := fmt.Sprintf(`
This is the title of a wine offer scraped from a flash-sale page:
"%s"

Task: extract the wine's producer and cuvée name as a short search query.
Drop marketing fluff, bottle counts, sizes like "750ml" or "magnum", and
anything that is not part of the wine's name. Keep the vintage year if the
title contains one.

Output JSON adhering to the schema.
`, raw)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no response candidates from gemini")
	}

	var result cleanResult
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			// Clean up potential markdown formatting just in case
			jsonStr := strings.TrimSpace(string(txt))
			jsonStr = strings.TrimPrefix(jsonStr, "```json")
			jsonStr = strings.TrimPrefix(jsonStr, "```")
			jsonStr = strings.TrimSuffix(jsonStr, "```")

			if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
				return "", fmt.Errorf("failed to parse gemini response: %w", err)
			}
			return strings.TrimSpace(result.CleanName), nil
		}
	}

	return "", fmt.Errorf("no text part in response")
}
