// Package llm provides a client for the Google Gemini API
package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
)

const (
	DefaultModel      = "gemini-2.5-pro"
	DefaultQuickModel = "gemini-2.5-flash"
)

// Client implements interfaces.LLMClient over the Gemini API.
type Client struct {
	client *genai.Client
	logger *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a new Gemini client
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{
		client: genaiClient,
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Generate runs one prompt against model and returns the text plus token
// usage for metering.
func (c *Client) Generate(ctx context.Context, model, prompt string) (*interfaces.LLMResponse, error) {
	if model == "" {
		model = DefaultModel
	}
	c.logger.Debug().Str("model", model).Int("prompt_len", len(prompt)).Msg("Generating content")

	start := time.Now()
	result, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(result)
	if err != nil {
		return nil, err
	}

	resp := &interfaces.LLMResponse{
		Text:    text,
		Elapsed: time.Since(start),
	}
	if result.UsageMetadata != nil {
		resp.TokensIn = int(result.UsageMetadata.PromptTokenCount)
		resp.TokensOut = int(result.UsageMetadata.CandidatesTokenCount)
	}
	return resp, nil
}

// extractTextFromResponse extracts text from a generate content response
func extractTextFromResponse(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}

	return text, nil
}

// Compile-time check
var _ interfaces.LLMClient = (*Client)(nil)
