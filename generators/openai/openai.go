// Package openai turns one image prompt into alternative prompts using an
// OpenAI-compatible chat completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4.1-nano"

	// MaxVariations is how many lines of the reply are kept.
	MaxVariations = 4
)

const systemPrompt = `The user will provide a prompt used to generate an image. Your job is to generate 4 variations of that prompt with changes in artistic style, composition or content. Please respond with only the suggested variations, one per line.

<exampleResponse>
First variation here...
Second variation here...
Third variation here...
Fourth variation here...
</exampleResponse>`

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type ChatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens *int          `json:"max_tokens,omitempty"`
	Stream    *bool         `json:"stream"`
}

type ChatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   Usage                  `json:"usage"`
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: time.Minute},
	}
}

// NewClientFromEnv reads OPENAI_API_KEY, OPENAI_BASE_URL and OPENAI_MODEL.
func NewClientFromEnv() *Client {
	c := NewClient(os.Getenv("OPENAI_API_KEY"), os.Getenv("OPENAI_BASE_URL"), os.Getenv("OPENAI_MODEL"))
	if c.apiKey == "" {
		logrus.Warn("OPENAI_API_KEY environment variable not set. Variations will not work.")
	}
	return c
}

// Variations asks the model for alternative prompts and returns at most
// MaxVariations non-empty lines of its reply.
func (c *Client) Variations(ctx context.Context, prompt string) ([]string, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openai api key is not configured")
	}

	stream := false
	body, err := json.Marshal(ChatCompletionRequest{
		Model: c.model,
		Messages: []ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream: &stream,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to communicate with OpenAI API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logrus.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(msg)}).Error("OpenAI request failed")
		return nil, fmt.Errorf("openai returned status %d", resp.StatusCode)
	}

	var out ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode openai response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	variations := ParseVariations(out.Choices[0].Message.Content)
	logrus.WithFields(logrus.Fields{
		"model": c.model,
		"count": len(variations),
		"usage": out.Usage.TotalTokens,
	}).Info("Variations generated")
	return variations, nil
}

// ParseVariations splits a reply into trimmed, non-empty lines and keeps the
// first MaxVariations.
func ParseVariations(text string) []string {
	variations := make([]string, 0, MaxVariations)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		variations = append(variations, line)
		if len(variations) == MaxVariations {
			break
		}
	}
	return variations
}
