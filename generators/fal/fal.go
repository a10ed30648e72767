// Package fal renders prompts into images through the fal.ai REST API.
package fal

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
	DefaultBaseURL = "https://fal.run"
	DefaultModel   = "fal-ai/flux/dev"
	// DefaultImageSize matches the canvas tile size.
	DefaultImageSize = 200
)

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type GenerateRequest struct {
	Prompt    string    `json:"prompt"`
	ImageSize ImageSize `json:"image_size"`
}

type GeneratedImage struct {
	URL         string `json:"url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type GenerateResponse struct {
	Images []GeneratedImage `json:"images"`
	Seed   int64            `json:"seed,omitempty"`
	Prompt string           `json:"prompt,omitempty"`
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	size       int
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
		model:      strings.Trim(model, "/"),
		size:       DefaultImageSize,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// NewClientFromEnv reads FAL_KEY, FAL_BASE_URL and FAL_MODEL.
func NewClientFromEnv() *Client {
	c := NewClient(os.Getenv("FAL_KEY"), os.Getenv("FAL_BASE_URL"), os.Getenv("FAL_MODEL"))
	if c.apiKey == "" {
		logrus.Warn("FAL_KEY environment variable not set. Image generation will not work.")
	}
	return c
}

// Generate renders prompt and returns the url of the first image.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("fal api key is not configured")
	}

	body, err := json.Marshal(GenerateRequest{
		Prompt:    prompt,
		ImageSize: ImageSize{Width: c.size, Height: c.size},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.model, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create fal request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log := logrus.WithField("model", c.model)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to communicate with fal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(msg)}).Error("fal request failed")
		return "", fmt.Errorf("fal returned status %d", resp.StatusCode)
	}

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode fal response: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return "", fmt.Errorf("fal returned no images")
	}

	log.WithField("duration", time.Since(start)).Info("Image generated")
	return out.Images[0].URL, nil
}
