package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrEmptyResponse = errors.New("generation returned no candidates")

// InlineData is a media blob attached to a prompt. Data is raw bytes; it is
// base64-encoded on the wire.
type InlineData struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Client calls the hosted generative-language API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient builds a generation client for the given model.
func NewClient(apiKey, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    "https://generativelanguage.googleapis.com",
		apiKey:     apiKey,
		model:      model,
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate sends the prompt, with an optional inline media blob, and returns
// the generated text.
func (c *Client) Generate(ctx context.Context, prompt string, inline *InlineData) (string, error) {
	parts := []part{{Text: prompt}}
	if inline != nil {
		parts = append(parts, part{InlineData: inline})
	}

	body, err := json.Marshal(generateRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	var payload generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if payload.Error.Message != "" {
		return "", fmt.Errorf("generation failed: %s", payload.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation failed: status %d", resp.StatusCode)
	}
	if len(payload.Candidates) == 0 || len(payload.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}
	return payload.Candidates[0].Content.Parts[0].Text, nil
}
