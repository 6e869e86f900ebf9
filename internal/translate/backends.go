package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultDeepgramBaseURL = "https://api.deepgram.com/v1"
	defaultOpenAIModel     = "gpt-4o-mini"
	requestTimeout         = 2 * time.Minute
)

// Option configures a text translator.
type Option func(*client)

// WithBaseURL overrides the API root, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.http = hc }
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string, opts []Option) client {
	c := client{baseURL: baseURL, http: &http.Client{Timeout: requestTimeout}}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// postJSON sends payload and decodes a JSON response into out.
func (c client) postJSON(ctx context.Context, path string, headers map[string]string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OpenAI translates text with a chat completion model.
type OpenAI struct {
	APIKey string
	Model  string
	client client
}

// NewOpenAI builds an OpenAI chat translator.
func NewOpenAI(apiKey, model string, opts ...Option) *OpenAI {
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{APIKey: apiKey, Model: model, client: newClient(defaultOpenAIBaseURL, opts)}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Translate implements Translator.
func (o *OpenAI) Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error) {
	hint := ""
	if sourceLanguage != "" {
		hint = " from " + sourceLanguage
	}
	payload := chatRequest{
		Model: o.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a translation engine. Return only translated text with no commentary."},
			{Role: "user", Content: fmt.Sprintf("Translate this text%s to %s: %s", hint, targetLanguage, text)},
		},
	}

	var resp chatResponse
	err := o.client.postJSON(ctx, "/chat/completions", map[string]string{"Authorization": "Bearer " + o.APIKey}, payload, &resp)
	if err != nil {
		return "", fmt.Errorf("openai translation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai translation: no choices returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Deepgram translates text through Deepgram's text translation endpoint.
type Deepgram struct {
	APIKey string
	client client
}

// NewDeepgram builds a Deepgram text translator.
func NewDeepgram(apiKey string, opts ...Option) *Deepgram {
	return &Deepgram{APIKey: apiKey, client: newClient(defaultDeepgramBaseURL, opts)}
}

// Translate implements Translator.
func (d *Deepgram) Translate(ctx context.Context, text, targetLanguage, sourceLanguage string) (string, error) {
	payload := map[string]string{"text": text, "target_language": targetLanguage}
	if sourceLanguage != "" {
		payload["source_language"] = sourceLanguage
	}

	var resp struct {
		TranslatedText string `json:"translated_text"`
	}
	err := d.client.postJSON(ctx, "/translate", map[string]string{"Authorization": "Token " + d.APIKey}, payload, &resp)
	if err != nil {
		return "", fmt.Errorf("deepgram translation: %w", err)
	}
	translated := strings.TrimSpace(resp.TranslatedText)
	if translated == "" {
		return "", errors.New("deepgram translation returned empty text")
	}
	return translated, nil
}
