package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// remoteTimeout bounds a single upload-and-transcribe round trip.
const remoteTimeout = 30 * time.Minute

// Option configures a remote adapter.
type Option func(*remoteClient)

// WithBaseURL overrides the provider API root, mainly for tests.
func WithBaseURL(url string) Option {
	return func(c *remoteClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *remoteClient) { c.http = hc }
}

type remoteClient struct {
	provider string
	baseURL  string
	http     *http.Client
}

func newRemoteClient(provider, baseURL string, opts []Option) remoteClient {
	c := remoteClient{provider: provider, baseURL: baseURL, http: &http.Client{Timeout: remoteTimeout}}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// postMultipart uploads filePath as the "file" part along with fields.
func (c remoteClient) postMultipart(ctx context.Context, path string, headers, fields map[string]string, repeated map[string][]string, filePath string, out any) error {
	file, err := os.Open(filePath)
	if err != nil {
		return c.fail("upload", "cannot open input media", 0, err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return c.fail("upload", "failed to build form", 0, err)
		}
	}
	for k, values := range repeated {
		for _, v := range values {
			if err := writer.WriteField(k, v); err != nil {
				return c.fail("upload", "failed to build form", 0, err)
			}
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return c.fail("upload", "failed to build form", 0, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return c.fail("upload", "failed to read input media", 0, err)
	}
	if err := writer.Close(); err != nil {
		return c.fail("upload", "failed to build form", 0, err)
	}

	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = writer.FormDataContentType()
	return c.do(ctx, path, headers, &body, out)
}

// postFile streams filePath as the raw request body.
func (c remoteClient) postFile(ctx context.Context, path string, headers map[string]string, filePath string, out any) error {
	file, err := os.Open(filePath)
	if err != nil {
		return c.fail("upload", "cannot open input media", 0, err)
	}
	defer file.Close()
	return c.do(ctx, path, headers, file, out)
}

func (c remoteClient) do(ctx context.Context, path string, headers map[string]string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return c.fail("request", "failed to build request", 0, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.fail("request", "request failed", 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.fail("response", "failed to read response", resp.StatusCode, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.fail("response", fmt.Sprintf("provider request failed: %s", truncate(string(data), 200)), resp.StatusCode, nil)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail("response", fmt.Sprintf("non-json response from provider: %s", truncate(string(data), 200)), resp.StatusCode, err)
	}
	return nil
}

func (c remoteClient) fail(stage, message string, status int, err error) error {
	return &ProviderError{Provider: c.provider, Stage: stage, Message: message, StatusCode: status, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
