package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const errorBodyLimit = 64 << 10

// ResponseError is a non-2xx answer from the relay. Message follows the
// relay's {error, details} body: details first, then error, then a fallback.
type ResponseError struct {
	Status  int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
}

// Client calls the relay server's endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a relay client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// StreamChat posts message to the chat endpoint and returns the event stream.
func (c *Client) StreamChat(ctx context.Context, message string) (io.ReadCloser, error) {
	resp, err := c.post(ctx, "/", map[string]string{"message": message}, "Failed to fetch response")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GenerateImage posts to the image endpoint and returns the image data URI.
// steps <= 0 leaves the choice to the relay.
func (c *Client) GenerateImage(ctx context.Context, prompt string, steps int) (string, error) {
	payload := map[string]any{"prompt": prompt}
	if steps > 0 {
		payload["steps"] = steps
	}
	resp, err := c.post(ctx, "/generate-image", payload, "Failed to generate image")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		DataURI string `json:"dataURI"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode image response: %w", err)
	}
	if out.DataURI == "" {
		return "", &ResponseError{Status: resp.StatusCode, Message: "No image generated"}
	}
	return out.DataURI, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, fallback string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &ResponseError{Status: resp.StatusCode, Message: errorMessage(resp.Body, fallback)}
	}
	return resp, nil
}

func errorMessage(r io.Reader, fallback string) string {
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(io.LimitReader(r, errorBodyLimit)).Decode(&body); err != nil {
		return "Unknown error"
	}
	switch {
	case body.Details != "":
		return body.Details
	case body.Error != "":
		return body.Error
	default:
		return fallback
	}
}
