package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ashureev/studio-relay/internal/config"
)

const errorBodyLimit = 4 << 10

// HTTPProvider calls a Workers-AI style REST API: POST {base}/run/{model}.
type HTTPProvider struct {
	baseURL    string
	token      string
	chatModel  string
	imageModel string
	client     *http.Client
}

// NewHTTPProvider creates a REST provider. A nil client uses http.DefaultClient.
func NewHTTPProvider(cfg config.UpstreamConfig, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		token:      cfg.Token,
		chatModel:  cfg.ChatModel,
		imageModel: cfg.ImageModel,
		client:     client,
	}
}

// Chat requests a streamed completion and returns the raw response body.
func (p *HTTPProvider) Chat(ctx context.Context, messages []Message) (io.ReadCloser, error) {
	resp, err := p.post(ctx, p.chatModel, map[string]any{
		"messages": messages,
		"stream":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	return resp.Body, nil
}

// GenerateImage runs the image model and extracts result.image.
func (p *HTTPProvider) GenerateImage(ctx context.Context, prompt string, steps int) (string, error) {
	resp, err := p.post(ctx, p.imageModel, map[string]any{
		"prompt": prompt,
		"steps":  steps,
	})
	if err != nil {
		return "", fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read image response: %w", err)
	}
	image := gjson.GetBytes(body, "result.image").String()
	if image == "" {
		if msg := gjson.GetBytes(body, "errors.0.message").String(); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrEmptyImage, msg)
		}
		return "", ErrEmptyImage
	}
	return image, nil
}

// Close is a no-op; the HTTP client is shared.
func (p *HTTPProvider) Close() {}

func (p *HTTPProvider) post(ctx context.Context, model string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/run/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: readLimited(resp.Body, errorBodyLimit)}
	}
	return resp, nil
}
