// Package upstream talks to the model provider behind the relay. The provider
// is opaque: chat yields a byte stream, image generation a base64 payload.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ashureev/studio-relay/internal/domain"
)

// ErrEmptyImage is returned when the provider answered without image data.
var ErrEmptyImage = errors.New("upstream returned no image")

// Message is one conversation turn sent to the chat model.
type Message struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Provider is the model backend used by the relay handlers.
type Provider interface {
	// Chat starts a streamed completion. The caller must close the stream.
	Chat(ctx context.Context, messages []Message) (io.ReadCloser, error)

	// GenerateImage returns the generated image as standard base64.
	GenerateImage(ctx context.Context, prompt string, steps int) (string, error)

	// Close releases resources.
	Close()
}

// StatusError reports a non-2xx provider response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// Compile-time interface checks.
var (
	_ Provider = (*HTTPProvider)(nil)
	_ Provider = (*GrpcProvider)(nil)
)

// readLimited drains at most limit bytes for error reporting.
func readLimited(r io.Reader, limit int64) string {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return ""
	}
	return string(data)
}
