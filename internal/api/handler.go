// Package api provides the HTTP handlers of the relay server.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/studio-relay/internal/config"
	"github.com/ashureev/studio-relay/internal/domain"
	"github.com/ashureev/studio-relay/internal/metrics"
	"github.com/ashureev/studio-relay/internal/upstream"
)

const defaultMaxRequestBodySize = 1 << 20

// Handler serves the chat relay and image generation endpoints.
type Handler struct {
	provider     upstream.Provider
	systemPrompt string
	defaultSteps int
	maxBodySize  int64
	metrics      *metrics.Metrics
}

// NewHandler creates a Handler. m may be nil.
func NewHandler(provider upstream.Provider, cfg *config.Config, m *metrics.Metrics) *Handler {
	h := &Handler{
		provider:     provider,
		systemPrompt: cfg.Upstream.SystemPrompt,
		defaultSteps: cfg.Upstream.DefaultImageSteps,
		maxBodySize:  cfg.SSE.MaxRequestBodySize,
		metrics:      m,
	}
	if h.maxBodySize <= 0 {
		h.maxBodySize = defaultMaxRequestBodySize
	}
	if h.defaultSteps <= 0 {
		h.defaultSteps = 4
	}
	return h
}

// RegisterRoutes mounts the relay endpoints. POST routes go through limiter
// when it is non-nil.
func (h *Handler) RegisterRoutes(r chi.Router, limiter *RateLimiter) {
	r.Get("/", h.HandleHealth)
	r.Get("/ws/chat", h.HandleChatSocket)
	r.Group(func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Post("/", h.HandleChat)
		r.Post("/generate-image", h.HandleGenerateImage)
	})
}

// HandleHealth handles GET / requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "OK")
}

// conversation prepends the configured system prompt to the user's message.
func (h *Handler) conversation(message string) []upstream.Message {
	return []upstream.Message{
		{Role: domain.RoleSystem, Content: h.systemPrompt},
		{Role: domain.RoleUser, Content: message},
	}
}

// decodeBody reads a size-limited JSON body into v, writing the error
// response itself when it fails.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorWithDetails writes a JSON error response carrying the underlying cause.
func ErrorWithDetails(w http.ResponseWriter, status int, message string, cause error) {
	details := "Unknown error"
	if cause != nil {
		details = cause.Error()
	}
	JSON(w, status, map[string]string{"error": message, "details": details})
}

// sanitize is used for log fields that echo user input.
func sanitize(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:limit], len(s))
}
