package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/studio-relay/internal/metrics"
	"github.com/ashureev/studio-relay/internal/relay"
)

// ChatRequest is the body of POST /.
type ChatRequest struct {
	Message string `json:"message"`
}

// HandleChat handles POST / requests by relaying the upstream completion as
// an event stream.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		Error(w, http.StatusBadRequest, "Message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	reqID := chiMiddleware.GetReqID(r.Context())
	slog.Info("Chat relay request", "request_id", reqID, "message", sanitize(req.Message, 80))

	start := time.Now()
	body, err := h.provider.Chat(r.Context(), h.conversation(req.Message))
	if err != nil {
		slog.Error("Upstream chat failed", "request_id", reqID, "error", err)
		h.metrics.ObserveStream(metrics.StatusError, 0, time.Since(start))
		ErrorWithDetails(w, http.StatusInternalServerError, "Failed to process request", err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks, err := relay.Copy(w, flusher.Flush, body)
	switch {
	case err == nil:
		h.metrics.ObserveStream(metrics.StatusOK, chunks, time.Since(start))
		slog.Debug("Chat relay finished", "request_id", reqID, "chunks", chunks)
	case r.Context().Err() != nil || errors.Is(err, context.Canceled):
		h.metrics.ObserveStream(metrics.StatusCanceled, chunks, time.Since(start))
		slog.Debug("Chat relay canceled by client", "request_id", reqID, "chunks", chunks)
	case errors.Is(err, relay.ErrUpstream):
		h.metrics.ObserveStream(metrics.StatusError, chunks, time.Since(start))
		slog.Error("Upstream stream failed", "request_id", reqID, "chunks", chunks, "error", err)
		// Abort the response so the client sees a broken stream, not a clean end.
		panic(http.ErrAbortHandler)
	default:
		h.metrics.ObserveStream(metrics.StatusCanceled, chunks, time.Since(start))
		slog.Warn("Failed to write chat relay frame", "request_id", reqID, "error", err)
	}
}
