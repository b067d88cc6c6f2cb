package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/studio-relay/internal/metrics"
	"github.com/ashureev/studio-relay/internal/relay"
)

// HandleChatSocket handles GET /ws/chat. The client sends one
// {"message": "..."} text message; every relay frame is written back as a
// text message and the socket is closed after the done frame.
func (h *Handler) HandleChatSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() { _ = ws.CloseNow() }()
	ws.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	_, data, err := ws.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) != -1 {
			slog.Debug("WebSocket closed by client before request")
		} else {
			slog.Warn("WebSocket read error", "error", err)
		}
		return
	}

	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
		_ = ws.Close(websocket.StatusPolicyViolation, "Message is required")
		return
	}

	// Nothing else is read; this keeps handling control frames and cancels
	// ctx once the client goes away.
	ctx = ws.CloseRead(ctx)

	start := time.Now()
	body, err := h.provider.Chat(ctx, h.conversation(req.Message))
	if err != nil {
		slog.Error("Upstream chat failed", "error", err, "transport", "websocket")
		h.metrics.ObserveStream(metrics.StatusError, 0, time.Since(start))
		_ = ws.Close(websocket.StatusInternalError, "Failed to process request")
		return
	}
	defer body.Close()

	chunks, err := relay.Each(body, func(frame []byte) error {
		return ws.Write(ctx, websocket.MessageText, frame)
	})
	switch {
	case err == nil:
		h.metrics.ObserveStream(metrics.StatusOK, chunks, time.Since(start))
		_ = ws.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, relay.ErrUpstream):
		h.metrics.ObserveStream(metrics.StatusError, chunks, time.Since(start))
		slog.Error("Upstream stream failed", "error", err, "transport", "websocket")
		_ = ws.Close(websocket.StatusInternalError, "upstream stream failed")
	default:
		h.metrics.ObserveStream(metrics.StatusCanceled, chunks, time.Since(start))
		slog.Debug("WebSocket write error", "error", err)
	}
}
