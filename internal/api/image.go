package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/studio-relay/internal/metrics"
)

const jpegDataURIPrefix = "data:image/jpeg;base64,"

// ImageRequest is the body of POST /generate-image.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps,omitempty"`
}

// ImageResponse is returned by a successful generation.
type ImageResponse struct {
	DataURI string `json:"dataURI"`
}

// HandleGenerateImage handles POST /generate-image requests.
func (h *Handler) HandleGenerateImage(w http.ResponseWriter, r *http.Request) {
	var req ImageRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Prompt == "" {
		Error(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if req.Steps <= 0 {
		req.Steps = h.defaultSteps
	}

	ctx := r.Context()
	if ctx.Err() != nil {
		h.metrics.ObserveImage(metrics.StatusCanceled)
		Error(w, http.StatusRequestTimeout, "Request aborted")
		return
	}

	image, err := h.provider.GenerateImage(ctx, req.Prompt, req.Steps)
	if ctx.Err() != nil {
		h.metrics.ObserveImage(metrics.StatusCanceled)
		Error(w, http.StatusRequestTimeout, "Request aborted")
		return
	}
	if err != nil {
		slog.Error("Image generation failed", "prompt", sanitize(req.Prompt, 80), "steps", req.Steps, "error", err)
		h.metrics.ObserveImage(metrics.StatusError)
		ErrorWithDetails(w, http.StatusInternalServerError, "Failed to generate image", err)
		return
	}

	h.metrics.ObserveImage(metrics.StatusOK)
	JSON(w, http.StatusOK, ImageResponse{DataURI: jpegDataURIPrefix + image})
}
