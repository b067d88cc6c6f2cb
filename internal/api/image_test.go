package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleGenerateImage(t *testing.T) {
	p := &fakeProvider{image: "QUJD"}
	w := httptest.NewRecorder()
	newTestRouter(p, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"a cat"}`)))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got ImageResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DataURI != "data:image/jpeg;base64,QUJD" {
		t.Errorf("unexpected dataURI %q", got.DataURI)
	}
	if p.gotSteps != 4 {
		t.Errorf("expected default 4 steps, got %d", p.gotSteps)
	}
}

func TestHandleGenerateImageExplicitSteps(t *testing.T) {
	p := &fakeProvider{image: "QUJD"}
	w := httptest.NewRecorder()
	newTestRouter(p, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"a cat","steps":8}`)))
	if p.gotSteps != 8 {
		t.Errorf("expected 8 steps, got %d", p.gotSteps)
	}
}

func TestHandleGenerateImageErrors(t *testing.T) {
	tests := []struct {
		name       string
		provider   *fakeProvider
		body       string
		wantStatus int
		wantError  string
	}{
		{"missing prompt", &fakeProvider{}, `{"steps":4}`, http.StatusBadRequest, "Prompt is required"},
		{"upstream failure", &fakeProvider{imageErr: errors.New("quota")}, `{"prompt":"x"}`, http.StatusInternalServerError, "Failed to generate image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestRouter(tt.provider, nil).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(tt.body)))
			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if got := decodeError(t, w.Body); got["error"] != tt.wantError {
				t.Errorf("unexpected error %v", got)
			}
		})
	}
}

func TestHandleGenerateImageAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/generate-image", strings.NewReader(`{"prompt":"x"}`)).WithContext(ctx)
	w := httptest.NewRecorder()

	newTestRouter(&fakeProvider{image: "QUJD"}, nil).ServeHTTP(w, req)

	if w.Code != http.StatusRequestTimeout {
		t.Fatalf("expected 408, got %d", w.Code)
	}
	if got := decodeError(t, w.Body); got["error"] != "Request aborted" {
		t.Errorf("unexpected error %v", got)
	}
}
