package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
		wantStatus int
	}{
		{"wildcard", []string{"*"}, "https://app.example", http.MethodPost, "*", http.StatusTeapot},
		{"explicit match", []string{"https://app.example"}, "https://app.example", http.MethodGet, "https://app.example", http.StatusTeapot},
		{"no match", []string{"https://app.example"}, "https://evil.example", http.MethodGet, "", http.StatusTeapot},
		{"preflight", []string{"*"}, "https://app.example", http.MethodOptions, "*", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("expected allow-origin %q, got %q", tt.wantOrigin, got)
			}
			if tt.wantOrigin != "" {
				if got := w.Header().Get("Access-Control-Allow-Methods"); got != "POST, GET, OPTIONS" {
					t.Errorf("unexpected methods %q", got)
				}
				if got := w.Header().Get("Access-Control-Max-Age"); got != "86400" {
					t.Errorf("unexpected max-age %q", got)
				}
			}
		})
	}
}
