package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestIDKeepsIncomingID(t *testing.T) {
	const incoming = "req-incoming-123"
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := RequestID(r.Context()); got != incoming {
			t.Fatalf("context request id = %q, want %q", got, incoming)
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(RequestIDHeader); got != incoming {
		t.Fatalf("response request id = %q, want %q", got, incoming)
	}
}

func TestWithRequestIDGeneratesID(t *testing.T) {
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestID(r.Context()) == "" {
			t.Fatal("expected a generated request id in context")
		}
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id header")
	}
}
