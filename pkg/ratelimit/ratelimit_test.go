package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareAllowsBurstThenBlocks(t *testing.T) {
	l := New(1, 2)
	defer l.Close()
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req.RemoteAddr = "10.0.0.1:5000"

	var codes []int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("expected first two requests within burst to succeed, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected third request to be rate limited, got %v", codes)
	}
}

func TestMiddlewareTracksIPsIndependently(t *testing.T) {
	l := New(0.001, 1)
	defer l.Close()
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	req1 := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req1.RemoteAddr = "10.0.0.1:5000"
	req2 := httptest.NewRequest(http.MethodGet, "/v1/decisions", nil)
	req2.RemoteAddr = "10.0.0.2:6000"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("expected distinct IPs to each get their own bucket, got %d and %d", rec1.Code, rec2.Code)
	}
}
