package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Fatalf("request %d unexpectedly limited", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("expected the fourth request to be limited")
	}
	// Other keys have their own window.
	if !l.Allow("10.0.0.2") {
		t.Error("expected a different key to be allowed")
	}
}

func TestWindowExpiry(t *testing.T) {
	l := New(1, 10*time.Millisecond)

	if !l.Allow("10.0.0.1") {
		t.Fatal("first request unexpectedly limited")
	}
	if l.Allow("10.0.0.1") {
		t.Fatal("second request in the window should be limited")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow("10.0.0.1") {
		t.Error("expected a fresh window after expiry")
	}
}

func TestMiddleware(t *testing.T) {
	l := New(1, time.Minute)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:51000"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:44321"
	if got := ClientIP(r); got != "192.0.2.10" {
		t.Errorf("RemoteAddr fallback: got %q", got)
	}

	r.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(r); got != "198.51.100.7" {
		t.Errorf("X-Real-IP: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(r); got != "203.0.113.9" {
		t.Errorf("X-Forwarded-For: got %q", got)
	}
}
