package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"testlms/internal/auth"
)

func TestRateLimiterAllow(t *testing.T) {
	l := NewRateLimiter(60, 2)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("other client should have its own bucket")
	}
}

func TestRateLimiterRefillsAndSweeps(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(60, 1)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || l.Allow("a") {
		t.Fatalf("burst of one expected")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatalf("token should refill after a second")
	}

	now = now.Add(limiterIdleTTL + time.Minute)
	l.Allow("b")
	if got := l.size(); got != 1 {
		t.Fatalf("idle bucket should be swept, have %d", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	mw := RateLimitMiddleware(NewRateLimiter(60, 1))
	next := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	post := func(userID int64) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/1/submit", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		if userID > 0 {
			req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: userID, Role: auth.RoleStudent}))
		}
		w := httptest.NewRecorder()
		next.ServeHTTP(w, req)
		return w.Code
	}

	if code := post(7); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := post(7); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := post(8); code != http.StatusOK {
		t.Fatalf("another user should not share the bucket, got %d", code)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/v1/student/results", nil)
	w := httptest.NewRecorder()
	next.ServeHTTP(w, get)
	w = httptest.NewRecorder()
	next.ServeHTTP(w, get)
	if w.Code != http.StatusOK {
		t.Fatalf("reads are not throttled, got %d", w.Code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "192.0.2.4:443"
	if got := clientKey(req); got != "ip:192.0.2.4" {
		t.Fatalf("unexpected key: %s", got)
	}
}
