package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gunjou/api-ukai-syndrome/internal/auth"
)

func TestIPRateLimiterAllow(t *testing.T) {
	l := NewIPRateLimiter(2, 0)
	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("first two requests should pass")
	}
	if l.Allow("k") {
		t.Fatalf("third request should be blocked")
	}
	if !l.Allow("other") {
		t.Fatalf("other keys have their own bucket")
	}
}

func TestIPRateLimiterWindowResetAndSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || l.Allow("k") {
		t.Fatalf("expected one request per window")
	}
	now = now.Add(61 * time.Second)
	l.Sweep()
	if len(l.store) != 0 {
		t.Fatalf("expected expired bucket to be swept")
	}
	if !l.Allow("k") {
		t.Fatalf("expected new window to allow")
	}
}

func TestRateLimitMiddlewareKeysByUser(t *testing.T) {
	l := NewIPRateLimiter(1, time.Minute)
	h := RateLimitMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(userID int64) int {
		req := httptest.NewRequest(http.MethodPut, "/api/v1/attempts/x/answers/1", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: userID, Role: auth.RolePeserta}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if send(1) != http.StatusOK || send(2) != http.StatusOK {
		t.Fatalf("different users behind one ip must not share a bucket")
	}
	if send(1) != http.StatusTooManyRequests {
		t.Fatalf("expected second request of user 1 to be limited")
	}
}
