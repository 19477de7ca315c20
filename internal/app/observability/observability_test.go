package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gunjou/api-ukai-syndrome/internal/auth"
)

func TestNormalizedPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/v1/tryouts/12/attempts/start", "/api/v1/tryouts/{id}/attempts/start"},
		{"/api/v1/attempts/5b0c3f5e-8f53-4d55-9d6a-3f1c0f2b7a10/answers/9", "/api/v1/attempts/{token}/answers/{id}"},
		{"/healthz", "/healthz"},
		{"", "/"},
	}
	for _, tc := range tests {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Fatalf("normalizedPath(%q) got=%s want=%s", tc.in, got, tc.want)
		}
	}
}

func TestExtractAttemptToken(t *testing.T) {
	token := "5b0c3f5e-8f53-4d55-9d6a-3f1c0f2b7a10"
	if got := extractAttemptToken("/api/v1/attempts/" + token + "/submit"); got != token {
		t.Fatalf("expected %s, got %q", token, got)
	}
	if got := extractAttemptToken("/api/v1/tryouts/1/attempts/start"); got != "" {
		t.Fatalf("expected empty token for start path, got %q", got)
	}
}

func TestAttemptOutcome(t *testing.T) {
	tests := []struct {
		method string
		path   string
		status int
		want   string
	}{
		{http.MethodPost, "/api/v1/tryouts/{id}/attempts/start", 201, "start_ok"},
		{http.MethodPut, "/api/v1/attempts/{token}/answers/{id}", 410, "answer_expired"},
		{http.MethodPost, "/api/v1/attempts/{token}/submit", 409, "submit_conflict"},
		{http.MethodPost, "/api/v1/attempts/{token}/submit", 503, "submit_error"},
		{http.MethodGet, "/api/v1/attempts/{token}", 200, ""},
	}
	for _, tc := range tests {
		if got := attemptOutcome(tc.method, tc.path, tc.status); got != tc.want {
			t.Fatalf("attemptOutcome(%s %s %d) got=%q want=%q", tc.method, tc.path, tc.status, got, tc.want)
		}
	}
}

func TestMiddlewareCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	h := c.Middleware(CaptureUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tryouts/3/attempts/start", nil)
		req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 8, Role: auth.RolePeserta}))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	want := `ukai_http_requests_total{method="POST",path="/api/v1/tryouts/{id}/attempts/start",status="201"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("metrics missing request counter, got:\n%s", body)
	}
	if !strings.Contains(body, `ukai_attempt_requests_total{outcome="start_ok"} 2`) {
		t.Fatalf("metrics missing outcome counter, got:\n%s", body)
	}
}
