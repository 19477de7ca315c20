package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifierRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "ukai")
	token, err := v.Issue(User{ID: 42, Role: RolePeserta}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	user, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != 42 || user.Role != RolePeserta {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestVerifierRejects(t *testing.T) {
	good := NewVerifier("secret", "ukai")
	expired, _ := good.Issue(User{ID: 1, Role: RoleAdmin}, -time.Minute)
	otherIssuer, _ := NewVerifier("secret", "other").Issue(User{ID: 1, Role: RoleAdmin}, time.Hour)
	otherSecret, _ := NewVerifier("nope", "ukai").Issue(User{ID: 1, Role: RoleAdmin}, time.Hour)
	noRole, _ := good.Issue(User{ID: 1}, time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "expired", token: expired},
		{name: "wrong issuer", token: otherIssuer},
		{name: "wrong secret", token: otherSecret},
		{name: "missing role", token: noRole},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := good.Verify(tc.token); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestRequireAuthAndRoles(t *testing.T) {
	v := NewVerifier("secret", "")
	peserta, _ := v.Issue(User{ID: 7, Role: RolePeserta}, time.Hour)
	admin, _ := v.Issue(User{ID: 1, Role: RoleAdmin}, time.Hour)

	var seen *User
	h := v.RequireAuth(RequireRoles(RoleAdmin, RoleMentor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CurrentUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name    string
		header  string
		query   string
		upgrade bool
		code    int
	}{
		{name: "no token", code: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + peserta, code: http.StatusForbidden},
		{name: "allowed role", header: "Bearer " + admin, code: http.StatusNoContent},
		{name: "query token on plain request", query: "?access_token=" + admin, code: http.StatusUnauthorized},
		{name: "query token on websocket upgrade", query: "?access_token=" + admin, upgrade: true, code: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			if tc.upgrade {
				req.Header.Set("Connection", "Upgrade")
				req.Header.Set("Upgrade", "websocket")
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.code {
				t.Fatalf("expected %d, got %d body=%s", tc.code, rr.Code, rr.Body.String())
			}
			if tc.code == http.StatusNoContent && (seen == nil || seen.ID != 1) {
				t.Fatalf("expected admin user in context, got %+v", seen)
			}
		})
	}
}
