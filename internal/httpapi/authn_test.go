package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/auth"
)

func newGuardedHandler(t *testing.T) (http.Handler, *auth.Tokens) {
	t.Helper()
	tokens, err := auth.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	a := &API{tokens: tokens}
	h := a.requireRole(auth.RoleAdmin, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if op, ok := auth.OperatorFromContext(r.Context()); !ok || op != "alice" {
			t.Errorf("operator not propagated: %q", op)
		}
		w.WriteHeader(http.StatusOK)
	}))
	return h, tokens
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler, tokens := newGuardedHandler(t)
	token, _, err := tokens.Issue("alice", []string{"admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/distributions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler, tokens := newGuardedHandler(t)
	token, _, err := tokens.Issue("alice", []string{"viewer"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/distributions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingToken(t *testing.T) {
	handler, _ := newGuardedHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/distributions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsForeignToken(t *testing.T) {
	handler, _ := newGuardedHandler(t)
	other, err := auth.NewTokens("other-secret")
	if err != nil {
		t.Fatalf("new tokens: %v", err)
	}
	token, _, err := other.Issue("alice", []string{"admin"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/distributions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":             false,
		"Basic abc":    false,
		"Bearer ":      false,
		"bearer abc":   true,
		"Bearer  abc ": true,
		"Bearerabc":    false,
	}
	for header, ok := range cases {
		_, err := extractBearerToken(header)
		if (err == nil) != ok {
			t.Fatalf("header %q: expected ok=%v, got err=%v", header, ok, err)
		}
	}
}
