package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/audit"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/auth"
)

type tokenRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if a.tokens == nil || a.operators == nil || a.operators.Len() == 0 {
		writeError(w, r, http.StatusServiceUnavailable, "operator login disabled")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user := strings.TrimSpace(req.User)
	if user == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "user and password are required")
		return
	}

	op, err := a.operators.Authenticate(user, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		internalError(w, r, err)
		return
	}

	token, expiresAt, err := a.tokens.Issue(op.Name, op.Roles)
	if err != nil {
		internalError(w, r, err)
		return
	}
	audit.TokenIssued(r.Context(), op.Name, op.Roles)

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
