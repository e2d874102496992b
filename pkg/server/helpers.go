package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/ldlog"
)

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msg("Failed to encode response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(encoded)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, msg string) {
	writeJSON(ctx, w, status, map[string]string{"error": msg})
}

// authEnabled reports whether the report endpoints require a session token
func (t tally) authEnabled() bool {
	return len(t.Cfg.Auth.Operators) > 0
}

// requirePermission enforces the given permission when auth is enabled. It
// writes the error response itself and returns false if the request may not
// proceed.
func (t tally) requirePermission(w http.ResponseWriter, r *http.Request, perm auth.Permission, bag interface{}) bool {
	if !t.authEnabled() {
		return true
	}

	ctx := r.Context()
	err := auth.CheckPermission(ctx, perm, bag)
	if err == nil {
		return true
	}

	switch {
	case eris.Is(err, auth.ErrUnauthenticated):
		writeError(ctx, w, http.StatusUnauthorized, "token missing or invalid")
	case eris.Is(err, auth.ErrPermissionDenied), eris.Is(err, auth.ErrInvalidRole):
		writeError(ctx, w, http.StatusForbidden, "permission denied")
	default:
		ldlog.Log(ctx).Error().Err(err).Msg("Permission check failed")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
	}
	return false
}
