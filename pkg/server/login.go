package server

import (
	"encoding/json"
	"net/http"

	argon2 "github.com/andskur/argon2-hashing"

	"github.com/quartermile/ledgerd/pkg/auth"
	"github.com/quartermile/ledgerd/pkg/config"
	"github.com/quartermile/ledgerd/pkg/ldlog"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func findOperator(cfg *config.Config, username string) *config.Operator {
	for idx, op := range cfg.Auth.Operators {
		if op.Username == username {
			return &cfg.Auth.Operators[idx]
		}
	}
	return nil
}

// HandleLogin processes a new login request and returns a valid token on success
func (t tally) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(ctx, w, http.StatusBadRequest, "username and password are required")
		return
	}

	op := findOperator(t.Cfg, req.Username)
	if op == nil {
		writeError(ctx, w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	err = argon2.CompareHashAndPassword([]byte(op.Password), []byte(req.Password))
	if err != nil {
		ldlog.Log(ctx).Warn().Msgf("Failed login attempt for %s", req.Username)
		writeError(ctx, w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := auth.IssueToken(ctx, op.Username, []string{op.Role})
	if err != nil {
		ldlog.Log(ctx).Error().Err(err).Msg("Failed to issue session token")
		writeError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(ctx, w, http.StatusOK, map[string]string{
		"token": token,
		"role":  op.Role,
	})
}
