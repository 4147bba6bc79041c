package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/sethshoultes/flock-control/internal/auth"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/model"
)

type AuthHandler struct {
	DB     *db.DB
	Tokens *auth.Tokens
}

// Login authenticates by email and password. Unknown emails are registered
// on the spot.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req, 1<<16); err != nil {
		respondError(w, r, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := h.DB.GetUserByEmail(r.Context(), email)
	if errors.Is(err, db.ErrNotFound) {
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			respondError(w, r, Internal("Internal server error", err))
			return
		}
		user, err = h.DB.CreateUser(r.Context(), email, hash)
		if err != nil {
			respondError(w, r, Internal("Failed to register user", err))
			return
		}
		logging.Info().Int64("user_id", user.ID).Msg("registered new user")
	} else if err != nil {
		respondError(w, r, Internal("Database error", err))
		return
	} else {
		match, err := auth.VerifyPassword(req.Password, user.PasswordHash)
		if err != nil {
			respondError(w, r, Internal("Error verifying password", err))
			return
		}
		if !match {
			JSONError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		if auth.NeedsRehash(user.PasswordHash) {
			h.rehash(r, user.ID, req.Password)
		}
	}

	token, err := h.Tokens.Generate(user.ID)
	if err != nil {
		respondError(w, r, Internal("Failed to generate token", err))
		return
	}
	writeJSON(w, http.StatusOK, model.LoginResponse{Token: token, User: *user})
}

// rehash upgrades a stored hash to the current settings. Failure only logs:
// the old hash keeps working.
func (h *AuthHandler) rehash(r *http.Request, userID int64, password string) {
	hash, err := auth.HashPassword(password)
	if err == nil {
		err = h.DB.UpdatePasswordHash(r.Context(), userID, hash)
	}
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("failed to upgrade password hash")
		return
	}
	logging.Info().Int64("user_id", userID).Msg("upgraded password hash")
}
