package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sethshoultes/flock-control/internal/auth"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/logging"
)

type contextKey string

const UserIDKey contextKey = "userID"

type Middleware struct {
	DB     *db.DB
	Tokens *auth.Tokens
}

// AuthMiddleware rejects requests without a valid bearer token for an
// existing user.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			JSONError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		m.authenticate(next, w, r)
	})
}

// OptionalAuth lets requests without an Authorization header through as
// guests. A header that is present must still be valid.
func (m *Middleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			next.ServeHTTP(w, r)
			return
		}
		m.authenticate(next, w, r)
	})
}

func (m *Middleware) authenticate(next http.Handler, w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		JSONError(w, "Invalid authorization header", http.StatusUnauthorized)
		return
	}

	claims, err := m.Tokens.Validate(parts[1])
	if err != nil {
		JSONError(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	// A valid token for a user that no longer exists, e.g. after the
	// database was reset.
	exists, err := m.DB.UserExists(r.Context(), claims.UserID)
	if err != nil {
		logging.Error().Err(err).Int64("user_id", claims.UserID).Msg("auth: failed to check user")
		JSONError(w, "Database error", http.StatusInternalServerError)
		return
	}
	if !exists {
		logging.Warn().Int64("user_id", claims.UserID).Msg("auth: user not found")
		JSONError(w, "User not found", http.StatusUnauthorized)
		return
	}

	ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func GetUserID(r *http.Request) (int64, bool) {
	userID, ok := r.Context().Value(UserIDKey).(int64)
	return userID, ok
}
