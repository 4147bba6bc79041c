package api

import (
	"net/http"

	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/model"
)

type UserHandler struct {
	DB *db.DB
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetUserByID(r.Context(), userID)
	if err != nil {
		JSONError(w, "User not found", http.StatusNotFound)
		return
	}
	settings, err := h.DB.GetSettings(r.Context(), userID)
	if err != nil {
		respondError(w, r, Internal("Failed to load settings", err))
		return
	}

	writeJSON(w, http.StatusOK, model.MeResponse{
		ID:       user.ID,
		Email:    user.Email,
		Settings: *settings,
	})
}
