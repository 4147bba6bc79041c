package api

import (
	"net/http"

	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/model"
)

type AchievementHandler struct {
	DB *db.DB
}

func (h *AchievementHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	earned, err := h.DB.EarnedAchievements(r.Context(), userID)
	if err != nil {
		respondError(w, r, Internal("Failed to load achievements", err))
		return
	}
	catalogue, err := h.DB.ListAchievements(r.Context())
	if err != nil {
		respondError(w, r, Internal("Failed to load achievements", err))
		return
	}

	// availableAchievements lists only what is still to be earned.
	have := make(map[int64]bool, len(earned))
	for _, a := range earned {
		have[a.ID] = true
	}
	available := make([]model.Achievement, 0, len(catalogue))
	for _, a := range catalogue {
		if !have[a.ID] {
			available = append(available, a)
		}
	}

	writeJSON(w, http.StatusOK, model.AchievementsResponse{
		Achievements: model.AchievementSet{
			Achievements:          earned,
			AvailableAchievements: available,
		},
	})
}
