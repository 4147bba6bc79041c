package api

import (
	"context"
	"net/http"
	"time"

	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/model"
)

type HealthHandler struct {
	DB *db.DB
}

// Health reports whether the server can reach its database. Clients use the
// database field to decide whether uploads can be attempted.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.DB.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, model.HealthResponse{
			Status:   model.HealthUnhealthy,
			Database: model.DatabaseDisconnected,
			Error:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:   model.HealthHealthy,
		Database: model.DatabaseConnected,
	})
}
