package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethshoultes/flock-control/internal/db"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/metrics"
	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/notify"
	"github.com/sethshoultes/flock-control/internal/vision"
)

// CountHandler serves analysis and the per-user count collection.
type CountHandler struct {
	DB            *db.DB
	Analyzer      vision.Analyzer
	Notifier      notify.Notifier
	MaxImageBytes int64
}

// Analyze runs the analyzer on the posted image. Authenticated results are
// stored and may grant achievements; guest results are returned only.
func (h *CountHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyzeRequest
	var limit int64
	if h.MaxImageBytes > 0 {
		// base64 inflates the payload by a third
		limit = h.MaxImageBytes*4/3 + 1024
	}
	if err := decodeJSON(w, r, &req, limit); err != nil {
		respondError(w, r, err)
		return
	}

	img, err := vision.DecodeDataURL(req.Image, h.MaxImageBytes)
	if err != nil {
		respondError(w, r, BadRequest("Invalid image", err))
		return
	}

	result, err := h.Analyzer.Analyze(r.Context(), img)
	switch {
	case errors.Is(err, vision.ErrUnparseable):
		metrics.AnalyzerFailures.WithLabelValues("unparseable").Inc()
		logging.Warn().Err(err).Msg("analyze: model output unreadable, recording as failed")
		result = vision.FailedResult()
	case err != nil:
		metrics.AnalyzerFailures.WithLabelValues("provider").Inc()
		respondError(w, r, &ServiceError{Status: http.StatusBadGateway, Message: "Image analysis failed", Err: err})
		return
	}

	now := time.Now().UTC()
	count := model.Count{
		Count:      result.Count,
		Timestamp:  &now,
		Breed:      result.Breed,
		Confidence: result.Confidence,
		Labels:     result.Labels,
	}

	userID, ok := GetUserID(r)
	if !ok {
		count.ID = model.LocalID("guest-" + uuid.NewString())
		count.UserID = model.GuestUserID
		count.Labels = append(count.Labels, model.LabelGuestMode)
		metrics.CountsCreated.WithLabelValues("guest").Inc()
		writeJSON(w, http.StatusOK, model.AnalyzeResponse{Count: count})
		return
	}

	count.UserID = userID
	stored, granted, err := h.record(r.Context(), count)
	if err != nil {
		respondError(w, r, Internal("Failed to save count", err))
		return
	}
	metrics.CountsCreated.WithLabelValues("analyze").Inc()
	writeJSON(w, http.StatusOK, model.AnalyzeResponse{Count: stored, NewAchievements: granted})
}

// List returns the caller's counts oldest first.
func (h *CountHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	counts, err := h.DB.ListCounts(r.Context(), userID)
	if err != nil {
		respondError(w, r, Internal("Failed to load counts", err))
		return
	}
	writeJSON(w, http.StatusOK, model.CountsResponse{Counts: counts})
}

// Create stores a count produced elsewhere, e.g. a guest record being
// promoted after login.
func (h *CountHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.CreateCountRequest
	if err := decodeJSON(w, r, &req, 1<<20); err != nil {
		respondError(w, r, err)
		return
	}

	labels := make([]string, 0, len(req.Labels))
	for _, l := range req.Labels {
		// Ownership labels describe the client copy, not the stored record.
		if l == model.LabelGuestMode || l == model.LabelOfflinePending {
			continue
		}
		labels = append(labels, l)
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	count := model.Count{
		UserID:     userID,
		Count:      req.Count,
		ImageURL:   req.ImageURL,
		Timestamp:  &ts,
		Breed:      req.Breed,
		Confidence: req.Confidence,
		Labels:     labels,
	}

	stored, granted, err := h.record(r.Context(), count)
	if err != nil {
		respondError(w, r, Internal("Failed to save count", err))
		return
	}
	metrics.CountsCreated.WithLabelValues("import").Inc()
	writeJSON(w, http.StatusCreated, model.AnalyzeResponse{Count: stored, NewAchievements: granted})
}

// Delete removes the listed counts. Ids owned by other users are skipped
// without error.
func (h *CountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserID(r)
	if !ok {
		JSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req model.DeleteCountsRequest
	if err := decodeJSON(w, r, &req, 1<<20); err != nil {
		respondError(w, r, err)
		return
	}

	deleted, err := h.DB.DeleteCounts(r.Context(), userID, req.CountIDs)
	if err != nil {
		respondError(w, r, Internal("Failed to delete counts", err))
		return
	}
	if deleted < int64(len(req.CountIDs)) {
		logging.Debug().
			Int64("user_id", userID).
			Int("requested", len(req.CountIDs)).
			Int64("deleted", deleted).
			Msg("delete: skipped ids not owned by caller")
	}
	w.WriteHeader(http.StatusNoContent)
}

// record stores the count, grants achievements in the same transaction and
// notifies the user about any new ones.
func (h *CountHandler) record(ctx context.Context, count model.Count) (model.Count, []model.Achievement, error) {
	stored, granted, err := h.DB.RecordCount(ctx, count)
	if err != nil {
		return model.Count{}, nil, err
	}
	if len(granted) > 0 {
		metrics.AchievementsGranted.Add(float64(len(granted)))
		h.notify(ctx, count.UserID, granted)
	}
	return stored, granted, nil
}

func (h *CountHandler) notify(ctx context.Context, userID int64, granted []model.Achievement) {
	if h.Notifier == nil {
		return
	}
	settings, err := h.DB.GetSettings(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("notify: failed to load settings")
		return
	}
	if !settings.NotifyAchievements {
		return
	}
	user, err := h.DB.GetUserByID(ctx, userID)
	if err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("notify: failed to load user")
		return
	}
	if err := h.Notifier.NotifyAchievements(ctx, *user, granted); err != nil {
		logging.Warn().Err(err).Int64("user_id", userID).Msg("notify: delivery failed")
	}
}
