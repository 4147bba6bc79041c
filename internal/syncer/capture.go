package syncer

import (
	"context"
	"errors"

	"github.com/sethshoultes/flock-control/internal/apiclient"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

// ErrNotAuthenticated is returned by operations that need a signed-in user.
var ErrNotAuthenticated = errors.New("syncer: not signed in")

// CaptureResult is what happened to a captured image. Exactly one of Count
// (analyzed now) or Pending (queued) is meaningful, selected by Queued.
type CaptureResult struct {
	Queued          bool
	Count           model.Count
	Pending         records.PendingUpload
	NewAchievements []model.Achievement
	// AuthRequired is set when the image was queued because the server
	// refused the session.
	AuthRequired bool
}

// Capture analyzes image right away when the server is reachable and
// otherwise queues it. Retryable failures and refused sessions queue too;
// a rejected image is returned as an error and not kept. Guests get a
// placeholder record while their image waits.
func (e *Engine) Capture(ctx context.Context, image string) (CaptureResult, error) {
	session := e.store.Session()
	if !e.store.Connection().Connected() {
		return e.enqueue(ctx, image, session, false)
	}

	resp, err := e.analyze(ctx, image)
	switch {
	case err == nil:
		rec, addErr := e.store.AddCount(ctx, confirmed(resp.Count, session))
		if addErr != nil && !errors.Is(addErr, records.ErrPersist) {
			return CaptureResult{}, addErr
		}
		return CaptureResult{Count: rec, NewAchievements: resp.NewAchievements}, addErr
	case apiclient.IsInvalid(err):
		return CaptureResult{}, err
	case apiclient.IsUnauthorized(err):
		logging.Warn().Err(err).Msg("syncer: session refused, queueing capture")
		return e.enqueue(ctx, image, session, true)
	default:
		logging.Warn().Err(err).Msg("syncer: analyze failed, queueing capture")
		return e.enqueue(ctx, image, session, false)
	}
}

func (e *Engine) enqueue(ctx context.Context, image string, session records.Session, authRequired bool) (CaptureResult, error) {
	var placeholder *model.Count
	if !session.Authenticated() {
		placeholder = &model.Count{
			UserID:   model.GuestUserID,
			ImageURL: &image,
			Labels:   []string{model.LabelGuestMode, model.LabelOfflinePending},
		}
	}
	item, err := e.store.EnqueueUpload(ctx, image, placeholder)
	if err != nil && !errors.Is(err, records.ErrPersist) {
		return CaptureResult{}, err
	}
	return CaptureResult{Queued: true, Pending: item, AuthRequired: authRequired}, err
}

// PromoteGuestRecords stores the guest's analyzed records under the
// signed-in user and swaps each local copy for the server's. Placeholders
// stay until their upload resolves. Records the server rejects are kept as
// guest records. It returns how many records were promoted.
func (e *Engine) PromoteGuestRecords(ctx context.Context) (int, error) {
	session := e.store.Session()
	if !session.Authenticated() {
		return 0, ErrNotAuthenticated
	}

	var promoted int
	for _, c := range e.store.CountsFor(model.GuestUserID) {
		if c.HasLabel(model.LabelOfflinePending) {
			continue
		}
		resp, err := e.client.CreateCount(ctx, model.CreateCountRequest{
			Count:      c.Count,
			ImageURL:   c.ImageURL,
			Timestamp:  c.Timestamp,
			Breed:      c.Breed,
			Confidence: c.Confidence,
			Labels:     c.Labels,
		})
		if apiclient.IsInvalid(err) {
			logging.Warn().Err(err).Str("count_id", c.ID.String()).Msg("syncer: server rejected guest record")
			continue
		}
		if err != nil {
			return promoted, err
		}
		if err := e.store.ReplaceCount(ctx, c.ID, resp.Count); err != nil && !errors.Is(err, records.ErrPersist) {
			if errors.Is(err, records.ErrNotFound) {
				// Deleted locally meanwhile; the server copy arrives on refresh.
				continue
			}
			return promoted, err
		}
		promoted++
	}

	if promoted > 0 {
		e.refresh(ctx, session.UserID)
	}
	return promoted, nil
}
