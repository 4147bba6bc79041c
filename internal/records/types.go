package records

import (
	"time"

	"github.com/sethshoultes/flock-control/internal/model"
)

// ConnectionState is the last known reachability of the server. A database
// connection is only meaningful when the server answered, so
// IsDatabaseConnected implies IsOnline.
type ConnectionState struct {
	IsOnline            bool      `json:"isOnline"`
	IsDatabaseConnected bool      `json:"isDatabaseConnected"`
	LastError           string    `json:"lastError,omitempty"`
	ForcedOffline       bool      `json:"forcedOffline,omitempty"`
	CheckedAt           time.Time `json:"checkedAt"`
}

// Connected reports whether uploads can be attempted.
func (s ConnectionState) Connected() bool {
	return s.IsOnline && s.IsDatabaseConnected
}

func (s ConnectionState) normalized() ConnectionState {
	if !s.IsOnline {
		s.IsDatabaseConnected = false
	}
	return s
}

type UploadStatus string

const (
	StatusQueued   UploadStatus = "queued"
	StatusInFlight UploadStatus = "in_flight"
	// StatusDead items failed terminally and wait for a manual retry.
	StatusDead UploadStatus = "dead"
)

// PendingUpload is an image waiting to be analyzed.
type PendingUpload struct {
	ID            string        `json:"id"`
	Image         string        `json:"image"`
	Timestamp     time.Time     `json:"timestamp"`
	RetryCount    int           `json:"retryCount"`
	Status        UploadStatus  `json:"status"`
	NextAttemptAt time.Time     `json:"nextAttemptAt,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
	PlaceholderID model.CountID `json:"placeholderId"`
	// UserID is the session owner at enqueue time, 0 for a guest.
	UserID int64 `json:"userId"`
}

// Eligible reports whether an automatic sync pass may pick the item up.
func (p PendingUpload) Eligible(now time.Time) bool {
	return p.Status == StatusQueued && !now.Before(p.NextAttemptAt)
}

// SyncableBy reports whether the item may be uploaded under userID's
// session. Guest captures follow whoever signs in, the same way guest
// records are promoted; another user's captures wait for that user.
func (p PendingUpload) SyncableBy(userID int64) bool {
	return p.UserID == userID || p.UserID == model.GuestUserID
}

// Session identifies who is using the client. UserID 0 is a guest.
type Session struct {
	UserID int64  `json:"userId"`
	Email  string `json:"email,omitempty"`
	Token  string `json:"token,omitempty"`
}

func (s Session) Authenticated() bool {
	return s.UserID != model.GuestUserID && s.Token != ""
}

// CountPatch holds the fields UpdateCount may change. Nil fields are left
// alone.
type CountPatch struct {
	Count      *int
	ImageURL   *string
	Timestamp  *time.Time
	Breed      *string
	Confidence *float64
	Labels     []string
}

const snapshotVersion = 1

type snapshot struct {
	Version    int             `json:"version"`
	Counts     []model.Count   `json:"counts"`
	Pending    []PendingUpload `json:"pending"`
	Connection ConnectionState `json:"connection"`
	Session    Session         `json:"session"`
}
