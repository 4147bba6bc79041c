// Package records is the client's source of truth: analyzed counts, images
// waiting for analysis, the last known connection state and the session.
//
// Every mutation is applied to the in-memory state under one mutex and then
// written to storage as a whole snapshot. Snapshots are numbered, and a
// write never replaces a newer snapshot with an older one, so concurrent
// mutations cannot lose each other's updates.
package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sethshoultes/flock-control/internal/localstore"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/metrics"
	"github.com/sethshoultes/flock-control/internal/model"
)

var (
	ErrNotFound = errors.New("records: not found")
	// ErrCorruptState is returned by Load when the stored snapshot cannot be
	// decoded. The store is left empty and usable.
	ErrCorruptState = errors.New("records: stored state is corrupt")
	// ErrPersist wraps storage failures. The in-memory change was applied.
	ErrPersist = errors.New("records: failed to persist state")
)

type Store struct {
	storage localstore.Storage
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	loaded  bool
	counts  []model.Count
	pending []PendingUpload
	conn    ConnectionState
	session Session
	version uint64

	persistMu sync.Mutex
	persisted uint64
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the random suffix of generated ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

func New(storage localstore.Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load hydrates the store from storage. A missing snapshot yields an empty
// store. Uploads that were in flight when the process stopped are queued
// again.
func (s *Store) Load(ctx context.Context) error {
	data, err := s.storage.Get(ctx, localstore.KeyState)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return fmt.Errorf("load state: %w", err)
	}

	var snap snapshot
	var loadErr error
	if err == nil {
		if decodeErr := json.Unmarshal(data, &snap); decodeErr != nil {
			snap = snapshot{}
			loadErr = fmt.Errorf("%w: %v", ErrCorruptState, decodeErr)
		}
	}

	s.mu.Lock()
	s.counts = snap.Counts
	s.pending = snap.Pending
	for i := range s.pending {
		if s.pending[i].Status == StatusInFlight || s.pending[i].Status == "" {
			s.pending[i].Status = StatusQueued
		}
	}
	s.conn = snap.Connection.normalized()
	s.session = snap.Session
	s.loaded = true
	queued := len(s.pending)
	s.mu.Unlock()

	metrics.PendingUploads.Set(float64(queued))
	return loadErr
}

// Loaded reports whether Load has completed.
func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// mutate applies fn to the state under the lock and persists the result.
// fn returning an error leaves the state untouched and skips the write.
func (s *Store) mutate(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	if err := fn(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.version++
	version := s.version
	data, err := json.Marshal(snapshot{
		Version:    snapshotVersion,
		Counts:     s.counts,
		Pending:    s.pending,
		Connection: s.conn,
		Session:    s.session,
	})
	queued := len(s.pending)
	s.mu.Unlock()

	metrics.PendingUploads.Set(float64(queued))
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	return s.persist(ctx, version, data)
}

func (s *Store) persist(ctx context.Context, version uint64, data []byte) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persisted {
		return nil
	}
	if err := s.storage.Set(ctx, localstore.KeyState, data); err != nil {
		logging.Warn().Err(err).Uint64("version", version).Msg("records: snapshot write failed")
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	s.persisted = version
	return nil
}

// AddCount inserts rec at the head of the collection. A record without an
// id gets a local one. No deduplication happens here.
func (s *Store) AddCount(ctx context.Context, rec model.Count) (model.Count, error) {
	if rec.ID.IsZero() {
		rec.ID = model.LocalID("local-" + s.newID())
	}
	err := s.mutate(ctx, func() error {
		s.counts = append([]model.Count{cloneCount(rec)}, s.counts...)
		return nil
	})
	return rec, err
}

// ImportCounts replaces the records attributed to userID with recs.
// Records of other users, guest records and placeholders of queued uploads
// are kept.
func (s *Store) ImportCounts(ctx context.Context, userID int64, recs []model.Count) error {
	return s.mutate(ctx, func() error {
		placeholders := s.placeholderSetLocked()
		next := make([]model.Count, 0, len(recs)+len(s.counts))
		for _, r := range recs {
			next = append(next, cloneCount(r))
		}
		for _, c := range s.counts {
			if c.UserID == userID && !placeholders[c.ID] {
				continue
			}
			next = append(next, c)
		}
		s.counts = next
		return nil
	})
}

// UpdateCount merges the non-nil fields of patch into the record.
func (s *Store) UpdateCount(ctx context.Context, id model.CountID, patch CountPatch) error {
	return s.mutate(ctx, func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return ErrNotFound
		}
		c := &s.counts[i]
		if patch.Count != nil {
			c.Count = *patch.Count
		}
		if patch.ImageURL != nil {
			c.ImageURL = patch.ImageURL
		}
		if patch.Timestamp != nil {
			c.Timestamp = patch.Timestamp
		}
		if patch.Breed != nil {
			c.Breed = patch.Breed
		}
		if patch.Confidence != nil {
			c.Confidence = patch.Confidence
		}
		if patch.Labels != nil {
			c.Labels = append([]string(nil), patch.Labels...)
		}
		return nil
	})
}

// ReplaceCount swaps the record stored under id for rec in place.
func (s *Store) ReplaceCount(ctx context.Context, id model.CountID, rec model.Count) error {
	return s.mutate(ctx, func() error {
		i := s.indexLocked(id)
		if i < 0 {
			return ErrNotFound
		}
		s.counts[i] = cloneCount(rec)
		return nil
	})
}

// DeleteCounts removes the listed records and returns how many were found.
func (s *Store) DeleteCounts(ctx context.Context, ids ...model.CountID) (int, error) {
	drop := make(map[model.CountID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var removed int
	err := s.mutate(ctx, func() error {
		kept := s.counts[:0:0]
		for _, c := range s.counts {
			if drop[c.ID] {
				removed++
				continue
			}
			kept = append(kept, c)
		}
		s.counts = kept
		return nil
	})
	return removed, err
}

// ClearCounts empties both the records and the upload queue.
func (s *Store) ClearCounts(ctx context.Context) error {
	return s.mutate(ctx, func() error {
		s.counts = nil
		s.pending = nil
		return nil
	})
}

// Counts returns a copy of every record, most recently added first.
func (s *Store) Counts() []model.Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Count, 0, len(s.counts))
	for _, c := range s.counts {
		out = append(out, cloneCount(c))
	}
	return out
}

// CountsFor returns the records attributed to userID.
func (s *Store) CountsFor(userID int64) []model.Count {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Count
	for _, c := range s.counts {
		if c.UserID == userID {
			out = append(out, cloneCount(c))
		}
	}
	return out
}

// Visible is the list shown to userID: their local records merged with the
// server's copy.
func (s *Store) Visible(userID int64, server []model.Count) []model.Count {
	return Merge(s.CountsFor(userID), server)
}

// EnqueueUpload queues image for analysis. When placeholder is non-nil it
// is stored as a record tagged offline-pending and linked to the queue
// entry until the upload resolves.
func (s *Store) EnqueueUpload(ctx context.Context, image string, placeholder *model.Count) (PendingUpload, error) {
	now := s.now()
	item := PendingUpload{
		ID:        "pending-" + s.newID(),
		Image:     image,
		Timestamp: now,
		Status:    StatusQueued,
	}

	var ph model.Count
	if placeholder != nil {
		ph = cloneCount(*placeholder)
		if ph.ID.IsZero() {
			ph.ID = model.LocalID("local-" + s.newID())
		}
		if ph.Timestamp == nil {
			ph.Timestamp = &now
		}
		if !ph.HasLabel(model.LabelOfflinePending) {
			ph.Labels = append(ph.Labels, model.LabelOfflinePending)
		}
		item.PlaceholderID = ph.ID
	}

	err := s.mutate(ctx, func() error {
		item.UserID = s.session.UserID
		s.pending = append(s.pending, item)
		if placeholder != nil {
			s.counts = append([]model.Count{ph}, s.counts...)
		}
		return nil
	})
	return item, err
}

// PendingUploads returns a copy of the queue in enqueue order.
func (s *Store) PendingUploads() []PendingUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingUpload(nil), s.pending...)
}

// ResolvePending removes the queue entry and its placeholder and inserts
// rec, all in one step.
func (s *Store) ResolvePending(ctx context.Context, pendingID string, rec model.Count) (model.Count, error) {
	if rec.ID.IsZero() {
		rec.ID = model.LocalID("local-" + s.newID())
	}
	err := s.mutate(ctx, func() error {
		i := s.pendingIndexLocked(pendingID)
		if i < 0 {
			return ErrNotFound
		}
		item := s.pending[i]
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		if !item.PlaceholderID.IsZero() {
			if j := s.indexLocked(item.PlaceholderID); j >= 0 {
				s.counts = append(s.counts[:j:j], s.counts[j+1:]...)
			}
		}
		s.counts = append([]model.Count{cloneCount(rec)}, s.counts...)
		return nil
	})
	return rec, err
}

// MarkInFlight flags the items as being uploaded.
func (s *Store) MarkInFlight(ctx context.Context, ids ...string) error {
	return s.mutate(ctx, func() error {
		for _, id := range ids {
			if i := s.pendingIndexLocked(id); i >= 0 {
				s.pending[i].Status = StatusInFlight
			}
		}
		return nil
	})
}

// MarkFailed records a failed attempt. The retry count only grows. A dead
// item stays queued but is skipped until revived.
func (s *Store) MarkFailed(ctx context.Context, id string, cause error, next time.Time, dead bool) error {
	return s.mutate(ctx, func() error {
		i := s.pendingIndexLocked(id)
		if i < 0 {
			return ErrNotFound
		}
		p := &s.pending[i]
		p.RetryCount++
		p.NextAttemptAt = next
		if cause != nil {
			p.LastError = cause.Error()
		}
		p.Status = StatusQueued
		if dead {
			p.Status = StatusDead
		}
		return nil
	})
}

// ReviveDead puts dead items back in the queue with no backoff and returns
// how many there were.
func (s *Store) ReviveDead(ctx context.Context) (int, error) {
	var revived int
	err := s.mutate(ctx, func() error {
		for i := range s.pending {
			if s.pending[i].Status == StatusDead {
				s.pending[i].Status = StatusQueued
				s.pending[i].NextAttemptAt = time.Time{}
				revived++
			}
		}
		return nil
	})
	return revived, err
}

// DiscardPending drops a queue entry and its placeholder without analyzing it.
func (s *Store) DiscardPending(ctx context.Context, id string) error {
	return s.mutate(ctx, func() error {
		i := s.pendingIndexLocked(id)
		if i < 0 {
			return ErrNotFound
		}
		item := s.pending[i]
		s.pending = append(s.pending[:i:i], s.pending[i+1:]...)
		if !item.PlaceholderID.IsZero() {
			if j := s.indexLocked(item.PlaceholderID); j >= 0 {
				s.counts = append(s.counts[:j:j], s.counts[j+1:]...)
			}
		}
		return nil
	})
}

// SetConnection stores the connection state. A state that claims a database
// connection while offline is corrected.
func (s *Store) SetConnection(ctx context.Context, state ConnectionState) error {
	return s.mutate(ctx, func() error {
		s.conn = state.normalized()
		return nil
	})
}

func (s *Store) Connection() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Store) SetSession(ctx context.Context, session Session) error {
	return s.mutate(ctx, func() error {
		s.session = session
		return nil
	})
}

func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// TutorialCompleted reads the onboarding flag. It is stored apart from the
// snapshot so clearing data keeps it.
func (s *Store) TutorialCompleted(ctx context.Context) (bool, error) {
	data, err := s.storage.Get(ctx, localstore.KeyTutorial)
	if errors.Is(err, localstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	done, err := strconv.ParseBool(string(data))
	if err != nil {
		return false, nil
	}
	return done, nil
}

func (s *Store) SetTutorialCompleted(ctx context.Context, done bool) error {
	return s.storage.Set(ctx, localstore.KeyTutorial, []byte(strconv.FormatBool(done)))
}

func (s *Store) indexLocked(id model.CountID) int {
	for i, c := range s.counts {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) pendingIndexLocked(id string) int {
	for i, p := range s.pending {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) placeholderSetLocked() map[model.CountID]bool {
	set := make(map[model.CountID]bool)
	for _, p := range s.pending {
		if !p.PlaceholderID.IsZero() {
			set[p.PlaceholderID] = true
		}
	}
	return set
}

func cloneCount(c model.Count) model.Count {
	if c.Labels != nil {
		c.Labels = append([]string(nil), c.Labels...)
	}
	return c
}
