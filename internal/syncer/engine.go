// Package syncer drains the client's upload queue: every image captured
// while the server was unreachable is sent for analysis once it is back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/sethshoultes/flock-control/internal/apiclient"
	"github.com/sethshoultes/flock-control/internal/connectivity"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/metrics"
	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

// ErrSyncInProgress is returned when a pass is requested while another one
// is running. The request is dropped.
var ErrSyncInProgress = errors.New("syncer: sync already in progress")

const breakerName = "analyze"

type Trigger string

const (
	// TriggerOnline fires the first time the connection is seen up.
	TriggerOnline Trigger = "online"
	// TriggerReconnect fires when the connection comes back after a loss,
	// and on the periodic retry tick while connected.
	TriggerReconnect Trigger = "reconnect"
	// TriggerManual ignores backoff and revives dead items.
	TriggerManual Trigger = "manual"
)

// Client is the part of the server API the engine uses.
type Client interface {
	Analyze(ctx context.Context, image string) (*model.AnalyzeResponse, error)
	ListCounts(ctx context.Context) ([]model.Count, error)
	CreateCount(ctx context.Context, req model.CreateCountRequest) (*model.AnalyzeResponse, error)
}

type Config struct {
	Store  *records.Store
	Client Client
	// Source drives Run. It may be nil when Run is not used.
	Source         connectivity.ConnectivitySource
	Retry          RetryPolicy
	Concurrency    int
	AnalyzeTimeout time.Duration
	// RetryTick is how often Run retries items whose backoff expired while
	// the connection stayed up.
	RetryTick time.Duration
	// BreakerFailures is the number of consecutive retryable failures that
	// opens the circuit around analyze calls.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	Now             func() time.Time
}

// Engine runs sync passes. One pass runs at a time.
type Engine struct {
	store          *records.Store
	client         Client
	source         connectivity.ConnectivitySource
	retry          RetryPolicy
	concurrency    int
	analyzeTimeout time.Duration
	retryTick      time.Duration
	breaker        *gobreaker.CircuitBreaker[*model.AnalyzeResponse]
	now            func() time.Time

	running atomic.Bool
}

func New(cfg Config) *Engine {
	e := &Engine{
		store:          cfg.Store,
		client:         cfg.Client,
		source:         cfg.Source,
		retry:          cfg.Retry,
		concurrency:    cfg.Concurrency,
		analyzeTimeout: cfg.AnalyzeTimeout,
		retryTick:      cfg.RetryTick,
		now:            cfg.Now,
	}
	if e.retry == (RetryPolicy{}) {
		e.retry = DefaultRetryPolicy()
	}
	if e.concurrency < 1 {
		e.concurrency = 4
	}
	if e.analyzeTimeout <= 0 {
		e.analyzeTimeout = time.Minute
	}
	if e.retryTick <= 0 {
		e.retryTick = time.Minute
	}
	if e.now == nil {
		e.now = time.Now
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	e.breaker = gobreaker.NewCircuitBreaker[*model.AnalyzeResponse](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A rejected image says nothing about the server's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !apiclient.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("syncer: circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return e
}

// Summary describes one pass.
type Summary struct {
	Trigger   Trigger
	Attempted int
	Succeeded int
	// Failed items stay queued for another attempt.
	Failed int
	// Dead items were rejected or ran out of attempts.
	Dead int
	// AuthRequired is set when the server refused the session.
	AuthRequired    bool
	NewAchievements []model.Achievement
}

func (s Summary) Message() string {
	if s.Attempted == 0 {
		return "nothing to sync"
	}
	msg := fmt.Sprintf("%d succeeded, %d failed", s.Succeeded, s.Failed)
	if s.Dead > 0 {
		msg += fmt.Sprintf(", %d gave up", s.Dead)
	}
	if s.AuthRequired {
		msg += "; sign in again to continue"
	}
	return msg
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeDead
	outcomeUnauthorized
)

func (o outcome) String() string {
	switch o {
	case outcomeSucceeded:
		return "succeeded"
	case outcomeFailed:
		return "failed"
	case outcomeDead:
		return "dead"
	default:
		return "unauthorized"
	}
}

// Sync runs one pass over the queue. Automatic triggers only pick items
// whose backoff has expired; TriggerManual revives dead items and ignores
// backoff. Per-item failures are reported in the Summary, not as an error.
func (e *Engine) Sync(ctx context.Context, trigger Trigger) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.SyncPasses.WithLabelValues(string(trigger), "skipped").Inc()
		return Summary{}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	summary, err := e.pass(ctx, trigger)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case summary.AuthRequired:
		result = "auth_required"
	case summary.Failed > 0 || summary.Dead > 0:
		result = "partial"
	}
	metrics.SyncPasses.WithLabelValues(string(trigger), result).Inc()
	return summary, err
}

func (e *Engine) pass(ctx context.Context, trigger Trigger) (Summary, error) {
	summary := Summary{Trigger: trigger}
	manual := trigger == TriggerManual
	if manual {
		if _, err := e.store.ReviveDead(ctx); err != nil && !errors.Is(err, records.ErrPersist) {
			return summary, err
		}
	}

	session := e.store.Session()
	now := e.now()
	var items []records.PendingUpload
	for _, p := range e.store.PendingUploads() {
		if p.Status == records.StatusQueued && (manual || p.Eligible(now)) && p.SyncableBy(session.UserID) {
			items = append(items, p)
		}
	}
	if len(items) == 0 {
		return summary, nil
	}

	ids := make([]string, len(items))
	for i, p := range items {
		ids[i] = p.ID
	}
	if err := e.store.MarkInFlight(ctx, ids...); err != nil && !errors.Is(err, records.ErrPersist) {
		return summary, err
	}

	logging.Info().Str("trigger", string(trigger)).Int("items", len(items)).Msg("syncer: pass started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for _, item := range items {
		g.Go(func() error {
			result, achievements := e.upload(ctx, item, session)
			metrics.SyncItems.WithLabelValues(result.String()).Inc()

			mu.Lock()
			defer mu.Unlock()
			summary.Attempted++
			switch result {
			case outcomeSucceeded:
				summary.Succeeded++
				summary.NewAchievements = append(summary.NewAchievements, achievements...)
			case outcomeFailed:
				summary.Failed++
			case outcomeDead:
				summary.Dead++
			case outcomeUnauthorized:
				summary.Failed++
				summary.AuthRequired = true
			}
			return nil
		})
	}
	_ = g.Wait()

	if summary.Succeeded > 0 && session.Authenticated() {
		e.refresh(ctx, session.UserID)
	}

	logging.Info().
		Str("trigger", string(trigger)).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("dead", summary.Dead).
		Bool("auth_required", summary.AuthRequired).
		Msg("syncer: pass finished")
	return summary, nil
}

// upload analyzes one queued image and commits the result against the
// store's current state.
func (e *Engine) upload(ctx context.Context, item records.PendingUpload, session records.Session) (outcome, []model.Achievement) {
	resp, err := e.analyze(ctx, item.Image)
	if err == nil {
		rec := confirmed(resp.Count, session)
		if _, err := e.store.ResolvePending(ctx, item.ID, rec); err != nil {
			if errors.Is(err, records.ErrNotFound) {
				// Discarded while the request was running.
				logging.Warn().Str("pending_id", item.ID).Msg("syncer: upload finished for a discarded item")
			} else {
				logging.Warn().Err(err).Str("pending_id", item.ID).Msg("syncer: failed to store analyzed count")
			}
		}
		return outcomeSucceeded, resp.NewAchievements
	}

	attempts := item.RetryCount + 1
	log := logging.Warn().Err(err).Str("pending_id", item.ID).Int("attempt", attempts)
	var result outcome
	var next time.Time
	switch {
	case apiclient.IsUnauthorized(err):
		result = outcomeUnauthorized
	case apiclient.IsInvalid(err):
		result = outcomeDead
	case e.retry.Exhausted(attempts):
		result = outcomeDead
	default:
		result = outcomeFailed
		next = e.now().Add(e.retry.Delay(attempts))
	}
	log.Str("outcome", result.String()).Msg("syncer: upload failed")

	if markErr := e.store.MarkFailed(ctx, item.ID, err, next, result == outcomeDead); markErr != nil && !errors.Is(markErr, records.ErrPersist) {
		logging.Warn().Err(markErr).Str("pending_id", item.ID).Msg("syncer: failed to record upload failure")
	}
	return result, nil
}

func (e *Engine) analyze(ctx context.Context, image string) (*model.AnalyzeResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.analyzeTimeout)
	defer cancel()
	return e.breaker.Execute(func() (*model.AnalyzeResponse, error) {
		return e.client.Analyze(ctx, image)
	})
}

// refresh replaces the user's local records with the server's list.
func (e *Engine) refresh(ctx context.Context, userID int64) {
	counts, err := e.client.ListCounts(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("syncer: failed to refresh counts")
		return
	}
	if err := e.store.ImportCounts(ctx, userID, counts); err != nil {
		logging.Warn().Err(err).Msg("syncer: failed to import counts")
	}
}

// confirmed normalizes an analyzed count for the current session. Guest
// results always carry the guest owner and label.
func confirmed(c model.Count, session records.Session) model.Count {
	if session.Authenticated() && c.UserID != model.GuestUserID {
		return c
	}
	c.UserID = model.GuestUserID
	if !c.HasLabel(model.LabelGuestMode) {
		c.Labels = append(append([]string(nil), c.Labels...), model.LabelGuestMode)
	}
	return c
}

// Run triggers a pass whenever the connection becomes usable, and retries
// expired backoffs while it stays up, until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	if e.source == nil {
		return errors.New("syncer: no connectivity source")
	}
	states, unsubscribe := e.source.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(e.retryTick)
	defer ticker.Stop()

	var connected, seen bool
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case state, ok := <-states:
			if !ok {
				return nil
			}
			was := connected
			connected = state.Connected()
			if connected && !was {
				trigger := TriggerOnline
				if seen {
					trigger = TriggerReconnect
				}
				seen = true
				e.runPass(ctx, trigger)
			}
		case <-ticker.C:
			if connected && e.hasEligible() {
				e.runPass(ctx, TriggerReconnect)
			}
		}
	}
}

func (e *Engine) runPass(ctx context.Context, trigger Trigger) {
	summary, err := e.Sync(ctx, trigger)
	switch {
	case errors.Is(err, ErrSyncInProgress):
	case err != nil:
		logging.Warn().Err(err).Str("trigger", string(trigger)).Msg("syncer: pass failed")
	case summary.Attempted > 0:
		logging.Info().Str("trigger", string(trigger)).Msg("syncer: " + summary.Message())
	}
}

func (e *Engine) hasEligible() bool {
	now := e.now()
	userID := e.store.Session().UserID
	for _, p := range e.store.PendingUploads() {
		if p.Eligible(now) && p.SyncableBy(userID) {
			return true
		}
	}
	return false
}

// Serve lets a suture supervisor run the engine.
func (e *Engine) Serve(ctx context.Context) error {
	return e.Run(ctx)
}

func (e *Engine) String() string { return "sync-engine" }
