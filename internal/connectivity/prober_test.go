package connectivity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/sethshoultes/flock-control/internal/apiclient"
	"github.com/sethshoultes/flock-control/internal/localstore"
	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeChecker struct {
	mu    sync.Mutex
	resp  *model.HealthResponse
	err   error
	calls atomic.Int32
}

func (f *fakeChecker) set(resp *model.HealthResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resp, f.err = resp, err
}

func (f *fakeChecker) Health(ctx context.Context) (*model.HealthResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resp, f.err
}

var healthy = &model.HealthResponse{Status: model.HealthHealthy, Database: model.DatabaseConnected}

func unlimited() *rate.Limiter { return rate.NewLimiter(rate.Inf, 1) }

func TestProbeAgainstServer(t *testing.T) {
	var database atomic.Value
	database.Store(model.DatabaseConnected)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","database":"` + database.Load().(string) + `"}`))
	}))
	defer srv.Close()

	p := NewProber(Config{Checker: apiclient.New(srv.URL), Limiter: unlimited()})
	ctx := context.Background()

	state := p.Probe(ctx)
	assert.True(t, state.IsOnline)
	assert.True(t, state.IsDatabaseConnected)

	database.Store(model.DatabaseDisconnected)
	state = p.Probe(ctx)
	assert.True(t, state.IsOnline)
	assert.False(t, state.IsDatabaseConnected)
	assert.Contains(t, state.LastError, "disconnected")
}

func TestProbeServerErrorIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unhealthy","database":"disconnected"}`))
	}))
	defer srv.Close()

	state := NewProber(Config{Checker: apiclient.New(srv.URL)}).Probe(context.Background())
	assert.False(t, state.IsOnline)
	assert.False(t, state.IsDatabaseConnected)
	assert.NotEmpty(t, state.LastError)
}

func TestProbeTimeoutIsNetworkFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewProber(Config{Checker: apiclient.New(srv.URL), Timeout: 50 * time.Millisecond})
	start := time.Now()
	state := p.Probe(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, state.IsOnline)
	assert.NotEmpty(t, state.LastError)
}

func TestNetworkOfflineSkipsRequest(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(healthy, nil)
	p := NewProber(Config{Checker: checker, Limiter: unlimited()})
	ctx := context.Background()

	state := p.NetworkChanged(ctx, false)
	assert.False(t, state.IsOnline)
	assert.Zero(t, checker.calls.Load())

	state = p.NetworkChanged(ctx, true)
	assert.True(t, state.Connected())
	assert.EqualValues(t, 1, checker.calls.Load())
}

func TestNetworkChangedIsRateLimited(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(healthy, nil)
	p := NewProber(Config{Checker: checker, Limiter: rate.NewLimiter(rate.Every(time.Hour), 2)})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		p.NetworkChanged(ctx, true)
	}
	assert.EqualValues(t, 2, checker.calls.Load())
}

func TestForceOfflineSuppressesProbing(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(healthy, nil)
	p := NewProber(Config{Checker: checker, Limiter: unlimited()})
	ctx := context.Background()

	state := p.ForceOffline(ctx, true)
	assert.True(t, state.ForcedOffline)
	assert.False(t, state.IsOnline)

	p.Probe(ctx)
	p.NetworkChanged(ctx, true)
	assert.Zero(t, checker.calls.Load())
	assert.False(t, p.Current().IsOnline)

	state = p.ForceOffline(ctx, false)
	assert.True(t, state.Connected())
	assert.EqualValues(t, 1, checker.calls.Load())
}

// gatedChecker holds each health call until release is closed.
type gatedChecker struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gatedChecker) Health(ctx context.Context) (*model.HealthResponse, error) {
	g.entered <- struct{}{}
	<-g.release
	return healthy, nil
}

func TestForceOfflineWinsOverRunningProbe(t *testing.T) {
	ctx := context.Background()
	store := records.New(localstore.NewMemoryStorage())
	require.NoError(t, store.Load(ctx))

	gate := &gatedChecker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	p := NewProber(Config{Checker: gate, Sink: store, Limiter: unlimited()})

	done := make(chan records.ConnectionState, 1)
	go func() { done <- p.Probe(ctx) }()
	<-gate.entered

	p.ForceOffline(ctx, true)
	close(gate.release)
	late := <-done

	assert.True(t, late.ForcedOffline)
	assert.False(t, late.IsOnline)
	assert.True(t, p.Current().ForcedOffline)
	assert.False(t, p.Current().IsOnline)
	assert.True(t, store.Connection().ForcedOffline)
	assert.False(t, store.Connection().IsOnline)

	state := p.NetworkChanged(ctx, false)
	assert.True(t, state.ForcedOffline, "network events keep the forced flag")

	state = p.ForceOffline(ctx, false)
	assert.True(t, state.Connected())
	assert.True(t, store.Connection().Connected())
}

// flappingChecker alternates between healthy and unreachable.
type flappingChecker struct {
	calls atomic.Int32
}

func (f *flappingChecker) Health(ctx context.Context) (*model.HealthResponse, error) {
	if f.calls.Add(1)%2 == 0 {
		return nil, errors.New("connection refused")
	}
	return healthy, nil
}

// slowSink is slower for online states so writes finish out of order.
type slowSink struct {
	mu   sync.Mutex
	last records.ConnectionState
}

func (s *slowSink) SetConnection(ctx context.Context, state records.ConnectionState) error {
	if state.IsOnline {
		time.Sleep(time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = state
	return nil
}

func (s *slowSink) Last() records.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func TestSinkEndsOnLatestState(t *testing.T) {
	ctx := context.Background()
	sink := &slowSink{}
	p := NewProber(Config{Checker: &flappingChecker{}, Sink: sink, Limiter: unlimited()})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				p.Probe(ctx)
			}
		}()
	}
	wg.Wait()

	want, got := p.Current(), sink.Last()
	assert.Equal(t, want.IsOnline, got.IsOnline)
	assert.Equal(t, want.IsDatabaseConnected, got.IsDatabaseConnected)
}

func TestStateChangesReachStoreAndSubscribers(t *testing.T) {
	ctx := context.Background()
	store := records.New(localstore.NewMemoryStorage())
	require.NoError(t, store.Load(ctx))

	checker := &fakeChecker{}
	checker.set(healthy, nil)
	p := NewProber(Config{Checker: checker, Sink: store, Limiter: unlimited()})

	ch, unsubscribe := p.Subscribe()
	defer unsubscribe()
	initial := <-ch
	assert.False(t, initial.IsOnline)

	p.Probe(ctx)
	got := <-ch
	assert.True(t, got.Connected())
	assert.True(t, store.Connection().Connected())

	// Unchanged state is not re-sent.
	p.Probe(ctx)
	select {
	case s := <-ch:
		t.Fatalf("unexpected notification %+v", s)
	default:
	}

	checker.set(nil, errors.New("connection refused"))
	p.Probe(ctx)
	got = <-ch
	assert.False(t, got.IsOnline)
	assert.False(t, store.Connection().IsOnline)
}

// Whatever sequence of answers arrives, no published state claims a
// database connection while offline.
func TestDatabaseNeverConnectedWhileOffline(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{}
	p := NewProber(Config{Checker: checker, Limiter: unlimited()})
	ch, unsubscribe := p.Subscribe()

	var seen []records.ConnectionState
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range ch {
			seen = append(seen, s)
		}
	}()

	answers := []struct {
		resp *model.HealthResponse
		err  error
	}{
		{healthy, nil},
		{nil, errors.New("timeout")},
		{&model.HealthResponse{Database: model.DatabaseDisconnected}, nil},
		{healthy, nil},
	}
	for i := 0; i < 20; i++ {
		a := answers[i%len(answers)]
		checker.set(a.resp, a.err)
		p.Probe(ctx)
		if i%5 == 0 {
			p.NetworkChanged(ctx, false)
		}
	}
	unsubscribe()
	<-done

	require.NotEmpty(t, seen)
	for _, s := range seen {
		assert.False(t, s.IsDatabaseConnected && !s.IsOnline, "invalid state %+v", s)
	}
}

func TestRunProbesUntilCancelled(t *testing.T) {
	checker := &fakeChecker{}
	checker.set(healthy, nil)
	p := NewProber(Config{Checker: checker, Interval: 10 * time.Millisecond, Limiter: unlimited()})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return checker.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.True(t, p.Current().Connected())
}
