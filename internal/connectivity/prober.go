// Package connectivity tracks whether the server, and its database, can be
// reached.
package connectivity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/metrics"
	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

// ConnectivitySource publishes connection state changes.
type ConnectivitySource interface {
	// Subscribe returns a channel that receives the current state right away
	// and then every change. Slow readers only see the latest state. The
	// returned func unsubscribes and closes the channel.
	Subscribe() (<-chan records.ConnectionState, func())
	Current() records.ConnectionState
}

// HealthChecker calls the server health endpoint.
type HealthChecker interface {
	Health(ctx context.Context) (*model.HealthResponse, error)
}

// StateSink receives every state change, normally the record store.
type StateSink interface {
	SetConnection(ctx context.Context, state records.ConnectionState) error
}

type Config struct {
	Checker  HealthChecker
	Sink     StateSink
	Timeout  time.Duration
	Interval time.Duration
	// Limiter bounds automatic probes. Explicit calls to Probe are not
	// limited.
	Limiter *rate.Limiter
	Now     func() time.Time
}

// Prober turns health checks into a connection signal.
type Prober struct {
	checker  HealthChecker
	sink     StateSink
	timeout  time.Duration
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time

	mu      sync.Mutex
	state   records.ConnectionState
	forced  bool
	subs    map[int]chan records.ConnectionState
	nextSub int
	seq     uint64

	// sinkMu orders sink writes; sunk is the seq of the last one.
	sinkMu sync.Mutex
	sunk   uint64
}

var _ ConnectivitySource = (*Prober)(nil)

func NewProber(cfg Config) *Prober {
	p := &Prober{
		checker:  cfg.Checker,
		sink:     cfg.Sink,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		limiter:  cfg.Limiter,
		now:      cfg.Now,
		subs:     make(map[int]chan records.ConnectionState),
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	if p.interval <= 0 {
		p.interval = 30 * time.Second
	}
	if p.limiter == nil {
		p.limiter = rate.NewLimiter(rate.Every(2*time.Second), 3)
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Probe checks the server now and publishes the result. It never fails:
// errors become a disconnected state with LastError set. While forced
// offline no request is made.
func (p *Prober) Probe(ctx context.Context) records.ConnectionState {
	if p.Forced() {
		return p.Current()
	}
	return p.publish(ctx, p.check(ctx))
}

func (p *Prober) check(ctx context.Context) records.ConnectionState {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	state := records.ConnectionState{CheckedAt: p.now()}
	resp, err := p.checker.Health(ctx)
	if err != nil {
		state.LastError = err.Error()
		metrics.ProbeResults.WithLabelValues("offline").Inc()
		return state
	}

	// The database flag only counts once the server itself has answered.
	state.IsOnline = true
	if resp.Database == model.DatabaseConnected {
		state.IsDatabaseConnected = true
		metrics.ProbeResults.WithLabelValues("connected").Inc()
	} else {
		state.LastError = "database " + resp.Database
		if resp.Error != "" {
			state.LastError += ": " + resp.Error
		}
		metrics.ProbeResults.WithLabelValues("database_down").Inc()
	}
	return state
}

// NetworkChanged reacts to the host's network coming or going. Going
// offline publishes a disconnected state without a request; coming online
// probes, subject to the rate limit.
func (p *Prober) NetworkChanged(ctx context.Context, online bool) records.ConnectionState {
	if !online {
		return p.publish(ctx, records.ConnectionState{LastError: "network offline", CheckedAt: p.now()})
	}
	return p.maybeProbe(ctx)
}

func (p *Prober) maybeProbe(ctx context.Context) records.ConnectionState {
	if p.Forced() || !p.limiter.Allow() {
		return p.Current()
	}
	return p.Probe(ctx)
}

// ForceOffline pins the state to offline until called with false, which
// probes immediately.
func (p *Prober) ForceOffline(ctx context.Context, on bool) records.ConnectionState {
	p.mu.Lock()
	p.forced = on
	p.mu.Unlock()

	if on {
		logging.Info().Msg("connectivity: forced offline")
		return p.publish(ctx, records.ConnectionState{ForcedOffline: true, LastError: "forced offline", CheckedAt: p.now()})
	}
	logging.Info().Msg("connectivity: force offline cleared")
	return p.Probe(ctx)
}

func (p *Prober) Forced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forced
}

func (p *Prober) Current() records.ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Prober) Subscribe() (<-chan records.ConnectionState, func()) {
	ch := make(chan records.ConnectionState, 1)

	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	ch <- p.state
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			close(ch)
			p.mu.Unlock()
		})
	}
}

// publish stores state, and on change fans it out and writes it to the sink.
// While forced offline only the forced state is accepted, so a probe that
// was already running cannot bring the connection back.
func (p *Prober) publish(ctx context.Context, state records.ConnectionState) records.ConnectionState {
	if !state.IsOnline {
		state.IsDatabaseConnected = false
	}

	p.mu.Lock()
	if p.forced && !state.ForcedOffline {
		current := p.state
		p.mu.Unlock()
		return current
	}
	prev := p.state
	p.state = state
	changed := prev.IsOnline != state.IsOnline ||
		prev.IsDatabaseConnected != state.IsDatabaseConnected ||
		prev.ForcedOffline != state.ForcedOffline
	var seq uint64
	if changed {
		p.seq++
		seq = p.seq
		for _, ch := range p.subs {
			// Keep only the newest state for slow readers.
			select {
			case <-ch:
			default:
			}
			ch <- state
		}
	}
	p.mu.Unlock()

	if changed {
		logging.Debug().
			Bool("online", state.IsOnline).
			Bool("database", state.IsDatabaseConnected).
			Str("error", state.LastError).
			Msg("connectivity: state changed")
		p.store(ctx, seq, state)
	}
	return state
}

// store writes state to the sink unless a newer state got there first.
func (p *Prober) store(ctx context.Context, seq uint64, state records.ConnectionState) {
	if p.sink == nil {
		return
	}
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()
	if seq <= p.sunk {
		return
	}
	p.sunk = seq
	if err := p.sink.SetConnection(ctx, state); err != nil {
		logging.Warn().Err(err).Msg("connectivity: failed to store state")
	}
}

// Run probes immediately and then on every interval until ctx ends.
func (p *Prober) Run(ctx context.Context) error {
	p.maybeProbe(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.maybeProbe(ctx)
		}
	}
}

// Serve lets a suture supervisor run the prober.
func (p *Prober) Serve(ctx context.Context) error {
	return p.Run(ctx)
}

func (p *Prober) String() string { return "connectivity-prober" }
