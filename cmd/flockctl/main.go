// flockctl is the offline-first client: it captures flock photos, keeps them
// while the server is unreachable and syncs them once it is back.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/sethshoultes/flock-control/internal/apiclient"
	"github.com/sethshoultes/flock-control/internal/config"
	"github.com/sethshoultes/flock-control/internal/connectivity"
	"github.com/sethshoultes/flock-control/internal/localstore"
	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/records"
	"github.com/sethshoultes/flock-control/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "flockctl",
	Short: "Count your flock, online or off",
	Long: `flockctl analyzes photos of a flock and keeps the results on this machine.

Photos taken while the server is unreachable are queued and analyzed by
"flockctl sync" or automatically by "flockctl watch".`,
	SilenceUsage:      true,
	PersistentPreRunE: openApp,
}

var forceOffline bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&forceOffline, "offline", false, "do not contact the server")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	closeApp()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs. It is built once per invocation.
type app struct {
	cfg     *config.Client
	storage *localstore.BadgerStorage
	store   *records.Store
	client  *apiclient.Client
	prober  *connectivity.Prober
	engine  *syncer.Engine
}

var current *app

func openApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})

	storage, err := localstore.OpenBadger(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open local data in %s: %w", cfg.DataDir, err)
	}
	store := records.New(storage)
	if err := store.Load(cmd.Context()); err != nil {
		if !errors.Is(err, records.ErrCorruptState) {
			storage.Close()
			return err
		}
		logging.Warn().Err(err).Msg("local state was unreadable and has been reset")
	}

	client := apiclient.New(cfg.ServerURL, apiclient.WithTokenSource(func() string {
		return store.Session().Token
	}))
	prober := connectivity.NewProber(connectivity.Config{
		Checker:  client,
		Sink:     store,
		Timeout:  cfg.ProbeTimeout,
		Interval: cfg.ProbeInterval,
		Limiter:  rate.NewLimiter(rate.Every(2*time.Second), 3),
	})
	engine := syncer.New(syncer.Config{
		Store:          store,
		Client:         client,
		Source:         prober,
		Retry:          syncer.RetryPolicyFromConfig(cfg.Retry),
		Concurrency:    cfg.Concurrency,
		AnalyzeTimeout: cfg.AnalyzeTimeout,
	})

	current = &app{cfg: cfg, storage: storage, store: store, client: client, prober: prober, engine: engine}
	return nil
}

func closeApp() {
	if current == nil {
		return
	}
	if err := current.storage.Close(); err != nil {
		logging.Error().Err(err).Msg("failed to close local data")
	}
	current = nil
}

// connect refreshes the connection state unless --offline was given.
func (a *app) connect(ctx context.Context) records.ConnectionState {
	if forceOffline {
		return a.prober.ForceOffline(ctx, true)
	}
	return a.prober.Probe(ctx)
}

func describeConnection(state records.ConnectionState) string {
	switch {
	case state.ForcedOffline:
		return "offline (forced)"
	case state.Connected():
		return "online"
	case state.IsOnline:
		return "server reachable, database unavailable: " + state.LastError
	case state.LastError != "":
		return "offline: " + state.LastError
	default:
		return "offline"
	}
}
