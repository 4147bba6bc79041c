package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/sethshoultes/flock-control/internal/logging"
	"github.com/sethshoultes/flock-control/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Analyze every queued photo now",
	Long: `Sends queued photos for analysis, ignoring retry backoff. Photos that
previously gave up are retried too.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay running and sync whenever the server is reachable",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := current
	out := cmd.OutOrStdout()

	state := a.connect(ctx)
	if !state.Connected() {
		return fmt.Errorf("cannot sync: %s", describeConnection(state))
	}

	summary, err := a.engine.Sync(ctx, syncer.TriggerManual)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, summary.Message())
	for _, ach := range summary.NewAchievements {
		fmt.Fprintf(out, "achievement unlocked: %s %s\n", ach.Icon, ach.Name)
	}
	return nil
}

// runWatch supervises the prober and the sync engine until interrupted.
func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := current
	if forceOffline {
		return fmt.Errorf("watch cannot run with --offline")
	}

	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	sup := suture.New("flockctl", suture.Spec{
		EventHook:      handler.MustHook(),
		FailureBackoff: 15 * time.Second,
		Timeout:        10 * time.Second,
	})
	sup.Add(a.prober)
	sup.Add(a.engine)

	fmt.Fprintf(cmd.OutOrStdout(), "watching %s, press Ctrl+C to stop\n", a.cfg.ServerURL)
	err := sup.Serve(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	return err
}
