package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sethshoultes/flock-control/internal/records"
	"github.com/sethshoultes/flock-control/internal/vision"
)

var captureCmd = &cobra.Command{
	Use:   "capture <image>...",
	Short: "Count the birds in one or more photos",
	Long: `Analyzes each photo right away when the server is reachable. Otherwise
the photo is queued and analyzed by the next sync.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCapture,
}

func init() {
	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := current
	state := a.connect(ctx)
	out := cmd.OutOrStdout()
	if !state.Connected() {
		fmt.Fprintf(out, "%s; photos will be queued\n", describeConnection(state))
	}

	var failed int
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		image, err := vision.PrepareImage(raw, a.cfg.MaxImageSide)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}

		result, err := a.engine.Capture(ctx, image)
		if err != nil && !errors.Is(err, records.ErrPersist) {
			fmt.Fprintf(out, "%s: %v\n", path, err)
			failed++
			continue
		}
		switch {
		case result.Queued:
			fmt.Fprintf(out, "%s: queued as %s\n", path, result.Pending.ID)
			if result.AuthRequired {
				fmt.Fprintln(out, "  the server refused your session; run flockctl login")
			}
		default:
			fmt.Fprintf(out, "%s: %d birds (%s)\n", path, result.Count.Count, result.Count.ID)
			for _, ach := range result.NewAchievements {
				fmt.Fprintf(out, "  achievement unlocked: %s %s\n", ach.Icon, ach.Name)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, len(args))
	}
	return nil
}
