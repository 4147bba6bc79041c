package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tutorialCmd = &cobra.Command{
	Use:       "tutorial [done|reset]",
	Short:     "Show or change whether the first-run tutorial was completed",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"done", "reset"},
	RunE:      runTutorial,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every local count and queued photo",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

func init() {
	rootCmd.AddCommand(tutorialCmd, clearCmd)
}

func runTutorial(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store := current.store
	if len(args) == 1 {
		if err := store.SetTutorialCompleted(ctx, args[0] == "done"); err != nil {
			return err
		}
	}
	done, err := store.TutorialCompleted(ctx)
	if err != nil {
		return err
	}
	if done {
		fmt.Fprintln(cmd.OutOrStdout(), "tutorial completed")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "tutorial not completed")
	}
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	if err := current.store.ClearCounts(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "local counts and queue cleared")
	return nil
}
