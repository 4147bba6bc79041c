package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Show your counts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete counts by id",
	Long: `Deletes counts from this machine and, for counts stored on the server,
from the server too. Numeric ids are server ids.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

var discardCmd = &cobra.Command{
	Use:   "discard <pending-id>",
	Short: "Drop a queued photo without analyzing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiscard,
}

func init() {
	rootCmd.AddCommand(listCmd, deleteCmd, discardCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := current
	session := a.store.Session()

	var server []model.Count
	if session.Authenticated() && a.connect(ctx).Connected() {
		counts, err := a.client.ListCounts(ctx)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "showing local counts only: %v\n", err)
		} else {
			server = counts
			if err := a.store.ImportCounts(ctx, session.UserID, counts); err != nil && !errors.Is(err, records.ErrPersist) {
				return err
			}
		}
	}

	counts := a.store.Visible(session.UserID, server)
	if len(counts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no counts yet")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOUNT\tBREED\tCONFIDENCE\tTAKEN\tLABELS")
	for _, c := range counts {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			c.ID, c.Count, deref(c.Breed), confidence(c.Confidence), taken(c.Timestamp), strings.Join(c.Labels, ","))
	}
	return w.Flush()
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := current

	ids := make([]model.CountID, len(args))
	var remote []int64
	for i, arg := range args {
		ids[i] = parseCountID(arg)
		if n, ok := ids[i].Int64(); ok {
			remote = append(remote, n)
		}
	}

	if len(remote) > 0 {
		if !a.store.Session().Authenticated() {
			return errors.New("deleting server counts requires flockctl login")
		}
		if state := a.connect(ctx); !state.Connected() {
			return fmt.Errorf("cannot delete server counts: %s", describeConnection(state))
		}
		if err := a.client.DeleteCounts(ctx, remote); err != nil {
			return err
		}
	}

	removed, err := a.store.DeleteCounts(ctx, ids...)
	if err != nil && !errors.Is(err, records.ErrPersist) {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %d local, %d server counts\n", removed, len(remote))
	return nil
}

func runDiscard(cmd *cobra.Command, args []string) error {
	err := current.store.DiscardPending(cmd.Context(), args[0])
	if errors.Is(err, records.ErrNotFound) {
		return fmt.Errorf("no queued photo %q", args[0])
	}
	if err != nil && !errors.Is(err, records.ErrPersist) {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "discarded %s\n", args[0])
	return nil
}

// parseCountID treats all-digit arguments as server ids.
func parseCountID(s string) model.CountID {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return model.RemoteID(n)
	}
	return model.LocalID(s)
}

func deref(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func confidence(c *float64) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", *c)
}

func taken(ts *time.Time) string {
	if ts == nil {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
