package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sethshoultes/flock-control/internal/model"
	"github.com/sethshoultes/flock-control/internal/records"
)

var loginCmd = &cobra.Command{
	Use:   "login <email>",
	Short: "Sign in, creating the account on first use",
	Long: `Signs in and moves counts taken as a guest into the account. The
password is read from --password or, when omitted, from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the session and continue as a guest",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the connection, the session and the upload queue",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var achievementsCmd = &cobra.Command{
	Use:   "achievements",
	Short: "List earned and available achievements",
	Args:  cobra.NoArgs,
	RunE:  runAchievements,
}

var loginPassword string

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "account password")
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, achievementsCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := current
	out := cmd.OutOrStdout()

	password := loginPassword
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("password is required")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if state := a.connect(ctx); !state.Connected() {
		return fmt.Errorf("cannot sign in: %s", describeConnection(state))
	}
	resp, err := a.client.Login(ctx, args[0], password)
	if err != nil {
		return err
	}
	session := records.Session{UserID: resp.User.ID, Email: resp.User.Email, Token: resp.Token}
	if err := a.store.SetSession(ctx, session); err != nil && !errors.Is(err, records.ErrPersist) {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", resp.User.Email)

	promoted, err := a.engine.PromoteGuestRecords(ctx)
	if promoted > 0 {
		fmt.Fprintf(out, "moved %d guest counts into your account\n", promoted)
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "some guest counts were not moved: %v\n", err)
	}
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	userID := current.store.Session().UserID
	if err := current.store.SetSession(cmd.Context(), records.Session{}); err != nil && !errors.Is(err, records.ErrPersist) {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "signed out")
	var held int
	for _, p := range current.store.PendingUploads() {
		if userID != model.GuestUserID && p.UserID == userID {
			held++
		}
	}
	if held > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%d queued images wait until you sign in again\n", held)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := current
	out := cmd.OutOrStdout()

	session := a.store.Session()
	if session.Authenticated() {
		fmt.Fprintf(out, "user:        %s\n", session.Email)
	} else {
		fmt.Fprintln(out, "user:        guest")
	}
	fmt.Fprintf(out, "server:      %s (%s)\n", a.cfg.ServerURL, describeConnection(a.connect(ctx)))
	fmt.Fprintf(out, "counts:      %d\n", len(a.store.CountsFor(session.UserID)))

	pending := a.store.PendingUploads()
	fmt.Fprintf(out, "queued:      %d\n", len(pending))
	if len(pending) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nID\tSTATUS\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	now := time.Now()
	for _, p := range pending {
		next := "now"
		if p.NextAttemptAt.After(now) {
			next = p.NextAttemptAt.Sub(now).Round(time.Second).String()
		}
		if p.Status == records.StatusDead {
			next = "after flockctl sync"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.Status, p.RetryCount, next, p.LastError)
	}
	return w.Flush()
}

func runAchievements(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a := current
	if !a.store.Session().Authenticated() {
		return errors.New("achievements require flockctl login")
	}
	if state := a.connect(ctx); !state.Connected() {
		return fmt.Errorf("cannot load achievements: %s", describeConnection(state))
	}
	set, err := a.client.Achievements(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EARNED\t\t\t")
	for _, ua := range set.Achievements {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ua.Icon, ua.Name, ua.Description, ua.EarnedAt.Local().Format("2006-01-02"))
	}
	fmt.Fprintln(w, "AVAILABLE\t\t\t")
	for _, ach := range set.AvailableAchievements {
		fmt.Fprintf(w, "%s\t%s\t%s\t-\n", ach.Icon, ach.Name, ach.Description)
	}
	return w.Flush()
}
