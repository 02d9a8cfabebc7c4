package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/state"
	"github.com/user/metatron/internal/types"
)

var (
	sessionEventLimit int
	sessionOlderThan  time.Duration
)

func init() {
	sessionEventsCmd.Flags().IntVarP(&sessionEventLimit, "limit", "n", 50, "number of most recent events to show (0 for all)")
	sessionPruneCmd.Flags().DurationVar(&sessionOlderThan, "older-than", 0, "remove transcripts idle for longer than this (default transcript_retention)")
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionEventsCmd, sessionPruneCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage session transcripts",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		events := state.NewEventStore(loadConfig().DataDir)
		list, err := events.List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tEVENTS\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\n", s.SessionID, s.Events, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <id>",
	Short: "Print the recorded events of a session as JSON lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events := state.NewEventStore(loadConfig().DataDir)
		list, err := events.Tail(context.Background(), types.SessionID(args[0]), sessionEventLimit)
		if err != nil {
			return fmt.Errorf("read events: %w", err)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, ev := range list {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove transcripts that have not been written recently",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		age := sessionOlderThan
		if age <= 0 {
			age = cfg.TranscriptRetention.Duration
		}
		if age <= 0 {
			return fmt.Errorf("no retention configured; pass --older-than")
		}
		n, err := state.NewEventStore(cfg.DataDir).Prune(context.Background(), time.Now().Add(-age))
		if err != nil {
			return fmt.Errorf("prune sessions: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d session(s) older than %s.\n", n, age)
		return nil
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Clear a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events := state.NewEventStore(loadConfig().DataDir)
		ctx := context.Background()
		out := cmd.OutOrStdout()

		if args[0] != "all" {
			if err := events.Delete(ctx, types.SessionID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(out, "Session %s cleared.\n", args[0])
			return nil
		}

		list, err := events.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		for _, s := range list {
			if err := events.Delete(ctx, s.SessionID); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "Cleared %d session(s).\n", len(list))
		return nil
	},
}
