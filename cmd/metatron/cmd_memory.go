package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/state"
)

var (
	memoryUser  string
	memoryLimit int
)

func init() {
	memoryCmd.PersistentFlags().StringVarP(&memoryUser, "user", "u", "", "user whose memory to manage")
	memorySearchCmd.Flags().IntVarP(&memoryLimit, "limit", "n", 5, "maximum number of results")
	rootCmd.AddCommand(memoryCmd)
	memoryCmd.AddCommand(memoryListCmd, memoryAddCmd, memoryRemoveCmd, memorySearchCmd)
}

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage remembered user facts",
}

func memoryStore() *state.FileMemory {
	return state.NewFileMemory(loadConfig().DataDir)
}

var memoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered facts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		facts, err := memoryStore().List(context.Background(), memoryUser)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(facts) == 0 {
			fmt.Fprintln(out, "No facts remembered.")
			return nil
		}
		for _, f := range facts {
			fmt.Fprintf(out, "- %s\n", f)
		}
		return nil
	},
}

var memoryAddCmd = &cobra.Command{
	Use:   "add <fact>",
	Short: "Remember a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fact := strings.Join(args, " ")
		added, err := memoryStore().Add(context.Background(), memoryUser, fact)
		if err != nil {
			return err
		}
		if !added {
			fmt.Fprintln(cmd.OutOrStdout(), "Already remembered.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Remembered.")
		return nil
	},
}

var memoryRemoveCmd = &cobra.Command{
	Use:   "remove <fact>",
	Short: "Forget a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fact := strings.Join(args, " ")
		removed, err := memoryStore().Remove(context.Background(), memoryUser, fact)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("fact not found: %s", fact)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Forgotten.")
		return nil
	},
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search remembered facts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hits, err := memoryStore().Search(context.Background(), memoryUser, strings.Join(args, " "), memoryLimit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", h)
		}
		return nil
	},
}
