package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/types"
)

var (
	toolsWorkspace string
	toolsDeep      bool
)

func init() {
	toolsCmd.Flags().StringVarP(&toolsWorkspace, "workspace", "w", "", "workspace to select tools for")
	toolsCmd.Flags().BoolVar(&toolsDeep, "deep", false, "select as for deep research mode")
	rootCmd.AddCommand(toolsCmd)
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered for a workspace, in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		a, err := newApp(cfg, setupLogging(cfg))
		if err != nil {
			return err
		}

		req := &types.ChatRequest{Workspace: toolsWorkspace}
		deps := &types.Deps{Workspace: req.WorkspaceOrDefault(), DeepResearch: toolsDeep}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		seen := make(map[string]bool)
		for _, name := range a.registry.Select(deps) {
			if seen[name] {
				continue
			}
			seen[name] = true
			t, _ := a.registry.Get(name)
			fmt.Fprintf(w, "%s\t%s\n", t.Name, firstLine(t.Description))
		}
		return w.Flush()
	},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' || r == '.' {
			return s[:i]
		}
	}
	return s
}
