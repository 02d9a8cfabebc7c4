package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/intent"
)

func init() {
	rootCmd.AddCommand(classifyCmd)
}

type classifyOutput struct {
	Detection intent.Detection   `json:"detection"`
	Routing   intent.Routing     `json:"routing"`
	Media     intent.RichContent `json:"media"`
}

var classifyCmd = &cobra.Command{
	Use:   "classify <message>",
	Short: "Classify a message's content intent offline",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg := strings.Join(args, " ")
		d := intent.New().Classify(msg)
		out := classifyOutput{
			Detection: d,
			Routing:   intent.Route(d, nil, ""),
			Media:     intent.Analyze(msg),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
