package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/stream"
	"github.com/user/metatron/internal/types"
)

var (
	chatWorkspace string
	chatUser      string
	chatDeep      bool
	chatStream    bool
)

func init() {
	chatCmd.Flags().StringVarP(&chatWorkspace, "workspace", "w", "", "workspace (default, research, creative)")
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "", "user id for memory lookups")
	chatCmd.Flags().BoolVar(&chatDeep, "deep", false, "run in deep research mode")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "print the event stream instead of the final JSON response")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message through the orchestrator",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		logger := setupLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		a, err := newApp(cfg, logger)
		if err != nil {
			return err
		}
		orch, err := a.orchestrator(ctx)
		if err != nil {
			return err
		}

		req := &types.ChatRequest{
			Message:   strings.Join(args, " "),
			Workspace: chatWorkspace,
			UserID:    chatUser,
			Source:    "cli",
		}
		if chatDeep {
			req.Context = map[string]any{"deep_research": true}
		}

		out := cmd.OutOrStdout()
		var sink stream.Sink = stream.Discard
		var sse *stream.SSEWriter
		if chatStream {
			sse = stream.NewSSEWriter(out)
			sink = sse
		}

		resp, err := orch.Run(ctx, req, sink)
		if sse != nil {
			sse.Close()
			return err
		}
		if err != nil {
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		return nil
	},
}
