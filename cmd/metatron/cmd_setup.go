package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/metatron/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		out := cmd.OutOrStdout()
		p := &prompter{scanner: bufio.NewScanner(cmd.InOrStdin()), out: out}

		fmt.Fprintln(out, "Metatron Setup Wizard")
		fmt.Fprintln(out, "Press Enter to accept the default value shown in brackets.")
		fmt.Fprintln(out)

		cfg.LLM.Provider = strings.ToLower(p.ask("LLM provider (gemini|openai)", cfg.LLM.Provider))
		cfg.LLM.APIKey = p.askSecret("LLM API key", cfg.LLM.APIKey)
		if cfg.LLM.Provider == "openai" {
			cfg.LLM.BaseURL = p.ask("OpenAI-compatible base URL", cfg.LLM.BaseURL)
		}
		cfg.LLM.Model = p.ask("Model name", cfg.LLM.Model)
		if n, err := strconv.Atoi(p.ask("Max output tokens", strconv.Itoa(cfg.LLM.MaxTokens))); err == nil {
			cfg.LLM.MaxTokens = n
		}

		cfg.Jina.APIKey = p.askSecret("Jina API key (optional)", cfg.Jina.APIKey)
		cfg.Brave.APIKey = p.askSecret("Brave API key (optional)", cfg.Brave.APIKey)
		cfg.Telegram.Token = p.askSecret("Telegram bot token (optional)", cfg.Telegram.Token)
		cfg.HTTP.Listen = p.ask("HTTP listen address", cfg.HTTP.Listen)

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Configuration saved to", cfgPath)
		return nil
	},
}

type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// askSecret is ask without echoing the stored value.
func (p *prompter) askSecret(label, current string) string {
	shown := ""
	if current != "" {
		shown = "***"
	}
	if answer := p.ask(label, shown); answer != "***" && answer != "" {
		return answer
	}
	return current
}

// ask shows label with its default and returns the trimmed answer, or the
// default when the answer is empty.
func (p *prompter) ask(label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, defaultVal)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	if p.scanner.Scan() {
		if input := strings.TrimSpace(p.scanner.Text()); input != "" {
			return input
		}
	}
	return defaultVal
}
