package main

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestConfigAndMemoryCommands(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	execute(t, "--config", cfgFile, "config", "set", "data_dir", dir)
	if got := execute(t, "--config", cfgFile, "config", "get", "data_dir"); strings.TrimSpace(got) != dir {
		t.Errorf("config get data_dir = %q, want %q", got, dir)
	}
	if got := execute(t, "--config", cfgFile, "config", "set", "brave.api_key", "secret"); !strings.Contains(got, "***") {
		t.Errorf("expected masked secret, got %q", got)
	}
	if got := execute(t, "--config", cfgFile, "config", "list"); strings.Contains(got, "secret") {
		t.Errorf("config list leaked a secret:\n%s", got)
	}
	if got := execute(t, "--config", cfgFile, "config", "path"); strings.TrimSpace(got) != cfgFile {
		t.Errorf("config path = %q", got)
	}

	execute(t, "--config", cfgFile, "memory", "add", "-u", "alice", "likes", "green", "tea")
	got := execute(t, "--config", cfgFile, "memory", "list", "-u", "alice")
	if !strings.Contains(got, "- likes green tea") {
		t.Errorf("memory list = %q", got)
	}
	if got := execute(t, "--config", cfgFile, "session", "list"); !strings.Contains(got, "No sessions found.") {
		t.Errorf("session list = %q", got)
	}
}

func TestPrompter(t *testing.T) {
	var out bytes.Buffer
	p := &prompter{scanner: bufio.NewScanner(strings.NewReader("\nopenai\n\nnew-key\n")), out: &out}

	if got := p.ask("Model", "gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Errorf("empty answer should keep default, got %q", got)
	}
	if got := p.ask("Provider", "gemini"); got != "openai" {
		t.Errorf("got %q", got)
	}
	if got := p.askSecret("Key", "old-key"); got != "old-key" {
		t.Errorf("empty answer should keep secret, got %q", got)
	}
	if got := p.askSecret("Key", "old-key"); got != "new-key" {
		t.Errorf("got %q", got)
	}
	if strings.Contains(out.String(), "old-key") {
		t.Errorf("prompt echoed a secret: %q", out.String())
	}
	if !strings.Contains(out.String(), "Model [gemini-2.0-flash]: ") {
		t.Errorf("unexpected prompt output %q", out.String())
	}
}

func TestFirstLine(t *testing.T) {
	for in, want := range map[string]string{
		"Search the web. Returns links.": "Search the web",
		"one\ntwo":                       "one",
		"plain":                          "plain",
	} {
		if got := firstLine(in); got != want {
			t.Errorf("firstLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPIDFile(t *testing.T) {
	pid := pidFileIn(t.TempDir())
	if _, err := pid.process(); !errors.Is(err, errNotRunning) {
		t.Fatalf("expected errNotRunning without a file, got %v", err)
	}

	if err := pid.write(); err != nil {
		t.Fatal(err)
	}
	proc, err := pid.process()
	if err != nil {
		t.Fatal(err)
	}
	if proc.Pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", proc.Pid, os.Getpid())
	}

	if err := os.WriteFile(string(pid), []byte("99999999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := pid.process(); !errors.Is(err, errNotRunning) {
		t.Errorf("expected stale pid to report not running, got %v", err)
	}
	if _, err := os.Stat(string(pid)); !os.IsNotExist(err) {
		t.Error("stale PID file was not removed")
	}

	if err := os.WriteFile(string(pid), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := pid.process(); err == nil || errors.Is(err, errNotRunning) {
		t.Errorf("expected corrupt file error, got %v", err)
	}
}
