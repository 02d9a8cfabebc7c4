package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var errNotRunning = errors.New("server is not running")

// pidFile records the PID of a running `metatron serve` in the data dir.
type pidFile string

func pidFileIn(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "metatron.pid"))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	return nil
}

func (p pidFile) remove() { os.Remove(string(p)) }

// process returns the recorded server process if it is still alive. A
// stale file is removed.
func (p pidFile) process() (*os.Process, error) {
	data, err := os.ReadFile(string(p))
	if os.IsNotExist(err) {
		return nil, errNotRunning
	}
	if err != nil {
		return nil, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return nil, fmt.Errorf("corrupt PID file %s", p)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("find process %d: %w", pid, err)
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		p.remove()
		return nil, fmt.Errorf("%w (stale PID %d)", errNotRunning, pid)
	}
	return proc, nil
}

// waitExit polls until proc is gone or timeout elapses.
func waitExit(proc *os.Process, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if proc.Signal(syscall.Signal(0)) != nil {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func init() {
	stopCmd.Flags().Duration("wait", 0, "wait up to this long for the server to exit")
	rootCmd.AddCommand(stopCmd, restartCmd)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := pidFileIn(loadConfig().DataDir).process()
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("stop server %d: %w", proc.Pid, err)
		}
		out := cmd.OutOrStdout()
		wait, _ := cmd.Flags().GetDuration("wait")
		if wait <= 0 {
			fmt.Fprintf(out, "stopping server (pid %d)\n", proc.Pid)
			return nil
		}
		if !waitExit(proc, wait) {
			return fmt.Errorf("server %d still running after %s", proc.Pid, wait)
		}
		fmt.Fprintf(out, "server stopped (pid %d)\n", proc.Pid)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Re-exec the running server with the current binary and config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		proc, err := pidFileIn(loadConfig().DataDir).process()
		if err != nil {
			return err
		}
		if err := proc.Signal(syscall.SIGHUP); err != nil {
			return fmt.Errorf("restart server %d: %w", proc.Pid, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restarting server (pid %d)\n", proc.Pid)
		return nil
	},
}
