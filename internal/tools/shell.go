// Package tools holds the side-effect layer the stages call into: command
// execution against the workspace, patch application, and web search
// providers. Everything here enforces its own safety policy so a confused
// model cannot reach outside the workspace.
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/llamia/internal/shared"
	"github.com/basket/llamia/internal/state"
)

const (
	defaultCommandTimeout = 120 * time.Second
	maxCommandOutput      = 8 * 1024 // 8KB
)

// Executor defines the interface for running a single command.
type Executor interface {
	Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error)
}

// HostExecutor runs commands locally through sh -c.
type HostExecutor struct{}

func (h *HostExecutor) Exec(ctx context.Context, cmd, workDir string) (stdout, stderr string, exitCode int, err error) {
	execCmd := exec.CommandContext(ctx, "sh", "-c", cmd)
	if workDir != "" {
		execCmd.Dir = workDir
	}

	var outBuf, errBuf bytes.Buffer
	execCmd.Stdout = &outBuf
	execCmd.Stderr = &errBuf

	runErr := execCmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			err = runErr
		}
	}
	return outBuf.String(), errBuf.String(), exitCode, err
}

// allowedBinaries is the closed set of executables a staged command may start
// with. Everything else is blocked before it reaches the shell.
var allowedBinaries = map[string]struct{}{
	"python":  {},
	"python3": {},
	"pytest":  {},
	"ruff":    {},
	"mypy":    {},
	"go":      {},
	"ls":      {},
	"cat":     {},
	"git":     {},
}

// allowedGitSubcommands restricts git to read-only operations plus dry-run
// patch validation.
var allowedGitSubcommands = map[string]struct{}{
	"status":   {},
	"diff":     {},
	"ls-files": {},
	"apply":    {},
}

// disallowedOperators are shell tokens that would let a command escape the
// allowlist via chaining or substitution.
var disallowedOperators = []string{";", "&&", "||", "|", ">", "<", "$(", "`"}

// CheckCommand reports whether a staged command passes the safety filter.
// Returns a descriptive error when blocked.
func CheckCommand(cmd string) error {
	c := strings.TrimSpace(cmd)
	if c == "" {
		return errors.New("empty command")
	}
	for _, op := range disallowedOperators {
		if strings.Contains(c, op) {
			return fmt.Errorf("command contains disallowed operator %q", op)
		}
	}
	parts := strings.Fields(c)
	exe := parts[0]
	if _, ok := allowedBinaries[exe]; !ok {
		return fmt.Errorf("binary %q is not on the allowlist", exe)
	}
	if exe == "git" {
		if len(parts) < 2 {
			return errors.New("bare git invocation")
		}
		sub := parts[1]
		if _, ok := allowedGitSubcommands[sub]; !ok {
			return fmt.Errorf("git subcommand %q is not allowed", sub)
		}
		if sub == "apply" {
			// Only dry-run validation; never mutate the tree here.
			if !containsToken(parts, "--check") {
				return errors.New("git apply requires --check")
			}
			for _, f := range []string{"--reject", "--unsafe-paths"} {
				if containsToken(parts, f) {
					return fmt.Errorf("git apply flag %q is not allowed", f)
				}
			}
		}
	}
	return nil
}

func containsToken(parts []string, tok string) bool {
	for _, p := range parts {
		if p == tok {
			return true
		}
	}
	return false
}

// Runner executes an ExecRequest's commands sequentially against the
// workspace, applying the safety filter per command.
type Runner struct {
	Root     string   // repository root; workdirs resolve under it
	Executor Executor // defaults to HostExecutor
	Timeout  time.Duration
}

// NewRunner creates a Runner rooted at the given directory.
func NewRunner(root string) *Runner {
	return &Runner{Root: root, Executor: &HostExecutor{}, Timeout: defaultCommandTimeout}
}

// Run executes every command of the request in order and returns one result
// per executed command. Blocked commands produce a result with exit code 126
// instead of an error: the critic wants to see the failure, not lose it.
// The python -> python3 retry pair collapses when the first form succeeded.
func (r *Runner) Run(ctx context.Context, req *state.ExecRequest) ([]state.ExecResult, error) {
	if req == nil {
		return nil, nil
	}
	workDir, err := r.resolveWorkdir(req.Workdir)
	if err != nil {
		return nil, err
	}

	executor := r.Executor
	if executor == nil {
		executor = &HostExecutor{}
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	var results []state.ExecResult
	var prevCmd string
	prevCode := -1

	for _, raw := range req.Commands {
		cmd := strings.TrimSpace(raw)
		if cmd == "" {
			continue
		}

		if prevCode == 0 && isPythonFallback(prevCmd, cmd) {
			continue
		}

		if err := CheckCommand(cmd); err != nil {
			res := state.ExecResult{
				Command:  cmd,
				ExitCode: 126,
				Stderr:   "Blocked by safety filter: " + err.Error(),
			}
			results = append(results, res)
			prevCmd, prevCode = cmd, 126
			continue
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		stdout, stderr, exitCode, execErr := executor.Exec(cmdCtx, cmd, workDir)
		cancel()

		res := state.ExecResult{
			Command:  cmd,
			ExitCode: exitCode,
			Stdout:   shared.Redact(truncateOutput(stdout, maxCommandOutput)),
			Stderr:   shared.Redact(truncateOutput(stderr, maxCommandOutput)),
		}
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
			res.ExitCode = 124
			res.Stderr = "Command timed out."
		} else if execErr != nil && exitCode == -1 {
			if errors.Is(execErr, exec.ErrNotFound) {
				res.ExitCode = 127
				res.Stderr = "Executable not found."
			} else {
				res.ExitCode = 1
				res.Stderr = "Executor error: " + execErr.Error()
			}
		}

		results = append(results, res)
		prevCmd, prevCode = cmd, res.ExitCode
	}
	return results, nil
}

func (r *Runner) resolveWorkdir(workdir string) (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	wd := filepath.Clean(filepath.Join(root, workdir))
	if wd != root && !strings.HasPrefix(wd, root+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe workdir escapes root: %q", workdir)
	}
	return wd, nil
}

// isPythonFallback detects the "python X" then "python3 X" retry pair with
// identical arguments.
func isPythonFallback(prevCmd, nextCmd string) bool {
	a := strings.Fields(prevCmd)
	b := strings.Fields(nextCmd)
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if a[0] != "python" || b[0] != "python3" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for i := 1; i < len(a); i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func truncateOutput(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "\n... (truncated)"
}
