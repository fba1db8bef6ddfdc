package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/llamia/internal/state"
)

func TestCheckCommand(t *testing.T) {
	cases := []struct {
		cmd     string
		blocked bool
	}{
		{"pytest -q", false},
		{"python main.py", false},
		{"python3 main.py", false},
		{"ruff check .", false},
		{"git status", false},
		{"git diff --no-color", false},
		{"git apply --check fix.patch", false},
		{"", true},
		{"rm -rf /", true},
		{"curl http://example.com", true},
		{"python main.py; rm -rf /", true},
		{"python main.py && ls", true},
		{"cat main.py | head", true},
		{"echo $(whoami)", true},
		{"git push origin main", true},
		{"git apply fix.patch", true},
		{"git apply --check --reject fix.patch", true},
	}
	for _, tc := range cases {
		err := CheckCommand(tc.cmd)
		if tc.blocked && err == nil {
			t.Errorf("CheckCommand(%q) allowed, want blocked", tc.cmd)
		}
		if !tc.blocked && err != nil {
			t.Errorf("CheckCommand(%q) = %v, want allowed", tc.cmd, err)
		}
	}
}

// fakeExecutor records commands and returns scripted results.
type fakeExecutor struct {
	calls []string
	code  int
	out   string
}

func (f *fakeExecutor) Exec(_ context.Context, cmd, _ string) (string, string, int, error) {
	f.calls = append(f.calls, cmd)
	return f.out, "", f.code, nil
}

func TestRunner_RunsCommandsInOrder(t *testing.T) {
	fake := &fakeExecutor{out: "ok"}
	r := NewRunner(t.TempDir())
	r.Executor = fake

	results, err := r.Run(context.Background(), &state.ExecRequest{
		Workdir:  "workspace",
		Commands: []string{"python main.py", "pytest -q"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if len(fake.calls) != 2 || fake.calls[0] != "python main.py" {
		t.Fatalf("executor calls = %v", fake.calls)
	}
	if results[0].ExitCode != 0 || results[0].Stdout != "ok" {
		t.Fatalf("result[0] = %+v", results[0])
	}
}

func TestRunner_SkipsPython3FallbackAfterSuccess(t *testing.T) {
	fake := &fakeExecutor{}
	r := NewRunner(t.TempDir())
	r.Executor = fake

	results, err := r.Run(context.Background(), &state.ExecRequest{
		Workdir:  "workspace",
		Commands: []string{"python main.py", "python3 main.py"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (fallback skipped)", len(results))
	}
	if len(fake.calls) != 1 {
		t.Fatalf("executor calls = %v, want only the python form", fake.calls)
	}
}

func TestRunner_RunsPython3FallbackAfterFailure(t *testing.T) {
	fake := &fakeExecutor{code: 1}
	r := NewRunner(t.TempDir())
	r.Executor = fake

	results, err := r.Run(context.Background(), &state.ExecRequest{
		Workdir:  "workspace",
		Commands: []string{"python main.py", "python3 main.py"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (fallback runs when python failed)", len(results))
	}
}

func TestRunner_BlockedCommandProducesResultNotError(t *testing.T) {
	fake := &fakeExecutor{}
	r := NewRunner(t.TempDir())
	r.Executor = fake

	results, err := r.Run(context.Background(), &state.ExecRequest{
		Workdir:  "workspace",
		Commands: []string{"rm -rf /", "pytest -q"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ExitCode != 126 {
		t.Fatalf("blocked exit code = %d, want 126", results[0].ExitCode)
	}
	if !strings.Contains(results[0].Stderr, "safety filter") {
		t.Fatalf("blocked stderr = %q", results[0].Stderr)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "pytest -q" {
		t.Fatalf("executor calls = %v, blocked command must not reach the shell", fake.calls)
	}
}

func TestRunner_RejectsEscapingWorkdir(t *testing.T) {
	r := NewRunner(t.TempDir())
	r.Executor = &fakeExecutor{}

	_, err := r.Run(context.Background(), &state.ExecRequest{
		Workdir:  "../outside",
		Commands: []string{"pytest -q"},
	})
	if err == nil {
		t.Fatal("expected error for workdir escaping root")
	}
}

func TestRunner_NilRequest(t *testing.T) {
	r := NewRunner(t.TempDir())
	results, err := r.Run(context.Background(), nil)
	if err != nil || results != nil {
		t.Fatalf("Run(nil) = %v, %v, want nil, nil", results, err)
	}
}

func TestHostExecutor_ExitCode(t *testing.T) {
	h := &HostExecutor{}
	stdout, _, code, err := h.Exec(context.Background(), "echo hello", t.TempDir())
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 0 || strings.TrimSpace(stdout) != "hello" {
		t.Fatalf("code=%d stdout=%q", code, stdout)
	}

	_, _, code, err = h.Exec(context.Background(), "exit 3", t.TempDir())
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if code != 3 {
		t.Fatalf("code = %d, want 3", code)
	}
}

func TestTruncateOutput(t *testing.T) {
	long := strings.Repeat("x", maxCommandOutput+100)
	got := truncateOutput(long, maxCommandOutput)
	if !strings.HasSuffix(got, "... (truncated)") {
		t.Fatalf("expected truncation marker, got tail %q", got[len(got)-30:])
	}
	short := "short"
	if truncateOutput(short, maxCommandOutput) != short {
		t.Fatal("short output must pass through unchanged")
	}
}
