package stages

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/llamia/internal/state"
)

func TestExecutor_AppliesPatchesAndRunsCommands(t *testing.T) {
	ws := newTestWorkspace(t)
	exec := &fakeExec{byCommand: map[string]state.ExecResult{
		"python main.py": {Stdout: "hello\n", ExitCode: 0},
	}}
	st := state.New(state.Caps{})
	st.PendingPatches = []state.CodePatch{
		{FilePath: "main.py", Content: "print('hello')\n", ApplyMode: state.ApplyOverwrite},
	}
	st.ExecRequest = &state.ExecRequest{Workdir: "", Commands: []string{"python main.py"}}

	stage := &ExecutorStage{Deps{Runner: newTestRunner(ws, exec), Workspace: ws}}
	if err := stage.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(ws.Dir, "main.py"))
	if err != nil {
		t.Fatalf("patch not written: %v", err)
	}
	if string(raw) != "print('hello')\n" {
		t.Fatalf("file content = %q", raw)
	}

	if len(st.PendingPatches) != 0 {
		t.Fatalf("PendingPatches not cleared: %v", st.PendingPatches)
	}
	if st.AppliedPatches.Len() != 1 {
		t.Fatalf("AppliedPatches.Len() = %d, want 1", st.AppliedPatches.Len())
	}
	if st.ExecRequest != nil {
		t.Fatalf("ExecRequest not consumed")
	}
	if len(st.LastExecResults) != 1 || st.LastExecResults[0].ExitCode != 0 {
		t.Fatalf("LastExecResults = %+v", st.LastExecResults)
	}
	if st.ExecResults.Len() != 1 {
		t.Fatalf("ExecResults.Len() = %d, want 1", st.ExecResults.Len())
	}
	if len(exec.ran) != 1 || exec.ran[0] != "python main.py" {
		t.Fatalf("ran = %v", exec.ran)
	}

	msg := lastMessage(t, st)
	if msg.Stage != "executor" || !strings.Contains(msg.Content, "python main.py -> OK") {
		t.Fatalf("executor summary = %q", msg.Content)
	}
	if !strings.Contains(msg.Content, "stdout (tail):") {
		t.Fatalf("summary missing stdout tail:\n%s", msg.Content)
	}
}

func TestExecutor_FailureSummaryShowsStderr(t *testing.T) {
	ws := newTestWorkspace(t)
	exec := &fakeExec{byCommand: map[string]state.ExecResult{
		"python bad.py": {Stderr: "Traceback: NameError\n", ExitCode: 1},
	}}
	st := state.New(state.Caps{})
	st.ExecRequest = &state.ExecRequest{Commands: []string{"python bad.py"}}

	stage := &ExecutorStage{Deps{Runner: newTestRunner(ws, exec), Workspace: ws}}
	if err := stage.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	msg := lastMessage(t, st).Content
	if !strings.Contains(msg, "FAILED (1)") || !strings.Contains(msg, "NameError") {
		t.Fatalf("failure summary = %q", msg)
	}
}

func TestExecutor_NoRequestIsANoOp(t *testing.T) {
	ws := newTestWorkspace(t)
	st := state.New(state.Caps{})
	st.LastExecResults = []state.ExecResult{{Command: "stale", ExitCode: 1}}

	stage := &ExecutorStage{Deps{Runner: newTestRunner(ws, &fakeExec{}), Workspace: ws}}
	if err := stage.Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.LastExecResults != nil {
		t.Fatalf("stale LastExecResults not cleared: %v", st.LastExecResults)
	}
}

func TestExecutor_UnsafePatchPathFailsTheStage(t *testing.T) {
	ws := newTestWorkspace(t)
	st := state.New(state.Caps{})
	st.PendingPatches = []state.CodePatch{
		{FilePath: "../outside.py", Content: "x", ApplyMode: state.ApplyOverwrite},
	}
	st.ExecRequest = &state.ExecRequest{Commands: []string{"python x.py"}}

	stage := &ExecutorStage{Deps{Runner: newTestRunner(ws, &fakeExec{}), Workspace: ws}}
	if err := stage.Run(context.Background(), st); err == nil {
		t.Fatalf("Run succeeded, want path traversal error")
	}
	if len(st.PendingPatches) != 0 {
		t.Fatalf("broken patches must not stay pending")
	}
	if st.ExecRequest != nil {
		t.Fatalf("ExecRequest must be dropped after a patch failure")
	}
}
