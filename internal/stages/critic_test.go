package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/llamia/internal/state"
)

func TestCritic_NoResultsGoesQuiet(t *testing.T) {
	st := state.New(state.Caps{})
	st.FixInstructions = "stale"

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.FixInstructions != "" {
		t.Fatalf("FixInstructions = %q, want cleared", st.FixInstructions)
	}
}

func TestCritic_SuccessClearsFixLoopAndFinishesPlan(t *testing.T) {
	st := state.New(state.Caps{})
	st.BeginTask("do the thing")
	st.Plan = []state.PlanStep{
		{ID: 1, Description: "a", Status: state.StepDone},
		{ID: 2, Description: "b", Status: state.StepPending},
	}
	st.FixInstructions = "stale"
	st.LastExecResults = []state.ExecResult{{Command: "python ok.py", ExitCode: 0}}

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.FixInstructions != "" || st.ExpectedFailure {
		t.Fatalf("fix loop not cleared: fix=%q expected=%v", st.FixInstructions, st.ExpectedFailure)
	}
	for _, step := range st.Plan {
		if step.Status != state.StepDone {
			t.Fatalf("step %d = %q, want done", step.ID, step.Status)
		}
	}
}

func TestCritic_FailureSetsFixInstructions(t *testing.T) {
	st := state.New(state.Caps{})
	st.BeginTask("write a parser")
	st.LastExecResults = []state.ExecResult{
		{Command: "python parse.py", ExitCode: 1, Stderr: "SyntaxError: invalid syntax"},
	}

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fix := st.FixInstructions
	for _, want := range []string{"python parse.py", "returncode: 1", "SyntaxError"} {
		if !strings.Contains(fix, want) {
			t.Errorf("FixInstructions missing %q:\n%s", want, fix)
		}
	}
	if st.NextAgent != "" {
		t.Fatalf("NextAgent = %q, want table routing", st.NextAgent)
	}
}

func TestCritic_ExpectedFailureSkipsFixLoop(t *testing.T) {
	st := state.New(state.Caps{})
	st.BeginTask("write a script that should fail with a division by zero")
	st.LastExecResults = []state.ExecResult{
		{Command: "python boom.py", ExitCode: 1, Stderr: "ZeroDivisionError"},
	}

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !st.ExpectedFailure {
		t.Fatalf("ExpectedFailure = false, want true")
	}
	if st.FixInstructions != "" {
		t.Fatalf("FixInstructions = %q, want empty for expected failure", st.FixInstructions)
	}
	if !strings.Contains(lastMessage(t, st).Content, "failure was expected") {
		t.Fatalf("missing expected-failure message")
	}
}

func TestCritic_FixMarkerOverridesExpectation(t *testing.T) {
	st := state.New(state.Caps{})
	st.BeginTask("write a script that should fail, then fix it")
	st.LastExecResults = []state.ExecResult{
		{Command: "python boom.py", ExitCode: 1, Stderr: "boom"},
	}

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.ExpectedFailure {
		t.Fatalf("ExpectedFailure = true, want false when a fix is requested")
	}
	if st.FixInstructions == "" {
		t.Fatalf("FixInstructions empty, want repair instructions")
	}
}

func TestCritic_MissingModuleRoutesToWebSearch(t *testing.T) {
	search := &fakeSearch{available: true}
	st := state.New(state.Caps{})
	st.BeginTask("use pandas to read a csv")
	st.LastExecResults = []state.ExecResult{
		{Command: "python main.py", ExitCode: 1,
			Stderr: "ModuleNotFoundError: No module named 'pandas'"},
	}

	if err := (&CriticStage{Deps{Search: search}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.NextAgent != "research_web" {
		t.Fatalf("NextAgent = %q, want research_web", st.NextAgent)
	}
	if st.ReturnAfterWeb != "coder" {
		t.Fatalf("ReturnAfterWeb = %q, want coder", st.ReturnAfterWeb)
	}
	if !strings.Contains(st.ResearchQuery, "pandas") {
		t.Fatalf("ResearchQuery = %q, want module name", st.ResearchQuery)
	}
	if st.FixInstructions == "" {
		t.Fatalf("FixInstructions must carry the failure to the coder")
	}
}

func TestCritic_WebRouteThrottledAfterFirstSearch(t *testing.T) {
	search := &fakeSearch{available: true}
	st := state.New(state.Caps{})
	st.BeginTask("use pandas to read a csv")
	st.WebSearchCount = 1
	st.LastExecResults = []state.ExecResult{
		{Command: "python main.py", ExitCode: 1,
			Stderr: "ModuleNotFoundError: No module named 'pandas'"},
	}

	if err := (&CriticStage{Deps{Search: search}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.NextAgent != "" {
		t.Fatalf("NextAgent = %q, want plain fix loop once throttled", st.NextAgent)
	}
	if st.FixInstructions == "" {
		t.Fatalf("FixInstructions empty, want repair instructions")
	}
}

func TestCritic_FallsBackToExecHistory(t *testing.T) {
	st := state.New(state.Caps{})
	st.BeginTask("something")
	st.AddExecResult(state.ExecResult{Command: "python old.py", ExitCode: 2, Stderr: "old failure"})

	if err := (&CriticStage{Deps{}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(st.FixInstructions, "python old.py") {
		t.Fatalf("FixInstructions = %q, want history fallback", st.FixInstructions)
	}
}
