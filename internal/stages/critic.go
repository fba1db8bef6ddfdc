package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/workflow"
)

// CriticStage inspects the latest execution results and decides whether the
// task is done, needs another coder pass, or needs a web search first. It is
// deterministic; no model call happens here.
type CriticStage struct {
	deps Deps
}

var expectedFailureMarkers = []string{
	"expect it to fail", "expected to fail", "should fail",
	"demonstrate the error", "demonstrate a failure", "show the error",
	"intentionally fail", "intentional failure", "fails on purpose",
}

var fixMarkers = []string{
	"then fix", "and fix", "fix it", "fix the", "repair", "make it pass",
}

var webNeedMarkers = []string{
	"look up", "lookup", "search the web", "documentation", "docs",
	"api", "latest", "current version",
}

var reMissingModule = regexp.MustCompile(`No module named ['"]([^'"]+)['"]`)

// failureIsExpected reports whether the user asked for a failing run. A fix
// marker anywhere in the text overrides the expectation: "make it fail, then
// fix it" means the failure must eventually be repaired.
func failureIsExpected(text string) bool {
	lower := strings.ToLower(text)
	expected := false
	for _, m := range expectedFailureMarkers {
		if strings.Contains(lower, m) {
			expected = true
			break
		}
	}
	if !expected {
		return false
	}
	for _, m := range fixMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	return true
}

// looksLikeNeedsWeb reports whether the failure smells like missing external
// knowledge (absent dependency, unknown command, install error) or the goal
// itself asked for a lookup.
func looksLikeNeedsWeb(goal string, failed []state.ExecResult) bool {
	lower := strings.ToLower(goal)
	for _, m := range webNeedMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	for _, r := range failed {
		stderr := strings.ToLower(r.Stderr)
		if strings.Contains(stderr, "modulenotfounderror") ||
			strings.Contains(stderr, "command not found") ||
			strings.Contains(stderr, "pip") && strings.Contains(stderr, "error") {
			return true
		}
	}
	return false
}

// webQueryForFailure builds a focused search query from the first failure.
func webQueryForFailure(goal string, failed []state.ExecResult) string {
	for _, r := range failed {
		if m := reMissingModule.FindStringSubmatch(r.Stderr); m != nil {
			return "python " + m[1] + " module pip install usage"
		}
	}
	for _, r := range failed {
		if line := firstLine(strings.TrimSpace(tail(strings.TrimSpace(r.Stderr), 400))); line != "" {
			return line
		}
	}
	return strings.TrimSpace(goal)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

func (s *CriticStage) Run(_ context.Context, st *state.State) error {
	st.NextAgent = ""

	results := st.LastExecResults
	if len(results) == 0 {
		// Fall back to the tail of the capped history.
		all := st.ExecResults.Items()
		if len(all) > 5 {
			all = all[len(all)-5:]
		}
		results = all
	}
	if len(results) == 0 {
		st.FixInstructions = ""
		st.Log("[critic] no exec results to review -> chat")
		return nil
	}

	var failed []state.ExecResult
	for _, r := range results {
		if r.ExitCode != 0 {
			failed = append(failed, r)
		}
	}

	if len(failed) == 0 {
		st.FixInstructions = ""
		st.ExpectedFailure = false
		markPlanDone(st)
		st.Log("[critic] all commands succeeded -> chat")
		return nil
	}

	intentText := st.Goal + "\n" + st.LatestUserText()
	if failureIsExpected(intentText) {
		st.ExpectedFailure = true
		st.FixInstructions = ""
		st.AddMessage(state.RoleSystem,
			"[critic] failure was expected for this task; not entering the fix loop", "critic")
		st.Log("[critic] failure expected -> chat")
		return nil
	}

	fix := formatFixInstructions(failed)

	// One web-assisted repair per task: a missing dependency or unknown
	// command warrants a lookup before the next coder pass.
	if st.WebSearchCount < 1 && s.deps.Search != nil && s.deps.Search.Available() &&
		looksLikeNeedsWeb(st.Goal, failed) {
		st.ResearchQuery = webQueryForFailure(st.Goal, failed)
		st.FixInstructions = fix
		st.ReturnAfterWeb = string(workflow.StageCoder)
		st.NextAgent = string(workflow.StageResearchWeb)
		st.AddMessage(state.RoleSystem,
			fmt.Sprintf("[critic] routing to web search before repair, query=%q", st.ResearchQuery), "critic")
		st.Log("[critic] failure needs web research -> research_web")
		return nil
	}

	st.FixInstructions = fix
	st.Log(fmt.Sprintf("[critic] %d commands failed -> coder", len(failed)))
	return nil
}

// markPlanDone flips every remaining plan step to done after a clean run.
func markPlanDone(st *state.State) {
	for i := range st.Plan {
		switch st.Plan[i].Status {
		case state.StepDone, state.StepSkipped:
		default:
			st.Plan[i].Status = state.StepDone
		}
	}
}

func formatFixInstructions(failed []state.ExecResult) string {
	var lines []string
	lines = append(lines, "The following commands failed; fix the code so they succeed:")
	for _, r := range failed {
		lines = append(lines, fmt.Sprintf("- command: %s", r.Command))
		lines = append(lines, fmt.Sprintf("  returncode: %d", r.ExitCode))
		if errOut := strings.TrimSpace(tail(strings.TrimSpace(r.Stderr), maxStderrTail)); errOut != "" {
			lines = append(lines, "  stderr (tail):")
			for _, l := range strings.Split(errOut, "\n") {
				lines = append(lines, "    "+l)
			}
		}
	}
	return strings.Join(lines, "\n")
}
