package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/state"
)

// ExecutorStage applies staged patches to the workspace, then runs the
// pending execution request. It consumes both: pending patches move to the
// applied history exactly once, and the request is cleared whatever happens.
type ExecutorStage struct {
	deps Deps
}

func (s *ExecutorStage) Run(ctx context.Context, st *state.State) error {
	if len(st.PendingPatches) > 0 {
		applied, err := s.applyPending(st)
		if err != nil {
			st.ExecRequest = nil
			st.AddMessage(state.RoleSystem, "[executor] ERROR applying patches: "+err.Error(), "executor")
			return fmt.Errorf("apply patches: %w", err)
		}
		st.Log(fmt.Sprintf("[executor] applied %d patches", applied))
	}

	req := st.ExecRequest
	st.ExecRequest = nil
	if req == nil || len(req.Commands) == 0 {
		st.Log("[executor] no exec request or commands; nothing to run")
		st.LastExecResults = nil
		return nil
	}

	results, err := s.deps.Runner.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("run commands: %w", err)
	}

	st.LastExecResults = results
	for _, r := range results {
		st.AddExecResult(r)
	}

	var lines []string
	lines = append(lines, "[executor] workdir="+req.Workdir, "[executor] commands:")
	for _, r := range results {
		status := "OK"
		if r.ExitCode != 0 {
			status = fmt.Sprintf("FAILED (%d)", r.ExitCode)
		}
		lines = append(lines, fmt.Sprintf("- %s -> %s", r.Command, status))

		if out := strings.TrimSpace(tail(strings.TrimSpace(r.Stdout), maxStdoutTail)); out != "" {
			lines = append(lines, "  stdout (tail):")
			for _, l := range strings.Split(out, "\n") {
				lines = append(lines, "    "+l)
			}
		}
		if errOut := strings.TrimSpace(tail(strings.TrimSpace(r.Stderr), maxStderrTail)); errOut != "" {
			lines = append(lines, "  stderr (tail):")
			for _, l := range strings.Split(errOut, "\n") {
				lines = append(lines, "    "+l)
			}
		}
	}
	st.AddMessage(state.RoleSystem, strings.Join(lines, "\n"), "executor")
	st.Log(fmt.Sprintf("[executor] ran %d commands", len(results)))
	s.deps.logger().Debug("executor finished", "workdir", req.Workdir, "commands", len(results))
	return nil
}

// applyPending writes every pending patch and records it as applied. Pending
// is cleared even on failure so a broken patch cannot be re-applied forever.
func (s *ExecutorStage) applyPending(st *state.State) (int, error) {
	pending := st.PendingPatches
	st.PendingPatches = nil

	written, err := s.deps.Workspace.ApplyPatches(pending)
	for i := range written {
		st.AddAppliedPatch(pending[i])
	}
	if err != nil {
		return len(written), err
	}
	return len(written), nil
}
