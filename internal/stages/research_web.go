package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/tools"
	"github.com/basket/llamia/internal/workflow"
)

// ResearchWebStage runs one web search per invocation, draining the query
// queue across invocations. It always sets a routing hint so the workflow
// resumes where the detour started.
type ResearchWebStage struct {
	deps Deps
}

// resolveReturnAfterWeb picks the stage the workflow resumes at once the
// queue is drained. An invalid return target falls back to the planner for
// tasks and chat otherwise.
func resolveReturnAfterWeb(st *state.State) string {
	if stage, ok := workflow.ParseStage(st.ReturnAfterWeb); ok {
		return string(stage)
	}
	if st.Mode == state.ModeTask && st.Goal != "" {
		return string(workflow.StagePlanner)
	}
	return string(workflow.StageChat)
}

func (s *ResearchWebStage) Run(ctx context.Context, st *state.State) error {
	query := strings.TrimSpace(st.ResearchQuery)
	if query == "" && len(st.WebQueue) > 0 {
		query = strings.TrimSpace(st.WebQueue[0])
		st.WebQueue = st.WebQueue[1:]
	}
	if query == "" {
		st.NextAgent = resolveReturnAfterWeb(st)
		st.Log("[research_web] no query; resuming workflow")
		return nil
	}

	if s.deps.Search == nil || !s.deps.Search.Available() {
		st.ResearchQuery = ""
		st.NextAgent = resolveReturnAfterWeb(st)
		msg := "[web_search results] provider unavailable; no results for query " + fmt.Sprintf("%q", query)
		st.ResearchNotes = msg
		st.AddMessage(state.RoleSystem, msg, "research_web")
		st.Log("[research_web] provider unavailable")
		return nil
	}

	if st.WebSearchCount >= s.deps.webSearchLimit() {
		st.ResearchQuery = ""
		st.WebQueue = nil
		st.NextAgent = resolveReturnAfterWeb(st)
		st.Log(fmt.Sprintf("[research_web] search limit %d reached; resuming", s.deps.webSearchLimit()))
		return nil
	}

	results, err := s.deps.Search.Search(ctx, query)
	if err != nil {
		return fmt.Errorf("web search %q: %w", query, err)
	}
	st.WebSearchCount++

	notes := fmt.Sprintf("[web_search results] top_k=%d query=%q\n%s",
		len(results), query, tools.FormatResults(query, results))
	st.ResearchNotes = notes
	st.WebResults = notes
	st.AddMessage(state.RoleSystem, notes, "research_web")
	st.Log(fmt.Sprintf("[research_web] query=%q results=%d", query, len(results)))

	if len(st.WebQueue) > 0 {
		st.ResearchQuery = st.WebQueue[0]
		st.WebQueue = st.WebQueue[1:]
		st.NextAgent = string(workflow.StageResearchWeb)
		return nil
	}

	st.ResearchQuery = ""
	st.NextAgent = resolveReturnAfterWeb(st)
	return nil
}
