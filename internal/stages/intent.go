package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/workflow"
)

// IntentStage classifies the latest user message: explicit web search,
// explicit repo research, explicit or heuristic task, or plain chat. It is
// deterministic; no model call happens here.
type IntentStage struct {
	deps Deps
}

var greetings = map[string]struct{}{
	"hi": {}, "hey": {}, "hello": {}, "yo": {}, "sup": {},
}

var taskVerbKeywords = []string{
	"write a ", "write an ", "write the ",
	"write some code", "write code", "write a script",
	"build a ", "build an ", "build the ",
	"create a ", "create an ",
	"generate code", "implement ",
	"make a script", "make a program",
	"fix this code", "fix the code", "refactor this",
}

var taskObjectKeywords = []string{
	"script", "program", "function", "module", "tool", "bot", "cli",
	"python script", "python program",
}

func looksLikeTask(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if _, greeting := greetings[lower]; greeting {
		return false
	}
	for _, kw := range taskVerbKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if strings.Contains(lower, "python") {
		for _, obj := range taskObjectKeywords {
			if strings.Contains(lower, obj) {
				return true
			}
		}
	}
	return false
}

func (s *IntentStage) Run(_ context.Context, st *state.State) error {
	msgs := st.Messages.Items()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != state.RoleUser {
		st.Mode = state.ModeChat
		st.Goal = ""
		st.ResearchQuery = ""
		st.NextAgent = string(workflow.StageChat)
		st.Log("[intent] no fresh user message -> chat")
		return nil
	}

	text := strings.TrimSpace(msgs[len(msgs)-1].Content)

	// Explicit web search has highest priority.
	for _, prefix := range []string{"web:", "search:"} {
		if q, ok := stripPrefixFold(text, prefix); ok {
			st.Mode = state.ModeChat // prevent stale task mode
			st.Goal = ""
			st.ResearchQuery = q
			st.ReturnAfterWeb = string(workflow.StageChat)
			st.NextAgent = string(workflow.StageResearchWeb)
			st.Log(fmt.Sprintf("[intent] web search query=%q", q))
			return nil
		}
	}

	// Explicit repo research.
	for _, prefix := range []string{"research:", "reindex:"} {
		if _, ok := stripPrefixFold(text, prefix); ok {
			st.Mode = state.ModeChat
			st.Goal = ""
			st.ResearchQuery = text // research stage handles prefix stripping
			st.NextAgent = string(workflow.StageResearch)
			st.Log("[intent] repo research")
			return nil
		}
	}

	st.ResearchQuery = ""

	// Explicit task.
	for _, prefix := range []string{"task:", "task "} {
		if goal, ok := stripPrefixFold(text, prefix); ok {
			if goal == "" {
				goal = "(unspecified task goal)"
			}
			st.BeginTask(goal)
			st.NextAgent = string(workflow.StagePlanner)
			st.Log(fmt.Sprintf("[intent] task goal=%q", goal))
			return nil
		}
	}

	// Heuristic task.
	if looksLikeTask(text) {
		st.BeginTask(text)
		st.NextAgent = string(workflow.StagePlanner)
		st.Log(fmt.Sprintf("[intent] task (heuristic) goal=%q", text))
		return nil
	}

	st.Mode = state.ModeChat
	st.Goal = ""
	st.NextAgent = string(workflow.StageChat)
	st.Log("[intent] chat")
	return nil
}
