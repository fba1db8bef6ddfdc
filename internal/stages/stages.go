// Package stages implements the eight workflow collaborators. Each stage
// consumes the shared state record, does its external work through the deps
// it was given, and mutates the record in place; routing stays in the
// workflow package.
package stages

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/tools"
	"github.com/basket/llamia/internal/workflow"
)

// Deps bundles everything the stages touch outside the state record.
type Deps struct {
	LLM       llm.Client
	Search    tools.SearchProvider
	Runner    *tools.Runner
	Workspace *tools.Workspace
	Logger    *slog.Logger

	// WebSearchLimit caps research_web queries per task. Zero takes the
	// router default.
	WebSearchLimit int
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) webSearchLimit() int {
	if d.WebSearchLimit <= 0 {
		return workflow.DefaultWebSearchLimit
	}
	return d.WebSearchLimit
}

// RegisterAll binds every stage to the registry.
func RegisterAll(reg *workflow.Registry, deps Deps) error {
	handlers := map[workflow.Stage]workflow.Handler{
		workflow.StageIntent:      &IntentStage{deps},
		workflow.StageChat:        &ChatStage{deps},
		workflow.StagePlanner:     &PlannerStage{deps},
		workflow.StageCoder:       &CoderStage{deps},
		workflow.StageExecutor:    &ExecutorStage{deps},
		workflow.StageCritic:      &CriticStage{deps},
		workflow.StageResearch:    &ResearchStage{deps},
		workflow.StageResearchWeb: &ResearchWebStage{deps},
	}
	for stage, h := range handlers {
		if err := reg.Register(stage, h); err != nil {
			return fmt.Errorf("register %s: %w", stage, err)
		}
	}
	return nil
}

// tail returns the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// stripPrefixFold removes prefix from s case-insensitively and reports
// whether it was present.
func stripPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return strings.TrimSpace(s[len(prefix):]), true
	}
	return s, false
}

// lastUserIndex returns the index of the most recent user message, or -1.
func lastUserIndex(msgs []state.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == state.RoleUser {
			return i
		}
	}
	return -1
}

// stageRanThisTurn reports whether a system message from the given stage with
// the given content prefix appeared after the latest user message.
func stageRanThisTurn(st *state.State, stage, contentPrefix string) bool {
	msgs := st.Messages.Items()
	ui := lastUserIndex(msgs)
	if ui < 0 {
		return false
	}
	for _, m := range msgs[ui+1:] {
		if m.Role == state.RoleSystem && m.Stage == stage &&
			strings.HasPrefix(strings.TrimSpace(m.Content), contentPrefix) {
			return true
		}
	}
	return false
}
