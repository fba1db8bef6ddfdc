package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/workflow"
)

// PlannerStage turns the task goal into a short linear plan. Output is
// schema-validated JSON; a goal that smells like it needs external facts
// detours through web research first.
type PlannerStage struct {
	deps Deps
}

const plannerSystemPrompt = `You are a planning agent for an autonomous developer assistant.

Your job:
- Read the user's HIGH-LEVEL GOAL.
- Produce a small, linear plan of 3-7 steps MAX.
- Each step should be short, clear, and actionable.
- Do NOT write any code here; just describe the steps.

You MUST respond with STRICT JSON ONLY in this format:

{
  "plan": [
    {"id": 1, "description": "First step description"},
    {"id": 2, "description": "Second step description"}
  ]
}
`

var planSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"plan": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "integer"},
					"description": {"type": "string"}
				},
				"required": ["description"]
			}
		}
	},
	"required": ["plan"]
}`)

var webSearchTriggers = []string{
	"look up", "lookup", "search for", "search the web",
	"find documentation", "docs", "documentation",
	"api", "parameter", "query parameter", "curl",
	"how do i", "how to", "what is the correct",
	"latest", "current", "version", "release notes",
}

func needsWebSearch(goal string) bool {
	t := strings.ToLower(strings.TrimSpace(goal))
	if t == "" {
		return false
	}
	for _, trigger := range webSearchTriggers {
		if strings.Contains(t, trigger) {
			return true
		}
	}
	return false
}

func (s *PlannerStage) Run(ctx context.Context, st *state.State) error {
	if st.Mode != state.ModeTask || st.Goal == "" {
		st.Log("[planner] no goal in task mode; nothing to plan")
		return nil
	}

	// Detour through web research before planning when the goal needs
	// external facts and none were fetched yet.
	if s.deps.Search != nil && s.deps.Search.Available() &&
		strings.TrimSpace(st.ResearchNotes) == "" && needsWebSearch(st.Goal) {
		st.ResearchQuery = strings.TrimSpace(st.Goal)
		st.ReturnAfterWeb = string(workflow.StagePlanner)
		st.NextAgent = string(workflow.StageResearchWeb)
		st.AddMessage(state.RoleSystem,
			fmt.Sprintf("[planner] requesting web search for goal: %q", st.ResearchQuery), "planner")
		st.Log(fmt.Sprintf("[planner] routed to research_web query=%q", st.ResearchQuery))
		return nil
	}

	prompt := "Goal: " + st.Goal
	if notes := strings.TrimSpace(st.ResearchNotes); notes != "" {
		prompt += "\n\nWeb research notes:\n" + notes + "\n"
	}

	raw, err := s.deps.LLM.Chat(ctx, "planner", []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return fmt.Errorf("planner generate: %w", err)
	}

	st.Plan = parsePlan(ctx, s.deps, raw, st)
	st.NextAgent = "" // don't stick routing hints
	st.Log(fmt.Sprintf("[planner] created %d plan steps", len(st.Plan)))
	return nil
}

// parsePlan validates the model output against the plan schema, asking the
// model to repair invalid responses, and falls back to a single catch-all
// step rather than failing the stage.
func parsePlan(ctx context.Context, deps Deps, raw string, st *state.State) []state.PlanStep {
	fallback := []state.PlanStep{
		{ID: 1, Description: "Attempt to solve goal: " + st.Goal, Status: state.StepPending},
	}

	validator, err := llm.NewValidator(planSchema, 1, false)
	if err != nil {
		st.Log("[planner] schema compile error: " + err.Error())
		return fallback
	}
	validJSON, _, valMsg, err := llm.ValidateAndRepair(ctx, deps.LLM, "planner", validator, raw)
	if err != nil || validJSON == "" {
		if valMsg == "" && err != nil {
			valMsg = err.Error()
		}
		st.Log("[planner] plan validation failed: " + valMsg)
		return fallback
	}

	var payload struct {
		Plan []struct {
			ID          int    `json:"id"`
			Description string `json:"description"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(validJSON), &payload); err != nil {
		st.Log("[planner] plan decode error: " + err.Error())
		return fallback
	}

	var steps []state.PlanStep
	for i, raw := range payload.Plan {
		desc := strings.TrimSpace(raw.Description)
		if desc == "" {
			continue
		}
		id := raw.ID
		if id == 0 {
			id = i + 1
		}
		steps = append(steps, state.PlanStep{ID: id, Description: desc, Status: state.StepPending})
	}
	if len(steps) == 0 {
		return fallback
	}
	return steps
}
