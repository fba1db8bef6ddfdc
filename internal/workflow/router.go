package workflow

import "github.com/basket/llamia/internal/state"

// RouterConfig carries the ceilings the routers consult. Zero values take the
// package defaults.
type RouterConfig struct {
	// MaxLoops is the driver cycle ceiling; the critic exit also treats it as
	// its stop condition.
	MaxLoops int
	// WebSearchLimit caps web searches per task.
	WebSearchLimit int
}

const (
	DefaultMaxLoops       = 16
	DefaultWebSearchLimit = 5
)

func (c RouterConfig) withDefaults() RouterConfig {
	if c.MaxLoops <= 0 {
		c.MaxLoops = DefaultMaxLoops
	}
	if c.WebSearchLimit <= 0 {
		c.WebSearchLimit = DefaultWebSearchLimit
	}
	return c
}

// The routers below are the workflow's only branching logic. Each one is
// total: any state shape, including nil, yields a valid stage, defaulting to
// the safest terminal-leaning choice rather than failing. A workflow stuck
// mid-task is worse than one that degrades to a conversational response.
//
// An explicit NextAgent hint set by a stage always wins over the decision
// table, provided it names a stage the exit point can reach.

// override returns the NextAgent hint if it parses to one of the allowed
// stages for this exit point.
func override(st *state.State, allowed ...Stage) (Stage, bool) {
	if st == nil || st.NextAgent == "" {
		return "", false
	}
	hint, ok := ParseStage(st.NextAgent)
	if !ok {
		return "", false
	}
	for _, a := range allowed {
		if hint == a {
			return hint, true
		}
	}
	return "", false
}

// RouteIntent decides where a turn goes after intent classification.
func RouteIntent(st *state.State) Stage {
	if st == nil {
		return StageChat
	}
	if next, ok := override(st, StageChat, StagePlanner, StageResearch, StageResearchWeb); ok {
		return next
	}
	if st.Mode == state.ModeTask && st.Goal != "" {
		return StagePlanner
	}
	return StageChat
}

// RoutePlanner decides where to go once the planner has run.
func RoutePlanner(st *state.State) Stage {
	if st == nil {
		return StageCoder
	}
	if next, ok := override(st, StageCoder, StageResearch, StageResearchWeb); ok {
		return next
	}
	if planFinished(st.Plan) && st.Mode != state.ModeTask {
		return StageChat
	}
	return StageCoder
}

func planFinished(plan []state.PlanStep) bool {
	if len(plan) == 0 {
		return true
	}
	for _, step := range plan {
		switch step.Status {
		case state.StepDone, state.StepSkipped:
		default:
			return false
		}
	}
	return true
}

// RouteResearch decides where to go after local retrieval.
func RouteResearch(st *state.State) Stage {
	if st == nil {
		return StageChat
	}
	if next, ok := override(st, StageChat, StagePlanner); ok {
		return next
	}
	if st.Mode == state.ModeTask && st.Goal != "" {
		return StagePlanner
	}
	return StageChat
}

// RouteResearchWeb decides whether web research keeps draining its queue or
// resumes the workflow. The throttle ceiling stops runaway external calls.
func RouteResearchWeb(st *state.State, cfg RouterConfig) Stage {
	cfg = cfg.withDefaults()
	if st == nil {
		return StageExecutor
	}
	if next, ok := override(st, StageCoder, StagePlanner, StageChat, StageResearch, StageResearchWeb, StageExecutor); ok {
		return next
	}
	if len(st.WebQueue) > 0 && st.WebSearchCount < cfg.WebSearchLimit {
		return StageResearchWeb
	}
	if resume, ok := ParseStage(st.ReturnAfterWeb); ok {
		return resume
	}
	return StageExecutor
}

// RouteCoder decides where to go once the coder has run.
func RouteCoder(st *state.State) Stage {
	if st == nil {
		return StageExecutor
	}
	if next, ok := override(st, StageCoder, StageResearch, StageResearchWeb, StageExecutor, StageCritic); ok {
		return next
	}
	if len(st.PendingPatches) > 0 || st.ExecRequest != nil {
		return StageExecutor
	}
	return StageCritic
}

// RouteExecutor always hands results to the critic.
func RouteExecutor(st *state.State) Stage {
	if st == nil {
		return StageCritic
	}
	if next, ok := override(st, StageCritic, StageChat); ok {
		return next
	}
	return StageCritic
}

// RouteCritic decides whether the fix loop continues or the turn finishes.
func RouteCritic(st *state.State, cfg RouterConfig) Stage {
	cfg = cfg.withDefaults()
	if st == nil {
		return StageChat
	}
	if next, ok := override(st, StageChat, StagePlanner, StageCoder, StageResearch, StageResearchWeb); ok {
		return next
	}
	if st.ExpectedFailure || st.LoopCount >= cfg.MaxLoops {
		return StageChat
	}
	if st.FixInstructions != "" {
		return StageCoder
	}
	return StageChat
}

// Route dispatches to the per-stage decision function for the given exit
// point. Exits with no decision table (chat is terminal) fall back to chat.
func Route(from Stage, st *state.State, cfg RouterConfig) Stage {
	switch from {
	case StageIntent:
		return RouteIntent(st)
	case StagePlanner:
		return RoutePlanner(st)
	case StageResearch:
		return RouteResearch(st)
	case StageResearchWeb:
		return RouteResearchWeb(st, cfg)
	case StageCoder:
		return RouteCoder(st)
	case StageExecutor:
		return RouteExecutor(st)
	case StageCritic:
		return RouteCritic(st, cfg)
	default:
		return StageChat
	}
}
