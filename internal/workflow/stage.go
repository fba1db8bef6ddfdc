// Package workflow contains the session control loop: the closed set of stage
// identifiers, the pure routing functions that pick the next stage, and the
// driver that sequences stage execution over a shared state record.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/basket/llamia/internal/state"
)

// Stage identifies one named unit of work in the workflow. The set is closed;
// routing rejects anything outside it.
type Stage string

const (
	StageIntent      Stage = "intent"
	StageChat        Stage = "chat"
	StagePlanner     Stage = "planner"
	StageCoder       Stage = "coder"
	StageExecutor    Stage = "executor"
	StageCritic      Stage = "critic"
	StageResearch    Stage = "research"
	StageResearchWeb Stage = "research_web"
)

var allStages = map[Stage]struct{}{
	StageIntent:      {},
	StageChat:        {},
	StagePlanner:     {},
	StageCoder:       {},
	StageExecutor:    {},
	StageCritic:      {},
	StageResearch:    {},
	StageResearchWeb: {},
}

// Valid reports whether s is a known stage identifier.
func (s Stage) Valid() bool {
	_, ok := allStages[s]
	return ok
}

// ParseStage converts a free-form name (e.g. a NextAgent hint from the state
// record) into a Stage. Unknown names are rejected, not silently routed.
func ParseStage(name string) (Stage, bool) {
	s := Stage(name)
	return s, s.Valid()
}

// Handler is the contract every stage collaborator satisfies: consume the
// current state record, perform its external work, and mutate the record in
// place. Routing hints are expressed by setting state.NextAgent.
type Handler interface {
	Run(ctx context.Context, st *state.State) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, st *state.State) error

func (f HandlerFunc) Run(ctx context.Context, st *state.State) error { return f(ctx, st) }

// Registry maps stage identifiers to their handlers. A driver refuses to run
// until every stage it can route to has a handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Stage]Handler
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Stage]Handler)}
}

// Register binds a handler to a stage. Unknown stages and double registration
// are errors.
func (r *Registry) Register(stage Stage, h Handler) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	if h == nil {
		return fmt.Errorf("nil handler for stage %q", stage)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[stage]; exists {
		return fmt.Errorf("stage %q already registered", stage)
	}
	r.handlers[stage] = h
	return nil
}

// Handler returns the handler for a stage.
func (r *Registry) Handler(stage Stage) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}

// Missing returns the stages that have no handler yet, sorted by name.
func (r *Registry) Missing() []Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []Stage
	for stage := range allStages {
		if _, ok := r.handlers[stage]; !ok {
			missing = append(missing, stage)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}
