package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/llamia/internal/bus"
	otelpkg "github.com/basket/llamia/internal/otel"
	"github.com/basket/llamia/internal/state"
)

// Driver is the outer control loop of one session: run stage, route, run next
// stage, until the turn reaches the terminal chat stage or the loop ceiling
// forces it there. The driver is the only component that recovers
// collaborator failures; it never exposes an error to its caller.
type Driver struct {
	registry  *Registry
	logger    *slog.Logger
	bus       *bus.Bus
	metrics   *otelpkg.Metrics
	cfg       RouterConfig
	sessionID string
}

// NewDriver creates a Driver. bus and metrics may be nil; logger nil falls
// back to slog.Default().
func NewDriver(registry *Registry, logger *slog.Logger, b *bus.Bus, metrics *otelpkg.Metrics, cfg RouterConfig, sessionID string) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		registry:  registry,
		logger:    logger,
		bus:       b,
		metrics:   metrics,
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
	}
}

// RunTurn drives one conversation turn over the given state record, starting
// at the intent stage. It always terminates: either a router reaches the chat
// stage or the cycle ceiling forces the transition. The final stage is
// returned for observability; it is always StageChat.
func (d *Driver) RunTurn(ctx context.Context, st *state.State) Stage {
	if st == nil {
		st = state.New(state.Caps{})
	}
	if missing := d.registry.Missing(); len(missing) > 0 {
		d.logger.Error("driver refusing turn, stages unregistered", "missing", fmt.Sprint(missing))
		st.Log(fmt.Sprintf("[driver] unregistered stages %v -> aborting turn", missing))
		return StageChat
	}

	st.OnTruncate(func(field string, evicted int) {
		d.logger.Warn("state buffer truncated", "field", field, "evicted", evicted, "session_id", d.sessionID)
		if d.bus != nil {
			d.bus.Publish(bus.TopicStateTruncated, bus.TruncationEvent{
				SessionID: d.sessionID,
				Field:     field,
				Evicted:   evicted,
			})
		}
		if d.metrics != nil {
			d.metrics.BufferTruncations.Add(ctx, int64(evicted),
				metric.WithAttributes(attribute.String("field", field)))
		}
	})

	// The cycle counter guards a single turn; a fresh turn starts at zero.
	st.LoopCount = 0
	forced := false
	current := StageIntent

	for {
		// The ceiling check is the system's only deadlock guard and must be
		// unconditional: no state shape may bypass it.
		if st.LoopCount >= d.cfg.MaxLoops && current != StageChat {
			forced = true
			st.Log(fmt.Sprintf("[driver] loop ceiling reached (%d/%d) -> chat", st.LoopCount, d.cfg.MaxLoops))
			d.logger.Warn("loop ceiling reached, forcing chat", "cycles", st.LoopCount, "max", d.cfg.MaxLoops, "session_id", d.sessionID)
			if d.bus != nil {
				d.bus.Publish(bus.TopicLoopCeiling, bus.TurnEvent{
					SessionID: d.sessionID,
					TurnID:    st.TurnID,
					Cycles:    st.LoopCount,
					Forced:    true,
				})
			}
			if d.metrics != nil {
				d.metrics.ForcedStops.Add(ctx, 1)
			}
			st.NextAgent = ""
			current = StageChat
		}

		err := d.runStage(ctx, current, st)
		st.LoopCount++
		if d.metrics != nil {
			d.metrics.LoopCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(current))))
		}

		if err != nil {
			d.traceEvent(st, "node_error", current, map[string]any{"error": err.Error()})
			d.logger.Error("stage failed", "stage", string(current), "error", err, "session_id", d.sessionID)
			if d.bus != nil {
				d.bus.Publish(bus.TopicStageError, bus.StageEvent{
					SessionID: d.sessionID,
					TurnID:    st.TurnID,
					Stage:     string(current),
					Cycle:     st.LoopCount,
					Error:     err.Error(),
				})
			}
			if d.metrics != nil {
				d.metrics.StageErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(current))))
			}
			if current == StageChat {
				// Terminal stage failed; partial progress stays on the record.
				break
			}
			// Surface the failure conversationally instead of looping.
			st.NextAgent = ""
			current = StageChat
			continue
		}

		if current == StageChat {
			break
		}
		current = d.route(current, st)
	}

	if d.bus != nil {
		d.bus.Publish(bus.TopicTurnCompleted, bus.TurnEvent{
			SessionID: d.sessionID,
			TurnID:    st.TurnID,
			Cycles:    st.LoopCount,
			Forced:    forced,
		})
	}
	return StageChat
}

func (d *Driver) runStage(ctx context.Context, stage Stage, st *state.State) (err error) {
	handler, ok := d.registry.Handler(stage)
	if !ok {
		return fmt.Errorf("no handler registered for stage %q", stage)
	}

	before := takeSnapshot(st)
	d.traceEvent(st, "node_enter", stage, map[string]any{"snap": before})
	if d.bus != nil {
		d.bus.Publish(bus.TopicStageEnter, bus.StageEvent{
			SessionID: d.sessionID,
			TurnID:    st.TurnID,
			Stage:     string(stage),
			Cycle:     st.LoopCount,
		})
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %q panicked: %v", stage, r)
		}
		if d.metrics != nil {
			d.metrics.StageDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("stage", string(stage))))
		}
	}()

	if err := handler.Run(ctx, st); err != nil {
		return fmt.Errorf("stage %q: %w", stage, err)
	}

	// Turn accounting invariant; a misbehaving collaborator must not be able
	// to break it for everyone downstream.
	if st.RespondedTurnID > st.TurnID {
		d.logger.Warn("stage advanced responded_turn_id past turn_id, clamping",
			"stage", string(stage), "responded", st.RespondedTurnID, "turn", st.TurnID)
		st.RespondedTurnID = st.TurnID
	}

	after := takeSnapshot(st)
	d.traceEvent(st, "node_exit", stage, map[string]any{
		"snap": after,
		"delta": map[string]int{
			"messages":        after.Messages - before.Messages,
			"plan":            after.Plan - before.Plan,
			"applied_patches": after.AppliedPatches - before.AppliedPatches,
			"exec_results":    after.ExecResults - before.ExecResults,
		},
	})
	if d.bus != nil {
		d.bus.Publish(bus.TopicStageExit, bus.StageEvent{
			SessionID: d.sessionID,
			TurnID:    st.TurnID,
			Stage:     string(stage),
			Cycle:     st.LoopCount,
		})
	}
	return nil
}

func (d *Driver) route(from Stage, st *state.State) Stage {
	hint, hintValid := ParseStage(st.NextAgent)
	if st.NextAgent != "" && !hintValid {
		d.logger.Warn("ignoring unknown next_agent hint", "hint", st.NextAgent, "stage", string(from))
		st.Log(fmt.Sprintf("[driver] unknown next_agent %q ignored", st.NextAgent))
	}

	choice := Route(from, st, d.cfg)
	overrode := hintValid && hint == choice
	st.NextAgent = "" // hint consumed, do not let it stick across exits

	d.traceEvent(st, "route", from, map[string]any{"choice": string(choice), "override": overrode})
	if d.bus != nil {
		d.bus.Publish(bus.TopicRouteDecided, bus.RouteEvent{
			SessionID: d.sessionID,
			From:      string(from),
			Choice:    string(choice),
			Override:  overrode,
		})
	}
	return choice
}

// snapshot is a compact view of the record used in trace lines, mirroring
// what a human debugging a stuck session wants to see first.
type snapshot struct {
	Mode            string `json:"mode"`
	Goal            string `json:"goal,omitempty"`
	Messages        int    `json:"messages"`
	Plan            int    `json:"plan"`
	PendingPatches  int    `json:"pending_patches"`
	AppliedPatches  int    `json:"applied_patches"`
	ExecResults     int    `json:"exec_results"`
	WebQueue        int    `json:"web_queue"`
	WebSearchCount  int    `json:"web_search_count"`
	HasFix          bool   `json:"has_fix_instructions"`
	HasExecRequest  bool   `json:"has_exec_request"`
	ExpectedFailure bool   `json:"expected_failure"`
}

func takeSnapshot(st *state.State) snapshot {
	return snapshot{
		Mode:            string(st.Mode),
		Goal:            st.Goal,
		Messages:        st.Messages.Len(),
		Plan:            len(st.Plan),
		PendingPatches:  len(st.PendingPatches),
		AppliedPatches:  st.AppliedPatches.Len(),
		ExecResults:     st.ExecResults.Len(),
		WebQueue:        len(st.WebQueue),
		WebSearchCount:  st.WebSearchCount,
		HasFix:          st.FixInstructions != "",
		HasExecRequest:  st.ExecRequest != nil,
		ExpectedFailure: st.ExpectedFailure,
	}
}

// traceEvent stores a single grep-friendly JSON line in the state trace.
func (d *Driver) traceEvent(st *state.State, event string, stage Stage, fields map[string]any) {
	payload := map[string]any{"event": event, "node": string(stage)}
	for k, v := range fields {
		payload[k] = v
	}
	line, err := json.Marshal(payload)
	if err != nil {
		st.Log(fmt.Sprintf("[trace] {\"event\":%q,\"node\":%q}", event, stage))
		return
	}
	st.Log("[trace] " + string(line))
}
