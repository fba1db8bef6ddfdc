package bus

// Workflow event topics published by the driver.
const (
	TopicStageEnter = "stage.enter"
	TopicStageExit  = "stage.exit"
	TopicStageError = "stage.error"

	TopicRouteDecided = "route.decided"

	TopicLoopCeiling   = "loop.ceiling"
	TopicTurnCompleted = "turn.completed"

	TopicStateTruncated = "state.truncated"
)

// StageEvent is published when a stage starts, finishes, or fails.
type StageEvent struct {
	SessionID string // Session owning the state record
	TurnID    int    // Conversation turn
	Stage     string // Stage name
	Cycle     int    // Driver cycle number (state.loop_count at enter)
	Error     string // Failure description (stage.error only)
}

// RouteEvent is published after each routing decision.
type RouteEvent struct {
	SessionID string // Session owning the state record
	From      string // Stage that just finished
	Choice    string // Stage chosen by the router
	Override  bool   // True when an explicit next_agent hint won
}

// TruncationEvent is published when a bounded state buffer evicts entries.
type TruncationEvent struct {
	SessionID string // Session owning the state record
	Field     string // State field whose buffer was truncated
	Evicted   int    // Number of entries dropped
}

// TurnEvent is published when a driver turn reaches the terminal stage.
type TurnEvent struct {
	SessionID string // Session owning the state record
	TurnID    int    // Conversation turn
	Cycles    int    // Stage invocations consumed by the turn
	Forced    bool   // True when the loop ceiling forced termination
}
