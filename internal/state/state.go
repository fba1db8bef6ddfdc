// Package state defines the shared mutable record passed between workflow
// stages, together with the bounded history buffers that keep its append-only
// fields from growing without limit.
package state

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Mode is the session's high-level operating mode.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeTask Mode = "task"
)

// StepStatus tracks a plan step's progress.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
)

// ApplyMode controls how a code patch is written to the workspace.
type ApplyMode string

const (
	ApplyOverwrite ApplyMode = "overwrite"
	ApplyAppend    ApplyMode = "append"
)

// Message is one conversation entry. Stage records which workflow stage
// produced it (empty for direct user input).
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Stage   string `json:"stage,omitempty"`
}

// PlanStep is one step of the current task plan. Identity is the ID; the
// planner never emits two steps with the same ID within one plan.
type PlanStep struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Status      StepStatus `json:"status"`
}

// CodePatch is a full-file write produced by the coder stage. Once applied it
// becomes an immutable history record.
type CodePatch struct {
	FilePath  string    `json:"file_path"`
	Content   string    `json:"content"`
	ApplyMode ApplyMode `json:"apply_mode"`
}

// ExecRequest asks the executor to run commands in a workspace directory.
// It is transient: produced by one stage, consumed and cleared by the
// executor.
type ExecRequest struct {
	Workdir  string   `json:"workdir"`
	Commands []string `json:"commands"`
}

// ExecResult is the outcome of one executed command.
type ExecResult struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// Caps configures the bounded buffer capacities of a State.
type Caps struct {
	Messages    int `yaml:"max_messages"`
	Trace       int `yaml:"max_trace_entries"`
	ExecResults int `yaml:"max_exec_results"`
	Patches     int `yaml:"max_patches"`
}

// DefaultCaps are the capacities used when a field is zero.
var DefaultCaps = Caps{
	Messages:    100,
	Trace:       1000,
	ExecResults: 100,
	Patches:     50,
}

func (c Caps) withDefaults() Caps {
	if c.Messages <= 0 {
		c.Messages = DefaultCaps.Messages
	}
	if c.Trace <= 0 {
		c.Trace = DefaultCaps.Trace
	}
	if c.ExecResults <= 0 {
		c.ExecResults = DefaultCaps.ExecResults
	}
	if c.Patches <= 0 {
		c.Patches = DefaultCaps.Patches
	}
	return c
}

// DefaultReturnAfterWeb is where the workflow resumes once web research
// drains its queue, unless a stage set ReturnAfterWeb explicitly.
const DefaultReturnAfterWeb = "planner"

// State is the single shared aggregate mutated across a session's lifetime.
// One State belongs to exactly one session; stages mutate it strictly
// sequentially, and a host that moves stage execution across goroutines must
// hand the record off by move, never share it.
//
// Append-only fields route through sanctioned mutators (AddMessage, Log,
// AddExecResult, AddAppliedPatch) so cap enforcement lives in one place.
// Everything else is read and written directly by stages.
type State struct {
	Messages Bounded[Message] `json:"messages"`

	// Turn accounting. RespondedTurnID <= TurnID always holds;
	// RespondedTurnID catches up when the chat stage answers.
	TurnID          int `json:"turn_id"`
	RespondedTurnID int `json:"responded_turn_id"`

	Mode Mode   `json:"mode"`
	Goal string `json:"goal,omitempty"`

	Plan []PlanStep `json:"plan"`

	PendingPatches []CodePatch        `json:"pending_patches"`
	AppliedPatches Bounded[CodePatch] `json:"applied_patches"`

	ResearchQuery string `json:"research_query,omitempty"`
	ResearchNotes string `json:"research_notes,omitempty"`

	WebQueue       []string `json:"web_queue"`
	WebResults     string   `json:"web_results,omitempty"`
	ReturnAfterWeb string   `json:"return_after_web"`
	WebSearchCount int      `json:"web_search_count"`

	ExecRequest *ExecRequest `json:"exec_request,omitempty"`

	ExecResults Bounded[ExecResult] `json:"exec_results"`
	// LastExecResults holds only the most recent executor run and is replaced
	// wholesale each cycle, never appended.
	LastExecResults []ExecResult `json:"last_exec_results"`

	// NextAgent, when set by a stage, overrides table-based routing on the
	// next router call. The driver clears it once the hint is consumed.
	NextAgent string `json:"next_agent,omitempty"`
	LoopCount int    `json:"loop_count"`

	FixInstructions string `json:"fix_instructions,omitempty"`
	ExpectedFailure bool   `json:"expected_failure"`

	Trace Bounded[string] `json:"trace"`

	caps       Caps
	onTruncate func(field string, evicted int)
}

// New creates a session State with all-default fields and the given buffer
// capacities (zero fields take DefaultCaps).
func New(caps Caps) *State {
	caps = caps.withDefaults()
	return &State{
		Messages:        NewBounded[Message](caps.Messages),
		RespondedTurnID: -1,
		Mode:            ModeChat,
		AppliedPatches:  NewBounded[CodePatch](caps.Patches),
		ReturnAfterWeb:  DefaultReturnAfterWeb,
		ExecResults:     NewBounded[ExecResult](caps.ExecResults),
		Trace:           NewBounded[string](caps.Trace),
		caps:            caps,
	}
}

// OnTruncate registers a hook invoked whenever a bounded buffer evicts
// entries. Used by the driver to surface truncation through logs, the event
// bus and metrics. The hook must not mutate the State.
func (s *State) OnTruncate(fn func(field string, evicted int)) {
	s.onTruncate = fn
}

func (s *State) notifyTruncate(field string, evicted int) {
	if evicted > 0 && s.onTruncate != nil {
		s.onTruncate(field, evicted)
	}
}

// AddMessage appends a conversation message. The only sanctioned way to
// mutate Messages.
func (s *State) AddMessage(role Role, content, stage string) {
	s.notifyTruncate("messages", s.Messages.Append(Message{Role: role, Content: content, Stage: stage}))
}

// Log appends a free-text debug line to the trace buffer.
func (s *State) Log(text string) {
	s.notifyTruncate("trace", s.Trace.Append(text))
}

// AddExecResult appends to the capped execution history. LastExecResults is
// managed separately by the executor (replace-on-write).
func (s *State) AddExecResult(r ExecResult) {
	s.notifyTruncate("exec_results", s.ExecResults.Append(r))
}

// AddAppliedPatch records a patch as applied. Callers must have removed it
// from PendingPatches first; a patch moves pending -> applied exactly once.
func (s *State) AddAppliedPatch(p CodePatch) {
	s.notifyTruncate("applied_patches", s.AppliedPatches.Append(p))
}

// LatestUserText returns the content of the most recent user message,
// or "" if there is none.
func (s *State) LatestUserText() string {
	items := s.Messages.Items()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Role == RoleUser {
			return items[i].Content
		}
	}
	return ""
}

// BeginTask switches the session into task mode for the given goal and resets
// the per-task fields (plan, patches, fix instructions, web throttle).
func (s *State) BeginTask(goal string) {
	s.Mode = ModeTask
	s.Goal = goal
	s.Plan = nil
	s.PendingPatches = nil
	s.ExecRequest = nil
	s.LastExecResults = nil
	s.FixInstructions = ""
	s.ExpectedFailure = false
	s.WebSearchCount = 0
	s.WebQueue = nil
	s.WebResults = ""
	s.ReturnAfterWeb = DefaultReturnAfterWeb
	s.LoopCount = 0
}

// Clone returns a deep copy. Supports move/handoff semantics when a host
// transfers the record across stage invocations, and replay in tests.
// The truncation hook is not carried over.
func (s *State) Clone() *State {
	out := New(s.caps)
	out.Messages.Replace(s.Messages.Items())
	out.TurnID = s.TurnID
	out.RespondedTurnID = s.RespondedTurnID
	out.Mode = s.Mode
	out.Goal = s.Goal
	out.Plan = append([]PlanStep(nil), s.Plan...)
	out.PendingPatches = append([]CodePatch(nil), s.PendingPatches...)
	out.AppliedPatches.Replace(s.AppliedPatches.Items())
	out.ResearchQuery = s.ResearchQuery
	out.ResearchNotes = s.ResearchNotes
	out.WebQueue = append([]string(nil), s.WebQueue...)
	out.WebResults = s.WebResults
	out.ReturnAfterWeb = s.ReturnAfterWeb
	out.WebSearchCount = s.WebSearchCount
	if s.ExecRequest != nil {
		req := *s.ExecRequest
		req.Commands = append([]string(nil), s.ExecRequest.Commands...)
		out.ExecRequest = &req
	}
	out.ExecResults.Replace(s.ExecResults.Items())
	out.LastExecResults = append([]ExecResult(nil), s.LastExecResults...)
	out.NextAgent = s.NextAgent
	out.LoopCount = s.LoopCount
	out.FixInstructions = s.FixInstructions
	out.ExpectedFailure = s.ExpectedFailure
	out.Trace.Replace(s.Trace.Items())
	return out
}
