package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/tools"
)

// CoderStage asks the coder model for full-file patches plus an optional
// execution request. Patches are staged on the record as pending; the
// executor applies them. Unsafe commands never make it into the request.
type CoderStage struct {
	deps Deps
}

const coderSystemPrompt = `You are a coding agent for an autonomous developer assistant.

Your job:
- Read the GOAL, the PLAN and (when present) the FIX INSTRUCTIONS.
- Produce complete file contents for the workspace; no diffs, no fragments.
- Propose the commands that verify your work.

You MUST respond with STRICT JSON ONLY in this format:

{
  "patches": [
    {"file_path": "main.py", "content": "print('hi')\n", "apply_mode": "overwrite"}
  ],
  "exec": {
    "workdir": "workspace",
    "commands": ["python main.py"]
  }
}

Rules:
- file_path is relative to the workspace; never use absolute paths or "..".
- apply_mode is "overwrite" or "append".
- Only propose commands from: python, python3, pytest, ruff, mypy, git (read-only).
`

func (s *CoderStage) Run(ctx context.Context, st *state.State) error {
	if st.Mode != state.ModeTask || st.Goal == "" {
		st.Log("[coder] not in task mode or missing goal; skipping")
		return nil
	}

	raw, err := s.deps.LLM.Chat(ctx, "coder", s.buildPrompt(st))
	if err != nil {
		return fmt.Errorf("coder generate: %w", err)
	}

	jsonStr := llm.ExtractJSON(raw)
	if jsonStr == "" {
		// Retry once demanding strict JSON before giving up on the model.
		retry, retryErr := s.deps.LLM.Chat(ctx, "coder", []llm.Message{
			{Role: "system", Content: coderSystemPrompt},
			{Role: "user", Content: "Your previous response was not valid JSON. Respond again with STRICT JSON only."},
		})
		if retryErr == nil {
			jsonStr = llm.ExtractJSON(retry)
		}
	}

	if jsonStr == "" {
		// Deterministic fallback keeps the task flow alive.
		st.PendingPatches = []state.CodePatch{{
			FilePath:  "generated_script.py",
			Content:   "print('Hello from Llamia coder fallback')\n",
			ApplyMode: state.ApplyOverwrite,
		}}
		st.ExecRequest = &state.ExecRequest{Workdir: "workspace", Commands: []string{"python generated_script.py"}}
		st.FixInstructions = ""
		st.NextAgent = ""
		st.AddMessage(state.RoleSystem,
			"[coder] model produced no JSON; staged fallback script generated_script.py", "coder")
		st.Log("[coder] fallback patch staged")
		return nil
	}

	patches, execReq := parseCoderOutput(jsonStr)

	// Unsafe-only command sets degrade to displaying the first staged file.
	if execReq == nil && len(patches) > 0 {
		execReq = &state.ExecRequest{
			Workdir:  "workspace",
			Commands: []string{"cat " + patches[0].FilePath},
		}
	}

	st.PendingPatches = patches
	st.ExecRequest = execReq
	st.FixInstructions = ""
	st.NextAgent = ""

	var summary []string
	if len(patches) > 0 {
		summary = append(summary, "The coder staged the following files:")
		for _, p := range patches {
			summary = append(summary, fmt.Sprintf("- %s (%s)", p.FilePath, p.ApplyMode))
		}
	} else {
		summary = append(summary, "The coder staged no files.")
	}
	if execReq != nil && len(execReq.Commands) > 0 {
		summary = append(summary, "", "Commands to run:", "  (workdir: "+execReq.Workdir+")")
		for _, cmd := range execReq.Commands {
			summary = append(summary, "- "+cmd)
		}
	}
	st.AddMessage(state.RoleSystem, strings.Join(summary, "\n"), "coder")
	st.Log(fmt.Sprintf("[coder] staged %d patches", len(patches)))
	return nil
}

func (s *CoderStage) buildPrompt(st *state.State) []llm.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal:\n%s\n\nPlan:\n%s\n", st.Goal, formatPlan(st.Plan))

	if st.FixInstructions != "" {
		existing := uniqueFilesTail(st, 12)
		existingStr := "(none yet)"
		if len(existing) > 0 {
			var lines []string
			for _, fp := range existing {
				lines = append(lines, "- "+fp)
			}
			existingStr = strings.Join(lines, "\n")
		}
		fmt.Fprintf(&b, "\nFIX INSTRUCTIONS (REPAIR MODE):\n%s\n\nExisting workspace files you should prefer to edit:\n%s\n",
			st.FixInstructions, existingStr)
	}

	if notes := strings.TrimSpace(st.ResearchNotes); notes != "" {
		fmt.Fprintf(&b, "\nWeb research notes:\n%s\n", notes)
	}

	msgs := []llm.Message{
		{Role: "system", Content: coderSystemPrompt},
		{Role: "user", Content: b.String()},
	}
	if ctxTail := recentContextTail(st, 8, 3000); ctxTail != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: ctxTail})
	}
	return msgs
}

func formatPlan(plan []state.PlanStep) string {
	if len(plan) == 0 {
		return "(no plan)"
	}
	var lines []string
	for _, step := range plan {
		lines = append(lines, fmt.Sprintf("%d. [%s] %s", step.ID, step.Status, step.Description))
	}
	return strings.Join(lines, "\n")
}

// recentContextTail builds a compact tail of recent messages so the coder
// stays grounded in what already happened this turn.
func recentContextTail(st *state.State, maxMessages, maxChars int) string {
	msgs := st.Messages.Items()
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	var lines []string
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if len(content) > maxChars {
			content = content[:maxChars] + "\n...[truncated]"
		}
		stage := m.Stage
		if stage == "" {
			stage = "?"
		}
		lines = append(lines, fmt.Sprintf("[%s:%s] %s", m.Role, stage, content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Recent context (tail):\n" + strings.Join(lines, "\n\n")
}

type coderPayload struct {
	Patches []struct {
		FilePath  string `json:"file_path"`
		Content   string `json:"content"`
		ApplyMode string `json:"apply_mode"`
	} `json:"patches"`
	Exec *struct {
		Workdir  string   `json:"workdir"`
		Commands []string `json:"commands"`
	} `json:"exec"`
}

// parseCoderOutput converts the model JSON into staged patches and an exec
// request. Patches dedupe by path (last one wins, original order kept);
// commands dedupe and pass the shell safety filter.
func parseCoderOutput(jsonStr string) ([]state.CodePatch, *state.ExecRequest) {
	var payload coderPayload
	if err := json.Unmarshal([]byte(jsonStr), &payload); err != nil {
		return nil, nil
	}

	byPath := make(map[string]int)
	var patches []state.CodePatch
	for _, p := range payload.Patches {
		fp := strings.TrimSpace(p.FilePath)
		if fp == "" {
			continue
		}
		content := strings.ReplaceAll(p.Content, "\r\n", "\n")
		mode := state.ApplyMode(strings.ToLower(p.ApplyMode))
		if mode != state.ApplyAppend {
			mode = state.ApplyOverwrite
		}
		patch := state.CodePatch{FilePath: fp, Content: content, ApplyMode: mode}
		if idx, dup := byPath[fp]; dup {
			patches[idx] = patch
			continue
		}
		byPath[fp] = len(patches)
		patches = append(patches, patch)
	}

	var execReq *state.ExecRequest
	if payload.Exec != nil {
		workdir := strings.TrimSpace(payload.Exec.Workdir)
		if workdir == "" {
			workdir = "workspace"
		}
		seen := make(map[string]struct{})
		var commands []string
		for _, raw := range payload.Exec.Commands {
			cmd := strings.TrimSpace(raw)
			if cmd == "" {
				continue
			}
			if _, dup := seen[cmd]; dup {
				continue
			}
			seen[cmd] = struct{}{}
			// Drop unsafe commands here; the executor re-checks anyway.
			if tools.CheckCommand(cmd) == nil {
				commands = append(commands, cmd)
			}
		}
		if len(commands) > 0 {
			execReq = &state.ExecRequest{Workdir: workdir, Commands: commands}
		}
	}
	return patches, execReq
}
