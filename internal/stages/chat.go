package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/state"
)

// ChatStage is the terminal conversational surface. For task, research and
// web turns it produces a deterministic summary from the record; only plain
// conversation reaches the model.
type ChatStage struct {
	deps Deps
}

const (
	maxStdoutTail = 1200
	maxStderrTail = 2000
)

const chatGuardPrompt = `You are Llamia's chat surface.

Rules:
- Do NOT claim you executed commands or edited files unless system messages from executor/coder indicate that.
- Keep replies concise and actionable.
`

func (s *ChatStage) Run(ctx context.Context, st *state.State) error {
	// One assistant reply per turn, no matter how the stage was reached.
	if st.RespondedTurnID == st.TurnID {
		st.Log(fmt.Sprintf("[chat] already responded for turn %d; skipping", st.TurnID))
		return nil
	}

	userText := st.LatestUserText()

	if st.Mode == state.ModeTask && st.Goal != "" {
		s.respond(st, taskFinalMessage(st))
		return nil
	}

	if hasPrefixFold(userText, "research:") || hasPrefixFold(userText, "reindex:") ||
		stageRanThisTurn(st, "research", "[research results]") {
		s.respond(st, researchFinalMessage(st))
		return nil
	}

	if hasPrefixFold(userText, "web:") || hasPrefixFold(userText, "search:") ||
		stageRanThisTurn(st, "research_web", "[web_search results]") {
		s.respond(st, webFinalMessage(st))
		return nil
	}

	if userText == "" {
		st.Log("[chat] no user messages in history; nothing to do")
		return nil
	}

	msgs := []llm.Message{{Role: "system", Content: chatGuardPrompt}}
	msgs = append(msgs, trimHistoryForLLM(st, 10)...)

	reply, err := s.deps.LLM.Chat(ctx, "chat", msgs)
	if err != nil {
		// The terminal stage must still answer; surface the failure as the
		// reply rather than losing the turn.
		st.Log("[chat] model error: " + err.Error())
		reply = "Error: failed to get a response from the model. Details: " + err.Error()
	}
	s.respond(st, reply)
	return nil
}

func (s *ChatStage) respond(st *state.State, reply string) {
	st.AddMessage(state.RoleAssistant, reply, "chat")
	st.RespondedTurnID = st.TurnID
	st.Log(fmt.Sprintf("[chat] finished reply_len=%d", len(reply)))
}

func hasPrefixFold(s, prefix string) bool {
	_, ok := stripPrefixFold(strings.TrimSpace(s), prefix)
	return ok
}

// trimHistoryForLLM keeps the last maxPairs user/assistant exchanges.
func trimHistoryForLLM(st *state.State, maxPairs int) []llm.Message {
	var out []llm.Message
	for _, m := range st.Messages.Items() {
		if m.Role == state.RoleUser || m.Role == state.RoleAssistant {
			out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	if len(out) > 2*maxPairs {
		out = out[len(out)-2*maxPairs:]
	}
	return out
}

// uniqueFilesTail returns the most recently touched workspace files, newest
// last, deduped by path.
func uniqueFilesTail(st *state.State, limit int) []string {
	seen := make(map[string]struct{})
	var reversed []string
	patches := st.AppliedPatches.Items()
	for i := len(patches) - 1; i >= 0; i-- {
		fp := patches[i].FilePath
		if fp == "" {
			continue
		}
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		reversed = append(reversed, fp)
		if len(reversed) >= limit {
			break
		}
	}
	out := make([]string, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		out = append(out, reversed[i])
	}
	return out
}

func formatExecSummary(st *state.State) (string, bool) {
	results := st.LastExecResults
	if len(results) == 0 {
		return "No commands were executed.", true
	}

	allOK := true
	var lines []string
	for _, r := range results {
		status := "OK"
		if r.ExitCode != 0 {
			status = fmt.Sprintf("FAILED (%d)", r.ExitCode)
			allOK = false
		}
		lines = append(lines, fmt.Sprintf("- %s -> %s", r.Command, status))

		if out := strings.TrimSpace(tail(strings.TrimSpace(r.Stdout), maxStdoutTail)); out != "" {
			lines = append(lines, "  stdout (tail):")
			for _, l := range strings.Split(out, "\n") {
				lines = append(lines, "    "+l)
			}
		}
		if errOut := strings.TrimSpace(tail(strings.TrimSpace(r.Stderr), maxStderrTail)); errOut != "" {
			lines = append(lines, "  stderr (tail):")
			for _, l := range strings.Split(errOut, "\n") {
				lines = append(lines, "    "+l)
			}
		}
	}
	return strings.Join(lines, "\n"), allOK
}

func taskFinalMessage(st *state.State) string {
	goal := strings.TrimSpace(st.Goal)
	if goal == "" {
		goal = "(no goal recorded)"
	}
	files := uniqueFilesTail(st, 12)
	execSummary, allOK := formatExecSummary(st)

	var lines []string
	lines = append(lines, "Task: "+goal, "")
	if len(files) > 0 {
		lines = append(lines, "Files updated:")
		for _, fp := range files {
			lines = append(lines, "- workspace/"+fp)
		}
		lines = append(lines, "")
	}
	if stageRanThisTurn(st, "research_web", "[web_search results]") {
		lines = append(lines, "Web research: yes (research_web ran during this task)", "")
	}
	lines = append(lines, "Execution:", execSummary, "")
	if allOK {
		lines = append(lines, "Result: SUCCESS")
	} else {
		lines = append(lines, "Result: FAILED (see stderr above)")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func webFinalMessage(st *state.State) string {
	notes := strings.TrimSpace(st.ResearchNotes)
	if notes == "" {
		return "No web results were captured."
	}
	return "Here are the web results I fetched:\n\n" + headLines(notes, 40)
}

func researchFinalMessage(st *state.State) string {
	notes := strings.TrimSpace(st.ResearchNotes)
	if notes == "" {
		return "No repo research results were captured."
	}
	return "Here are the repo research results:\n\n" + headLines(notes, 60)
}

func headLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
