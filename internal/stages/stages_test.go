package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/llamia/internal/llm"
	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/tools"
)

// fakeLLM pops scripted replies in order. Roles are recorded so tests can
// assert which model was consulted (or that none was).
type fakeLLM struct {
	replies []string
	err     error
	roles   []string
}

func (f *fakeLLM) Chat(_ context.Context, role string, _ []llm.Message) (string, error) {
	f.roles = append(f.roles, role)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("fakeLLM: out of scripted replies")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return reply, nil
}

type fakeSearch struct {
	available bool
	results   []tools.SearchResult
	err       error
	queries   []string
}

func (f *fakeSearch) Name() string        { return "fake" }
func (f *fakeSearch) Description() string { return "scripted search results" }
func (f *fakeSearch) Available() bool     { return f.available }

func (f *fakeSearch) Search(_ context.Context, query string) ([]tools.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// fakeExec returns scripted results per command and records what ran.
type fakeExec struct {
	byCommand map[string]state.ExecResult
	ran       []string
}

func (f *fakeExec) Exec(_ context.Context, cmd, _ string) (string, string, int, error) {
	f.ran = append(f.ran, cmd)
	if r, ok := f.byCommand[cmd]; ok {
		return r.Stdout, r.Stderr, r.ExitCode, nil
	}
	return "", "", 0, nil
}

func newTestWorkspace(t *testing.T) *tools.Workspace {
	t.Helper()
	ws, err := tools.NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("NewWorkspace: %v", err)
	}
	return ws
}

func newTestRunner(ws *tools.Workspace, exec tools.Executor) *tools.Runner {
	r := tools.NewRunner(ws.Dir)
	r.Executor = exec
	return r
}

// userTurn appends a user message and advances the turn counter, mirroring
// what the host loop does per input line.
func userTurn(st *state.State, text string) {
	st.TurnID++
	st.AddMessage(state.RoleUser, text, "")
}

func lastMessage(t *testing.T, st *state.State) state.Message {
	t.Helper()
	msgs := st.Messages.Items()
	if len(msgs) == 0 {
		t.Fatalf("no messages recorded")
	}
	return msgs[len(msgs)-1]
}
