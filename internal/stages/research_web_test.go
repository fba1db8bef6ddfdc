package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/basket/llamia/internal/state"
	"github.com/basket/llamia/internal/tools"
)

func TestResearchWeb_SearchRecordsNotes(t *testing.T) {
	search := &fakeSearch{available: true, results: []tools.SearchResult{
		{Title: "Go Blog", URL: "https://go.dev/blog/slices", Snippet: "Slices in Go."},
	}}
	st := state.New(state.Caps{})
	userTurn(st, "web: golang slices")
	st.ResearchQuery = "golang slices"
	st.ReturnAfterWeb = "chat"

	if err := (&ResearchWebStage{Deps{Search: search}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.WebSearchCount != 1 {
		t.Fatalf("WebSearchCount = %d, want 1", st.WebSearchCount)
	}
	notes := st.ResearchNotes
	if !strings.HasPrefix(notes, `[web_search results] top_k=1 query="golang slices"`) {
		t.Fatalf("notes = %q, want marker header", notes)
	}
	if !strings.Contains(notes, "https://go.dev/blog/slices") {
		t.Fatalf("notes missing result URL:\n%s", notes)
	}
	if st.WebResults != notes {
		t.Fatalf("WebResults = %q, want same notes", st.WebResults)
	}
	if st.NextAgent != "chat" {
		t.Fatalf("NextAgent = %q, want return target", st.NextAgent)
	}
	if st.ResearchQuery != "" {
		t.Fatalf("ResearchQuery = %q, want consumed", st.ResearchQuery)
	}
	if msg := lastMessage(t, st); msg.Stage != "research_web" {
		t.Fatalf("system message stage = %q, want research_web", msg.Stage)
	}
}

func TestResearchWeb_DrainsQueue(t *testing.T) {
	search := &fakeSearch{available: true}
	st := state.New(state.Caps{})
	st.BeginTask("compare libraries")
	st.WebQueue = []string{"query one", "query two"}
	stage := &ResearchWebStage{Deps{Search: search}}

	if err := stage.Run(context.Background(), st); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if st.NextAgent != "research_web" {
		t.Fatalf("NextAgent = %q, want self-route while queue drains", st.NextAgent)
	}
	if st.ResearchQuery != "query two" {
		t.Fatalf("ResearchQuery = %q, want next queued query", st.ResearchQuery)
	}

	st.NextAgent = "" // driver consumes the hint
	if err := stage.Run(context.Background(), st); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if st.NextAgent != "planner" {
		t.Fatalf("NextAgent = %q, want default task resume", st.NextAgent)
	}
	if got := search.queries; len(got) != 2 || got[0] != "query one" || got[1] != "query two" {
		t.Fatalf("queries = %v", got)
	}
	if st.WebSearchCount != 2 {
		t.Fatalf("WebSearchCount = %d, want 2", st.WebSearchCount)
	}
}

func TestResearchWeb_ProviderUnavailable(t *testing.T) {
	st := state.New(state.Caps{})
	st.ResearchQuery = "anything"
	st.ReturnAfterWeb = "chat"

	if err := (&ResearchWebStage{Deps{Search: &fakeSearch{available: false}}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(st.ResearchNotes, "provider unavailable") {
		t.Fatalf("notes = %q, want unavailable marker", st.ResearchNotes)
	}
	if st.NextAgent != "chat" {
		t.Fatalf("NextAgent = %q, want resume", st.NextAgent)
	}
}

func TestResearchWeb_LimitStopsSearching(t *testing.T) {
	search := &fakeSearch{available: true}
	st := state.New(state.Caps{})
	st.BeginTask("goal")
	st.ResearchQuery = "over the limit"
	st.WebQueue = []string{"never runs"}
	st.WebSearchCount = 2

	deps := Deps{Search: search, WebSearchLimit: 2}
	if err := (&ResearchWebStage{deps}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(search.queries) != 0 {
		t.Fatalf("searched past the limit: %v", search.queries)
	}
	if len(st.WebQueue) != 0 {
		t.Fatalf("WebQueue = %v, want cleared", st.WebQueue)
	}
	if st.NextAgent != "planner" {
		t.Fatalf("NextAgent = %q, want task resume", st.NextAgent)
	}
}

func TestResearchWeb_NoQueryResumes(t *testing.T) {
	st := state.New(state.Caps{})
	st.ReturnAfterWeb = "bogus stage"

	if err := (&ResearchWebStage{Deps{Search: &fakeSearch{available: true}}}).Run(context.Background(), st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Invalid return target in chat mode falls back to chat.
	if st.NextAgent != "chat" {
		t.Fatalf("NextAgent = %q, want chat fallback", st.NextAgent)
	}
}
