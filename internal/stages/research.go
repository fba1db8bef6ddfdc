package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/basket/llamia/internal/state"
)

// ResearchStage answers queries from the local workspace: it scores files by
// term overlap with the query and records excerpts of the best matches as
// research notes.
type ResearchStage struct {
	deps Deps
}

const (
	researchTopFiles    = 8
	researchExcerptSize = 600
)

func (s *ResearchStage) Run(_ context.Context, st *state.State) error {
	query := strings.TrimSpace(st.ResearchQuery)
	if query == "" {
		query = strings.TrimSpace(st.LatestUserText())
	}
	for _, prefix := range []string{"research:", "reindex:"} {
		if rest, ok := stripPrefixFold(query, prefix); ok {
			query = rest
			break
		}
	}
	st.ResearchQuery = ""

	if query == "" {
		st.ResearchNotes = ""
		st.Log("[research] empty query; nothing to do")
		return nil
	}

	files, err := s.deps.Workspace.ListFiles()
	if err != nil {
		return fmt.Errorf("list workspace files: %w", err)
	}

	terms := queryTerms(query)

	type scored struct {
		path    string
		score   int
		excerpt string
	}
	var hits []scored
	for _, fp := range files {
		content, err := s.deps.Workspace.ReadFile(fp)
		if err != nil {
			continue
		}
		score := scoreContent(fp, content, terms)
		if score == 0 {
			continue
		}
		hits = append(hits, scored{path: fp, score: score, excerpt: excerptFor(content, terms)})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > researchTopFiles {
		hits = hits[:researchTopFiles]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[research results]\nQuery: %s\n", query)
	if len(hits) == 0 {
		b.WriteString("No matching files in the workspace.\n")
	} else {
		for _, h := range hits {
			fmt.Fprintf(&b, "\n## %s (score %d)\n%s\n", h.path, h.score, h.excerpt)
		}
	}
	notes := strings.TrimRight(b.String(), "\n")

	st.ResearchNotes = notes
	st.AddMessage(state.RoleSystem, notes, "research")
	st.Log(fmt.Sprintf("[research] query=%q matched %d files", query, len(hits)))
	return nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if len(f) >= 3 {
			terms = append(terms, f)
		}
	}
	return terms
}

// scoreContent counts term occurrences, weighing path matches heavier than
// body matches.
func scoreContent(path, content string, terms []string) int {
	lowerPath := strings.ToLower(path)
	lowerBody := strings.ToLower(content)
	score := 0
	for _, t := range terms {
		if strings.Contains(lowerPath, t) {
			score += 5
		}
		score += strings.Count(lowerBody, t)
	}
	return score
}

// excerptFor returns a window of the content around the first term hit.
func excerptFor(content string, terms []string) string {
	lower := strings.ToLower(content)
	at := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (at < 0 || i < at) {
			at = i
		}
	}
	if at < 0 {
		at = 0
	}
	start := at - researchExcerptSize/4
	if start < 0 {
		start = 0
	}
	end := start + researchExcerptSize
	if end > len(content) {
		end = len(content)
	}
	return strings.TrimSpace(content[start:end])
}
