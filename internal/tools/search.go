package tools

import (
	"context"
	"fmt"
	"strings"
)

// SearchResult is one hit from a web search provider.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Engine  string `json:"engine,omitempty"`
}

// SearchProvider is the interface every search backend implements.
// Available() checks provider-specific readiness (endpoint reachable, key
// present); it never performs a search.
type SearchProvider interface {
	Name() string
	Description() string
	Available() bool
	Search(ctx context.Context, query string) ([]SearchResult, error)
}

// FormatResults renders results as the compact note block stages feed back
// into prompts.
func FormatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No web results for %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Web results for %q:\n", query)
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = r.URL
		}
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
