package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFormatResults(t *testing.T) {
	out := FormatResults("go generics", []SearchResult{
		{Title: "Go Blog", URL: "https://go.dev/blog/intro-generics", Snippet: "An introduction."},
		{URL: "https://example.com/untitled"},
	})
	if !strings.Contains(out, "1. Go Blog") {
		t.Fatalf("missing numbered title:\n%s", out)
	}
	if !strings.Contains(out, "2. https://example.com/untitled") {
		t.Fatalf("untitled result should fall back to URL:\n%s", out)
	}
}

func TestFormatResults_Empty(t *testing.T) {
	out := FormatResults("nothing", nil)
	if !strings.Contains(out, "No web results") {
		t.Fatalf("unexpected empty format: %q", out)
	}
}

const sampleDDGHTML = `
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F">Go <b>Documentation</b></a>
  <a class="result__snippet">The official <b>Go</b> documentation.</a>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">pkg.go.dev</a>
  <a class="result__snippet">Package discovery.</a>
</div>
`

func TestParseHTMLResults(t *testing.T) {
	results := parseHTMLResults(sampleDDGHTML)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].URL != "https://go.dev/doc/" {
		t.Fatalf("redirect not unwrapped: %q", results[0].URL)
	}
	if results[0].Title != "Go Documentation" {
		t.Fatalf("tags not stripped from title: %q", results[0].Title)
	}
	if results[0].Snippet != "The official Go documentation." {
		t.Fatalf("snippet = %q", results[0].Snippet)
	}
}

func TestDDGProvider_EndpointOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "llamia workflow" {
			t.Fatalf("query = %q", got)
		}
		w.Write([]byte(sampleDDGHTML))
	}))
	defer srv.Close()
	t.Setenv("LLAMIA_SEARCH_ENDPOINT", srv.URL)

	p := NewDDGProvider()
	results, err := p.Search(context.Background(), "llamia workflow")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
}

func TestSearXNGProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Fatal("expected format=json")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"title": "Result A", "url": "https://a.example", "content": "about A", "engine": "brave"},
				{"title": "", "link": "https://b.example", "snippet": "about B"},
				{"title": "no link"},
			},
		})
	}))
	defer srv.Close()

	p := NewSearXNGProvider(srv.URL, 5, 0)
	results, err := p.Search(context.Background(), "test")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (entry without link dropped)", len(results))
	}
	if results[1].Title != "https://b.example" {
		t.Fatalf("untitled result should use the link: %q", results[1].Title)
	}
	if results[1].Snippet != "about B" {
		t.Fatalf("snippet fallback = %q", results[1].Snippet)
	}
}

func TestSearXNGProvider_TopKLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		var entries []map[string]any
		for i := 0; i < 10; i++ {
			entries = append(entries, map[string]any{"title": "r", "url": "https://x.example"})
		}
		json.NewEncoder(w).Encode(map[string]any{"results": entries})
	}))
	defer srv.Close()

	p := NewSearXNGProvider(srv.URL, 3, 0)
	results, err := p.Search(context.Background(), "test")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want top_k = 3", len(results))
	}
}
