package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SearXNGProvider implements SearchProvider against a self-hosted SearXNG
// instance's JSON API: GET {base}/search?q=...&format=json.
type SearXNGProvider struct {
	BaseURL string
	TopK    int
	Timeout time.Duration
}

// NewSearXNGProvider creates a SearXNG provider for the given base URL.
func NewSearXNGProvider(baseURL string, topK int, timeout time.Duration) *SearXNGProvider {
	if topK <= 0 {
		topK = 5
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &SearXNGProvider{BaseURL: baseURL, TopK: topK, Timeout: timeout}
}

func (s *SearXNGProvider) Name() string        { return "searxng" }
func (s *SearXNGProvider) Description() string { return "SearXNG — self-hosted metasearch" }
func (s *SearXNGProvider) Available() bool     { return s.BaseURL != "" }

func (s *SearXNGProvider) Search(ctx context.Context, query string) ([]SearchResult, error) {
	base := strings.TrimRight(s.BaseURL, "/")
	endpoint := base + "/search?q=" + url.QueryEscape(query) + "&format=json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: s.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng search: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Link    string `json:"link"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
			Engine  string `json:"engine"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("searxng search: decode: %w", err)
	}

	var results []SearchResult
	for _, r := range payload.Results {
		link := strings.TrimSpace(r.URL)
		if link == "" {
			link = strings.TrimSpace(r.Link)
		}
		if link == "" {
			continue
		}
		title := strings.TrimSpace(r.Title)
		if title == "" {
			title = link
		}
		snippet := strings.TrimSpace(r.Content)
		if snippet == "" {
			snippet = strings.TrimSpace(r.Snippet)
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     link,
			Snippet: snippet,
			Engine:  r.Engine,
		})
		if len(results) >= s.TopK {
			break
		}
	}
	return results, nil
}
