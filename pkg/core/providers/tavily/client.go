// Package tavily searches the web for medical sources through the Tavily
// search API.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

const (
	defaultBaseURL    = "https://api.tavily.com"
	defaultMaxResults = 5
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("tavily: api key is not configured")

// Hit is one search result.
type Hit struct {
	Title   string
	URL     string
	Snippet string
	Score   float64
}

// Response is a search answer with its hits.
type Response struct {
	Answer string
	Hits   []Hit
}

// Client calls the Tavily search endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// MaxResults bounds the hits per search. Zero selects five.
	MaxResults int
	// IncludeDomains restricts results to these domains when non-empty.
	IncludeDomains []string
}

func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.apiKey != ""
}

// Search runs an advanced search with a generated answer.
func (c *Client) Search(ctx context.Context, query string) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}
	if strings.TrimSpace(query) == "" {
		return Response{}, fmt.Errorf("query is required")
	}
	maxResults := c.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	payload := map[string]any{
		"query":          query,
		"search_depth":   "advanced",
		"max_results":    maxResults,
		"include_answer": true,
	}
	if len(c.IncludeDomains) > 0 {
		payload["include_domains"] = c.IncludeDomains
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return Response{}, fmt.Errorf("tavily error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var decoded struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string  `json:"title"`
			URL     string  `json:"url"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}

	out := Response{Answer: strings.TrimSpace(decoded.Answer), Hits: make([]Hit, 0, len(decoded.Results))}
	for _, r := range decoded.Results {
		out.Hits = append(out.Hits, Hit{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return out, nil
}

// SearchSources implements tools.Searcher. The generated answer becomes
// the summary and hits become grounding sources.
func (c *Client) SearchSources(ctx context.Context, query string) (tools.SearchResult, error) {
	resp, err := c.Search(ctx, query)
	if err != nil {
		return tools.SearchResult{}, err
	}
	if resp.Answer == "" && len(resp.Hits) == 0 {
		return tools.SearchResult{}, fmt.Errorf("tavily: no results for %q", query)
	}
	res := tools.SearchResult{Raw: resp.Answer}
	for _, h := range resp.Hits {
		res.Grounding = append(res.Grounding, types.Source{URI: h.URL, Title: h.Title, Snippet: snippet(h.Snippet)})
	}
	return res, nil
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const limit = 280
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
