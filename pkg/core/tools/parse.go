package tools

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

type structuredSearch struct {
	Summary string `json:"summary"`
	Sources []struct {
		URI     string `json:"uri"`
		URL     string `json:"url"`
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"sources"`
}

// ParseSearchOutput reads a {summary, sources[]} object out of raw model
// output, tolerating code fences and prose around the object. ok is false
// when no usable object was found.
func ParseSearchOutput(raw string) (summary string, sources []types.Source, ok bool) {
	body := extractJSONObject(raw)
	if body == "" {
		return "", nil, false
	}
	var out structuredSearch
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return "", nil, false
	}
	if strings.TrimSpace(out.Summary) == "" && len(out.Sources) == 0 {
		return "", nil, false
	}
	for _, s := range out.Sources {
		uri := s.URI
		if uri == "" {
			uri = s.URL
		}
		sources = append(sources, types.Source{URI: uri, Title: s.Title, Snippet: s.Snippet})
	}
	return strings.TrimSpace(out.Summary), CleanSources(sources), true
}

// CleanSources drops entries without a uri or title and trims fields,
// keeping the first occurrence of each uri.
func CleanSources(in []types.Source) []types.Source {
	var out []types.Source
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s.URI = strings.TrimSpace(s.URI)
		s.Title = strings.TrimSpace(s.Title)
		s.Snippet = strings.TrimSpace(s.Snippet)
		if s.URI == "" || s.Title == "" {
			continue
		}
		if _, dup := seen[s.URI]; dup {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}

func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "```"); ok {
		rest = strings.TrimPrefix(rest, "json")
		if end := strings.LastIndex(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
