package tools

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// SearchResult is the raw outcome of a retrieval-augmented request: the
// model text, which should hold a {summary, sources[]} object, and any
// citation metadata the provider attached.
type SearchResult struct {
	Raw       string
	Grounding []types.Source
}

// Searcher performs one source lookup.
type Searcher interface {
	SearchSources(ctx context.Context, query string) (SearchResult, error)
}

// SearchExecutor handles search_medical_sources. Searchers are tried in
// order until one succeeds.
type SearchExecutor struct {
	Searchers []Searcher
	Messages  Messages
	Logger    *slog.Logger
}

// Execute posts a status marker, runs the lookup, attaches the sources to
// the turnID message and returns the summary as the tool response.
func (e *SearchExecutor) Execute(ctx context.Context, req SearchRequest, turnID string, t Transcript) Result {
	msgs := e.Messages.withDefaults()
	statusID := t.NewID(transcript.PrefixSearchStatus)
	t.Append(types.Message{ID: statusID, Sender: types.SenderSystem, Text: formatStatus(msgs.SearchStatus, req.Query)})

	ctx, span := startSpan(ctx, "tools.search_sources",
		attribute.String("tool", SearchToolName),
		attribute.String("turn_id", turnID),
	)
	res, err := e.search(ctx, req.Query)
	endSpan(span, err)

	if err != nil {
		t.ReplaceStatus(statusID, types.Message{
			ID:     t.NewID(transcript.PrefixSearchError),
			Sender: types.SenderSystem,
			Text:   msgs.SearchFailure,
		})
		return Result{Response: map[string]any{"error": msgs.SearchFailure}, Err: err}
	}

	summary, sources := Interpret(res)
	t.AttachSources(turnID, sources, statusID)
	return Result{Response: map[string]any{"result": summary, "sources": len(sources)}}
}

// Interpret turns a SearchResult into a summary and cleaned sources,
// falling back to grounding metadata when the structured output is
// missing or malformed.
func Interpret(res SearchResult) (string, []types.Source) {
	if summary, sources, ok := ParseSearchOutput(res.Raw); ok {
		if len(sources) == 0 {
			sources = CleanSources(res.Grounding)
		}
		return summary, sources
	}
	return strings.TrimSpace(res.Raw), CleanSources(res.Grounding)
}

func (e *SearchExecutor) search(ctx context.Context, query string) (SearchResult, error) {
	if len(e.Searchers) == 0 {
		return SearchResult{}, ErrUnavailable
	}
	var errs []error
	for i, s := range e.Searchers {
		res, err := s.SearchSources(ctx, query)
		if err == nil {
			return res, nil
		}
		errs = append(errs, err)
		if e.Logger != nil {
			e.Logger.Warn("source search failed", "searcher", i, "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return SearchResult{}, errors.Join(errs...)
}
