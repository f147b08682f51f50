package tools

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

const tracerName = "github.com/vango-go/terranogyneco/pkg/core/tools"

// Transcript is the subset of the transcript store the executors mutate.
type Transcript interface {
	NewID(prefix string) string
	Append(m types.Message)
	AttachImage(turnID, imageURL, statusID string)
	AttachSources(turnID string, sources []types.Source, statusID string)
	ReplaceStatus(statusID string, m types.Message)
}

// Result is the outcome of one tool call.
type Result struct {
	Tool string
	// Response is sent back to the model whether or not Err is set.
	Response map[string]any
	Err      error
	Duration time.Duration
}

// Status is "ok" or "error", for metrics labels.
func (r Result) Status() string {
	if r.Err != nil {
		return "error"
	}
	return "ok"
}

// Executors dispatches parsed requests to their executor.
type Executors struct {
	Image  *ImageExecutor
	Search *SearchExecutor
	Logger *slog.Logger
}

// Run executes req for the AI turn turnID.
func (e *Executors) Run(ctx context.Context, req Request, turnID string, t Transcript) Result {
	start := time.Now()
	var res Result
	switch r := req.(type) {
	case ImageRequest:
		if e.Image == nil {
			res = unavailable()
			break
		}
		res = e.Image.Execute(ctx, r, turnID, t)
	case SearchRequest:
		if e.Search == nil {
			res = unavailable()
			break
		}
		res = e.Search.Execute(ctx, r, turnID, t)
	default:
		res = Result{Response: map[string]any{"error": "unsupported tool"}, Err: ErrUnknownTool}
	}
	res.Tool = req.Tool()
	res.Duration = time.Since(start)
	if res.Err != nil && e.Logger != nil {
		e.Logger.Warn("tool call failed", "tool", res.Tool, "turn_id", turnID, "error", res.Err)
	}
	return res
}

func unavailable() Result {
	return Result{Response: map[string]any{"error": "tool is not configured"}, Err: ErrUnavailable}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
