// Package tools executes the side effects the live model may request:
// medical illustration generation and source lookup. Each executor
// records its progress in the transcript and returns the payload that is
// sent back to the model as the tool response.
package tools

import (
	"errors"
	"fmt"
	"strings"
)

// Tool names declared to the live model.
const (
	ImageToolName  = "generate_medical_illustration"
	SearchToolName = "search_medical_sources"
)

var (
	ErrUnknownTool     = errors.New("tools: unknown tool")
	ErrMissingArgument = errors.New("tools: missing argument")
	ErrUnavailable     = errors.New("tools: tool is not configured")
	ErrNoImage         = errors.New("tools: provider returned no image")
)

// Request is a parsed tool call. The set of implementations is closed:
// ImageRequest and SearchRequest.
type Request interface {
	Tool() string
	isRequest()
}

// ImageRequest asks for one illustration.
type ImageRequest struct {
	Prompt string
}

func (ImageRequest) Tool() string { return ImageToolName }
func (ImageRequest) isRequest() {}

// SearchRequest asks for sources on a query.
type SearchRequest struct {
	Query string
}

func (SearchRequest) Tool() string { return SearchToolName }
func (SearchRequest) isRequest() {}

// Parse maps a tool call by name and arguments onto a Request.
func Parse(name string, args map[string]any) (Request, error) {
	switch name {
	case ImageToolName:
		prompt, err := stringArg(args, "prompt")
		if err != nil {
			return nil, err
		}
		return ImageRequest{Prompt: prompt}, nil
	case SearchToolName:
		query, err := stringArg(args, "query")
		if err != nil {
			return nil, err
		}
		return SearchRequest{Query: query}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, _ := args[key].(string)
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingArgument, key)
	}
	return v, nil
}
