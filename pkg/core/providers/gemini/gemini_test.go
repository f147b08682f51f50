package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/tools"
)

func TestConvertServerMessage(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "bonjour"},
			OutputTranscription: &genai.Transcription{Text: "salut"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				nil,
			}},
			TurnComplete: true,
		},
		ToolCall: &genai.LiveServerToolCall{FunctionCalls: []*genai.FunctionCall{
			{ID: "c1", Name: tools.ImageToolName, Args: map[string]any{"prompt": "x"}},
		}},
	}

	ev, ok := convertServerMessage(msg)
	if !ok {
		t.Fatal("expected a useful event")
	}
	if ev.InputTranscript != "bonjour" || ev.OutputTranscript != "salut" || !ev.TurnComplete {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Audio) != 1 || ev.Audio[0].MIMEType != "audio/pcm;rate=24000" {
		t.Fatalf("audio = %+v", ev.Audio)
	}
	if len(ev.ToolCalls) != 1 || ev.ToolCalls[0].ID != "c1" || ev.ToolCalls[0].Args["prompt"] != "x" {
		t.Fatalf("tool calls = %+v", ev.ToolCalls)
	}
}

func TestConvertServerMessage_SkipsSetup(t *testing.T) {
	if _, ok := convertServerMessage(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}); ok {
		t.Fatal("setup acknowledgement should be skipped")
	}
	if _, ok := convertServerMessage(nil); ok {
		t.Fatal("nil message should be skipped")
	}
	ev, ok := convertServerMessage(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})
	if !ok || !ev.Interrupted {
		t.Fatalf("interrupted = %+v, %v", ev, ok)
	}
}

func TestLiveConnectConfig(t *testing.T) {
	cfg := liveConnectConfig(live.ConnectOptions{
		Voice:              "Puck",
		SystemInstruction:  "Vous êtes TerranoGyneco.",
		InputTranscription: true,
		Tools:              []string{tools.ImageToolName, tools.SearchToolName, "unknown"},
	})
	if got := cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Puck" {
		t.Fatalf("voice = %q", got)
	}
	if cfg.InputAudioTranscription == nil || cfg.OutputAudioTranscription == nil {
		t.Fatal("transcription must be enabled both ways")
	}
	if cfg.SystemInstruction == nil || cfg.SystemInstruction.Parts[0].Text != "Vous êtes TerranoGyneco." {
		t.Fatalf("system instruction = %+v", cfg.SystemInstruction)
	}
	if len(cfg.Tools) != 1 || len(cfg.Tools[0].FunctionDeclarations) != 2 {
		t.Fatalf("tools = %+v", cfg.Tools)
	}
	decl := cfg.Tools[0].FunctionDeclarations[0]
	if decl.Name != tools.ImageToolName || decl.Parameters.Required[0] != "prompt" {
		t.Fatalf("image declaration = %+v", decl)
	}

	cfg = liveConnectConfig(live.ConnectOptions{Voice: "Kore"})
	if cfg.InputAudioTranscription != nil {
		t.Fatal("input transcription should be off")
	}
	if cfg.Tools != nil {
		t.Fatal("no tools expected")
	}
}

func TestFirstImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "Voici l'illustration."},
			{InlineData: &genai.Blob{Data: []byte("png"), MIMEType: "image/png"}},
		}},
	}}}
	img, ok := firstImage(resp)
	if !ok || string(img.Data) != "png" || img.MIMEType != "image/png" {
		t.Fatalf("image = %+v, %v", img, ok)
	}
	if _, ok := firstImage(&genai.GenerateContentResponse{}); ok {
		t.Fatal("empty response has no image")
	}
}

func TestSpeechAudio(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte{1, 0, 2, 0}, MIMEType: "audio/L16;codec=pcm;rate=24000"}},
			{InlineData: &genai.Blob{Data: []byte{3, 0}, MIMEType: "audio/L16;codec=pcm;rate=24000"}},
		}},
	}}}
	pcm, err := speechAudio(resp)
	if err != nil {
		t.Fatalf("speechAudio: %v", err)
	}
	if len(pcm) != 6 {
		t.Fatalf("len = %d, want 6", len(pcm))
	}
	if _, err := speechAudio(&genai.GenerateContentResponse{}); !errors.Is(err, errNoContent) {
		t.Fatalf("err = %v, want errNoContent", err)
	}
}

func TestSearchResult(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: `{"summary":"ok",`}, {Text: `"sources":[]}`}}},
		GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://has.fr/endometriose", Title: "HAS"}},
			{},
		}},
	}}}
	res := searchResult(resp)
	if res.Raw != `{"summary":"ok","sources":[]}` {
		t.Fatalf("raw = %q", res.Raw)
	}
	if len(res.Grounding) != 1 || res.Grounding[0].Title != "HAS" {
		t.Fatalf("grounding = %+v", res.Grounding)
	}
}

func TestWrapError(t *testing.T) {
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("context errors pass through, got %v", err)
	}

	tests := []struct {
		apiErr    genai.APIError
		kind      core.ErrorType
		transient bool
	}{
		{genai.APIError{Code: 429, Message: "quota", Status: "RESOURCE_EXHAUSTED"}, core.ErrRateLimit, true},
		{genai.APIError{Code: 503, Message: "busy", Status: "UNAVAILABLE"}, core.ErrOverloaded, true},
		{genai.APIError{Code: 400, Message: "bad voice", Status: "INVALID_ARGUMENT"}, core.ErrInvalidRequest, false},
		{genai.APIError{Code: 403, Message: "no", Status: "PERMISSION_DENIED"}, core.ErrAuthentication, false},
		{genai.APIError{Code: 500, Message: "odd", Status: "DATA_LOSS"}, core.ErrProvider, false},
	}
	for _, tt := range tests {
		err := wrapError("generate image", fmt.Errorf("call: %w", tt.apiErr))
		var gerr *Error
		if !errors.As(err, &gerr) {
			t.Fatalf("err = %T, want *Error", err)
		}
		if gerr.Kind != tt.kind || gerr.Transient() != tt.transient {
			t.Errorf("%s: kind=%s transient=%v, want %s/%v", tt.apiErr.Status, gerr.Kind, gerr.Transient(), tt.kind, tt.transient)
		}
		if gerr.Core().Code != tt.apiErr.Status {
			t.Errorf("core code = %q", gerr.Core().Code)
		}
	}

	var gerr *Error
	err := wrapError("speak", errors.New("boom"))
	if !errors.As(err, &gerr) || gerr.Kind != core.ErrProvider || gerr.Error() != "gemini speak: boom" {
		t.Fatalf("generic error = %v", err)
	}
}
