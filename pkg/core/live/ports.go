package live

import (
	"context"
	"time"

	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

// ConnectOptions configures the remote stream.
type ConnectOptions struct {
	Voice              string
	SystemInstruction  string
	InputTranscription bool
	// Tools lists the tool names the model may call.
	Tools []string
}

// Connector opens remote streaming sessions.
type Connector interface {
	Connect(ctx context.Context, opts ConnectOptions) (Stream, error)
}

// Stream is an open bidirectional session with the model. SendAudio and
// SendToolResult may be called from different goroutines.
type Stream interface {
	SendAudio(ctx context.Context, frame voice.Frame) error
	SendToolResult(ctx context.Context, callID, name string, response map[string]any) error
	// Receive blocks for the next event. It returns an error once the
	// stream is closed, locally or remotely.
	Receive(ctx context.Context) (ServerEvent, error)
	Close() error
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ServerEvent is one message from the model. Several fields may be set at
// once; they are handled in the order declared here.
type ServerEvent struct {
	RecognitionError bool
	InputTranscript  string
	OutputTranscript string
	Audio            []voice.Chunk
	ToolCalls        []ToolCall
	Interrupted      bool
	TurnComplete     bool
}

// Speaker renders one utterance to 24 kHz PCM16LE.
type Speaker interface {
	Speak(ctx context.Context, text, voiceName string) ([]byte, error)
}

// Microphone acquires the capture device for one session.
type Microphone interface {
	Open(ctx context.Context) (voice.InputStream, error)
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) (voice.InputStream, error)

func (f MicrophoneFunc) Open(ctx context.Context) (voice.InputStream, error) { return f(ctx) }

// History is the subset of conversation storage the controller writes to.
type History interface {
	Save(ctx context.Context, id string, messages []types.Message, title string) error
	Rename(ctx context.Context, id, title string) error
}

// Metrics receives controller telemetry.
type Metrics interface {
	SessionStarted()
	SessionEnded(outcome string)
	StateChanged(to State)
	BargeIn()
	ToolCompleted(tool, status string, d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted() {}
func (noopMetrics) SessionEnded(string) {}
func (noopMetrics) StateChanged(State) {}
func (noopMetrics) BargeIn() {}
func (noopMetrics) ToolCompleted(string, string, time.Duration) {}
