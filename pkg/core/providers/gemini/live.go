package gemini

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/genai"

	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

// Connect opens a native-audio live session.
func (p *Provider) Connect(ctx context.Context, opts live.ConnectOptions) (live.Stream, error) {
	cfg := liveConnectConfig(opts)
	session, err := p.client.Live.Connect(ctx, p.cfg.LiveModel, cfg)
	if err != nil {
		return nil, wrapError("live connect", err)
	}
	p.logger.Debug("live session opened", "model", p.cfg.LiveModel, "voice", opts.Voice)

	s := &liveStream{
		session: session,
		msgs:    make(chan *genai.LiveServerMessage, 32),
		closed:  make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func liveConnectConfig(opts live.ConnectOptions) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			},
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		Tools:                    toolsFor(opts.Tools),
	}
	if opts.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemInstruction, genai.RoleUser)
	}
	if opts.InputTranscription {
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return cfg
}

// liveStream adapts a genai live session. The underlying websocket allows
// one concurrent writer, so sends are serialized.
type liveStream struct {
	session *genai.Session

	sendMu sync.Mutex

	msgs      chan *genai.LiveServerMessage
	readErr   error
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *liveStream) readLoop() {
	defer close(s.msgs)
	for {
		msg, err := s.session.Receive()
		if err != nil {
			s.readErr = err
			return
		}
		select {
		case s.msgs <- msg:
		case <-s.closed:
			return
		}
	}
}

func (s *liveStream) SendAudio(ctx context.Context, frame voice.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame.Data, MIMEType: frame.MIMEType},
	})
	return wrapError("send audio", err)
}

func (s *liveStream) SendToolResult(ctx context.Context, callID, name string, response map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{ID: callID, Name: name, Response: response}},
	})
	return wrapError("send tool response", err)
}

func (s *liveStream) Receive(ctx context.Context) (live.ServerEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return live.ServerEvent{}, ctx.Err()
		case msg, ok := <-s.msgs:
			if !ok {
				if s.readErr == nil {
					return live.ServerEvent{}, io.EOF
				}
				return live.ServerEvent{}, wrapError("receive", s.readErr)
			}
			if ev, ok := convertServerMessage(msg); ok {
				return ev, nil
			}
		}
	}
}

func (s *liveStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.session.Close()
	})
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// convertServerMessage maps one SDK message to a controller event. It
// reports false for messages the controller has no use for, such as setup
// acknowledgements and usage metadata.
func convertServerMessage(msg *genai.LiveServerMessage) (live.ServerEvent, bool) {
	if msg == nil {
		return live.ServerEvent{}, false
	}
	var ev live.ServerEvent
	useful := false

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			ev.InputTranscript = sc.InputTranscription.Text
			useful = true
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			ev.OutputTranscript = sc.OutputTranscription.Text
			useful = true
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				ev.Audio = append(ev.Audio, voice.Chunk{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				})
				useful = true
			}
		}
		if sc.Interrupted {
			ev.Interrupted = true
			useful = true
		}
		if sc.TurnComplete {
			ev.TurnComplete = true
			useful = true
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, live.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
			useful = true
		}
	}
	return ev, useful
}
