// Package session bridges one /v1/live websocket to a live controller:
// client PCM becomes the controller's microphone, the controller's audio
// output and events become server frames.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/protocol"
)

const (
	urgentQueueSize = 16
	warningInterval = time.Second
)

type Config struct {
	MaxAudioFrameBytes   int
	MaxJSONMessageBytes  int64
	MaxAudioBytesPerSec  int
	MaxAudioFramesPerSec int
	InboundBurstSeconds  int
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	MaxSessionDuration   time.Duration
	OutboundQueueSize    int
}

// Controller is the part of *live.Controller a session drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	EndPolitely()
	SetGain(g float64) error
	Gain() float64
	State() live.State
	Events() <-chan live.Event
	Transcript() *transcript.Store
	Conversation() types.Conversation
	Done() <-chan struct{}
}

// AudioMetrics observes relayed audio bytes.
type AudioMetrics interface {
	RecordLiveAudio(direction string, bytes int)
}

type Dependencies struct {
	Conn      *websocket.Conn
	Logger    *slog.Logger
	Metrics   AudioMetrics
	Hello     protocol.ClientHello
	Voice     string
	SessionID string
	RequestID string
	Config    Config
	Now       func() time.Time
}

// LiveSession owns the websocket for the lifetime of one live session.
type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	metrics   AudioMetrics
	hello     protocol.ClientHello
	voice     string
	sessionID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mic    *wsMicrophone
	device *wsDevice

	urgentOut  chan frame
	regularOut chan frame

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if err := protocol.ValidateHello(deps.Hello); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 256
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.SessionID, "request_id", deps.RequestID),
		metrics:          deps.Metrics,
		hello:            deps.Hello,
		voice:            deps.Voice,
		sessionID:        deps.SessionID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		mic:              newWSMicrophone(deps.Hello.InputSampleRateHz),
		urgentOut:        make(chan frame, urgentQueueSize),
		regularOut:       make(chan frame, deps.Config.OutboundQueueSize),
		lastWarn:         make(map[string]time.Time),
	}
	s.device = newWSDevice(s)
	return s, nil
}

// Microphone is the capture source to give the controller.
func (s *LiveSession) Microphone() live.Microphone { return s.mic }

// Output is the audio device to give the controller.
func (s *LiveSession) Output() voice.Device { return s.device }

// Run starts ctrl and relays until the session ends or the client leaves.
// It returns the start error, if any; transport errors after start are
// logged and end the session.
func (s *LiveSession) Run(ctrl Controller) error {
	defer s.cancel()
	defer s.mic.Close()

	if s.cfg.MaxJSONMessageBytes > 0 {
		readLimit := s.cfg.MaxJSONMessageBytes
		if int64(s.cfg.MaxAudioFrameBytes) > readLimit {
			readLimit = int64(s.cfg.MaxAudioFrameBytes)
		}
		s.conn.SetReadLimit(readLimit)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := newFrameWriter(s.ctx, s.conn, s.cfg, s.urgentOut, s.regularOut)
		w.stale = s.device.isStale
		w.onAudio = s.recordAudio("out")
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	if err := ctrl.Start(s.ctx); err != nil {
		if errors.Is(err, live.ErrStartCanceled) {
			s.logger.Info("live session stopped while starting")
			_ = s.sendJSONPriority(protocol.ServerSessionEnded{Type: "session_ended", Outcome: live.OutcomeStopped})
			s.flushAndClose(writerErrCh)
			return nil
		}
		s.logger.Warn("live session start failed", "error", err)
		_ = s.sendJSONPriority(protocol.ServerError{
			Type:    "error",
			Scope:   "session",
			Code:    startErrorCode(err),
			Message: err.Error(),
			Close:   true,
		})
		_ = s.sendJSONPriority(protocol.ServerSessionEnded{Type: "session_ended", Outcome: live.OutcomeStartError, Error: err.Error()})
		s.flushAndClose(writerErrCh)
		return err
	}

	conv := ctrl.Conversation()
	_ = s.sendJSON(protocol.ServerReady{
		Type:            "ready",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       s.sessionID,
		ConversationID:  conv.ID,
		Title:           conv.Title,
		Voice:           s.voice,
		MicGain:         ctrl.Gain(),
		AudioIn: protocol.AudioFormat{
			Encoding:     protocol.EncodingPCM16LE,
			SampleRateHz: s.hello.InputSampleRateHz,
			Channels:     1,
		},
		AudioOut: protocol.AudioFormat{
			Encoding:     protocol.EncodingPCM16LE,
			SampleRateHz: protocol.OutputSampleRateHz,
			Channels:     1,
		},
		Limits: protocol.ReadyLimits{
			MaxAudioFrameBytes:  s.cfg.MaxAudioFrameBytes,
			MaxJSONMessageBytes: s.cfg.MaxJSONMessageBytes,
			MaxAudioBPS:         s.cfg.MaxAudioBytesPerSec,
			MaxSessionMS:        s.cfg.MaxSessionDuration.Milliseconds(),
		},
	})
	_ = s.sendJSON(protocol.ServerState{Type: "state", State: ctrl.State().String()})
	_ = s.sendTranscript(ctrl.Transcript(), false)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		// Closing the socket is the only way to unblock the reader.
		<-gctx.Done()
		s.cancel()
		return nil
	})
	g.Go(func() error {
		return s.readLoop(gctx, ctrl)
	})
	g.Go(func() error {
		return s.pumpEvents(gctx, ctrl)
	})
	if s.cfg.MaxSessionDuration > 0 {
		g.Go(func() error {
			timer := time.NewTimer(s.cfg.MaxSessionDuration)
			defer timer.Stop()
			select {
			case <-gctx.Done():
			case <-timer.C:
				_ = s.sendWarning("max_session_duration", "maximum session duration reached")
				ctrl.EndPolitely()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionEnded) {
		s.logger.Info("live session transport ended", "error", err)
	}

	// The controller may still be tearing down if the transport went
	// first.
	ctrl.Stop()
	s.flushAndClose(writerErrCh)
	return nil
}

// Cancel tears the session down without a goodbye.
func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}

// readLoop relays client frames until the connection fails or closes.
func (s *LiveSession) readLoop(ctx context.Context, ctrl Controller) error {
	inbound := newInboundAudioLimiter(s.now, s.cfg.MaxAudioFramesPerSec, s.cfg.MaxAudioBytesPerSec, s.cfg.InboundBurstSeconds)
	recordIn := s.recordAudio("in")

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client closed live socket")
				ctrl.Stop()
				return errClientGone
			}
			ctrl.Stop()
			return fmt.Errorf("read: %w", err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			if s.cfg.MaxAudioFrameBytes > 0 && len(data) > s.cfg.MaxAudioFrameBytes {
				s.warnThrottled("audio_frame_too_large", fmt.Sprintf("audio frame exceeds %d bytes", s.cfg.MaxAudioFrameBytes))
				continue
			}
			if len(data)%2 != 0 {
				s.warnThrottled("audio_frame_misaligned", "audio frames must hold whole 16-bit samples")
				continue
			}
			if !inbound.Allow(len(data)) {
				s.warnThrottled("audio_rate_limited", "inbound audio rate exceeded")
				continue
			}
			if s.mic.Write(data) && recordIn != nil {
				recordIn(len(data))
			}
		case websocket.TextMessage:
			if s.cfg.MaxJSONMessageBytes > 0 && int64(len(data)) > s.cfg.MaxJSONMessageBytes {
				_ = s.sendError("bad_request", "text frame too large", false)
				continue
			}
			s.handleText(ctrl, data)
		}
	}
}

var errClientGone = errors.New("client closed connection")

func (s *LiveSession) handleText(ctrl Controller, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			_ = s.sendError(de.Code, de.Error(), false)
			return
		}
		_ = s.sendError("bad_request", err.Error(), false)
		return
	}

	switch m := msg.(type) {
	case protocol.ClientHello:
		_ = s.sendWarning("unexpected_hello", "hello already received")
	case protocol.ClientControl:
		switch m.Type {
		case protocol.ControlSetGain:
			if err := ctrl.SetGain(m.Gain); err != nil {
				_ = s.sendError("invalid_gain", err.Error(), false)
			}
		case protocol.ControlEnd:
			ctrl.EndPolitely()
		case protocol.ControlStop:
			ctrl.Stop()
		}
	}
}

// pumpEvents translates controller events into server frames. It returns
// once the controller has ended and session_ended has been queued.
func (s *LiveSession) pumpEvents(ctx context.Context, ctrl Controller) error {
	store := ctrl.Transcript()
	events := ctrl.Events()
	done := ctrl.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-store.Changed():
			_ = s.sendTranscript(store, false)
		case ev := <-events:
			if ended, ok := ev.(live.SessionEndedEvent); ok {
				s.finish(store, ended)
				return errSessionEnded
			}
			s.forwardEvent(ev)
		case <-done:
			// Drain what teardown emitted before the done signal.
			for {
				select {
				case ev := <-events:
					if ended, ok := ev.(live.SessionEndedEvent); ok {
						s.finish(store, ended)
						return errSessionEnded
					}
					s.forwardEvent(ev)
				default:
					s.finish(store, live.SessionEndedEvent{Outcome: live.OutcomeStopped})
					return errSessionEnded
				}
			}
		}
	}
}

var errSessionEnded = errors.New("session ended")

func (s *LiveSession) finish(store *transcript.Store, ended live.SessionEndedEvent) {
	_ = s.sendTranscript(store, true)
	msg := protocol.ServerSessionEnded{Type: "session_ended", Outcome: ended.Outcome}
	if ended.Err != nil {
		msg.Error = ended.Err.Error()
	}
	_ = s.sendJSONPriority(msg)
	s.logger.Info("live session ended", "outcome", ended.Outcome, "error", ended.Err)
}

func (s *LiveSession) forwardEvent(ev live.Event) {
	switch e := ev.(type) {
	case live.StateChangedEvent:
		_ = s.sendJSON(protocol.ServerState{Type: "state", State: e.To.String(), From: e.From.String()})
	case live.InputTranscriptEvent:
		_ = s.sendJSON(protocol.ServerInputTranscript{Type: "input_transcript", Text: e.Text})
	case live.ComposingEvent:
		_ = s.sendJSON(protocol.ServerComposing{Type: "composing", Active: e.Active})
	case live.TitleChangedEvent:
		_ = s.sendJSON(protocol.ServerTitle{Type: "title", Title: e.Title})
	}
}

func (s *LiveSession) sendTranscript(store *transcript.Store, priority bool) error {
	if store == nil {
		return nil
	}
	msg := protocol.ServerTranscript{
		Type:     "transcript",
		Revision: store.Revision(),
		Messages: toProtocolMessages(store.Snapshot()),
	}
	if priority {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func toProtocolMessages(in []types.Message) []protocol.Message {
	out := make([]protocol.Message, 0, len(in))
	for _, m := range in {
		pm := protocol.Message{
			ID:       m.ID,
			Sender:   string(m.Sender),
			Text:     m.Text,
			ImageURL: m.ImageURL,
		}
		for _, src := range m.Sources {
			pm.Sources = append(pm.Sources, protocol.Source{Title: src.Title, URI: src.URI, Snippet: src.Snippet})
		}
		out = append(out, pm)
	}
	return out
}

func (s *LiveSession) flushAndClose(writerErrCh <-chan error) {
	s.cancel()
	wait := 500 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
}

func (s *LiveSession) recordAudio(direction string) func(int) {
	if s.metrics == nil {
		return nil
	}
	return func(n int) { s.metrics.RecordLiveAudio(direction, n) }
}

func (s *LiveSession) warnThrottled(code, message string) {
	now := s.now()
	s.warnMu.Lock()
	last, ok := s.lastWarn[code]
	if ok && now.Sub(last) < warningInterval {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[code] = now
	s.warnMu.Unlock()
	_ = s.sendWarning(code, message)
}

func audioReset(reason string) protocol.ServerAudioReset {
	return protocol.ServerAudioReset{Type: "audio_reset", Reason: reason}
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) sendError(code, message string, close bool) error {
	msg := protocol.ServerError{Type: "error", Scope: "request", Code: code, Message: message, Close: close}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(textFrame(payload))
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(textFrame(payload))
}

func (s *LiveSession) enqueueNormal(f frame) error {
	select {
	case s.regularOut <- f:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority evicts the oldest priority frames to make room.
func (s *LiveSession) enqueuePriority(f frame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.urgentOut <- f:
			return nil
		default:
		}
		select {
		case <-s.urgentOut:
		default:
		}
	}
	select {
	case s.urgentOut <- f:
		return nil
	default:
		return errBackpressure
	}
}

func startErrorCode(err error) string {
	switch {
	case errors.Is(err, live.ErrAlreadyActive):
		return "session_active"
	case strings.Contains(err.Error(), "open remote stream"):
		return "upstream_unavailable"
	default:
		return "start_failed"
	}
}
