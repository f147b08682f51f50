package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

var (
	ErrAlreadyActive = errors.New("live: session already active")
	ErrNotActive     = errors.New("live: no active session")
	ErrStartCanceled = errors.New("live: start canceled")
	errNoSpeaker     = errors.New("live: no speaker configured")
)

const eventBufferSize = 256

// Dependencies are the collaborators of a Controller.
type Dependencies struct {
	Connector  Connector
	Microphone Microphone
	Output     voice.Device
	Speaker    Speaker
	Tools      *tools.Executors
	// Transcript is shared across sessions of the same conversation. A
	// fresh store is created when nil.
	Transcript *transcript.Store
	History    History
	Metrics    Metrics
	Clock      voice.Clock
	Logger     *slog.Logger
}

// Controller drives live sessions for one conversation. At most one
// session is active at a time; a new Start after IDLE or ERROR begins a
// fresh session.
type Controller struct {
	cfg  Config
	deps Dependencies

	stops  StopPhrases
	logger *slog.Logger

	state  atomic.Int32
	gain   atomic.Value // float64
	events chan Event

	titleMu sync.Mutex
	title   string

	mu       sync.Mutex
	current  *session
	starting *pendingStart
}

// NewController validates cfg and returns an idle controller.
func NewController(cfg Config, deps Dependencies) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Connector == nil {
		return nil, errors.New("connector is required")
	}
	if deps.Microphone == nil {
		return nil, errors.New("microphone is required")
	}
	if deps.Output == nil {
		return nil, errors.New("audio output is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = voice.NewSystemClock()
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.New(nil)
	}
	if deps.Tools == nil {
		deps.Tools = &tools.Executors{}
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = time.Now()
	}

	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		stops:  NewStopPhrases(cfg.Profile.StopPhrases),
		logger: deps.Logger.With("conversation_id", cfg.ConversationID),
		events: make(chan Event, eventBufferSize),
		title:  cfg.Title,
	}
	c.gain.Store(cfg.MicGain)
	return c, nil
}

// State returns the current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Events delivers observer events. Events are dropped when the consumer
// falls behind.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Transcript returns the conversation transcript.
func (c *Controller) Transcript() *transcript.Store {
	return c.deps.Transcript
}

// Title returns the current conversation title.
func (c *Controller) Title() string {
	c.titleMu.Lock()
	defer c.titleMu.Unlock()
	return c.title
}

// Conversation returns a snapshot of the conversation as it would be
// stored now.
func (c *Controller) Conversation() types.Conversation {
	return types.Conversation{
		ID:        c.cfg.ConversationID,
		Title:     c.Title(),
		CreatedAt: c.cfg.CreatedAt,
		Messages:  c.deps.Transcript.Snapshot(),
	}
}

// Gain returns the microphone gain applied to the next session or buffer.
func (c *Controller) Gain() float64 {
	return c.gain.Load().(float64)
}

// SetGain changes the microphone gain. While a session is capturing the
// change applies to the next captured buffer.
func (c *Controller) SetGain(g float64) error {
	if err := voice.ValidateGain(g); err != nil {
		return err
	}
	c.gain.Store(g)
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil && s.capture != nil {
		return s.capture.SetGain(g)
	}
	return nil
}

// Start acquires the microphone, opens the remote stream and begins
// forwarding captured frames. Canceling ctx later stops the session
// abruptly. On failure no resource is retained and the state is ERROR.
//
// Acquisition runs without holding the controller lock. A Stop or
// EndPolitely issued meanwhile cancels it, releases whatever was opened
// and leaves the controller IDLE; Start then returns ErrStartCanceled.
func (c *Controller) Start(ctx context.Context) error {
	capture, err := voice.NewCapture(c.Gain(), c.cfg.FrameSamples)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.starting != nil || (c.current != nil && !c.current.isDone()) {
		c.mu.Unlock()
		cancel()
		return ErrAlreadyActive
	}
	pending := &pendingStart{cancel: cancel, done: make(chan struct{})}
	c.starting = pending
	c.mu.Unlock()
	defer close(pending.done)

	mic, stream, err := c.acquire(sctx)

	c.mu.Lock()
	c.starting = nil
	if pending.aborted {
		c.mu.Unlock()
		cancel()
		c.releaseAcquired(mic, stream)
		c.logger.Info("live session start canceled")
		c.setState(StateIdle)
		c.emit(SessionEndedEvent{Outcome: OutcomeStopped})
		return ErrStartCanceled
	}
	if err != nil {
		c.mu.Unlock()
		cancel()
		c.failStart(err)
		return err
	}

	s := &session{
		c:         c,
		ctx:       sctx,
		cancel:    cancel,
		mic:       mic,
		stream:    stream,
		capture:   capture,
		recvCh:    make(chan recvResult, 64),
		drainedCh: make(chan struct{}, 1),
		toolCh:    make(chan toolDone, 8),
		goodbyeCh: make(chan goodbyeResult, 1),
		captureCh: make(chan error, 1),
		cmdCh:     make(chan command),
		done:      make(chan struct{}),
	}
	s.player = voice.NewPlayer(c.deps.Output, c.deps.Clock,
		voice.WithOnEnded(s.notifyDrained),
		voice.WithPlayerLogger(c.logger),
	)
	// SetGain may have run while acquiring.
	if err := capture.SetGain(c.Gain()); err != nil {
		c.logger.Warn("apply microphone gain failed", "error", err)
	}
	c.current = s
	c.mu.Unlock()

	c.deps.Metrics.SessionStarted()
	c.setState(StateListening)
	c.logger.Info("live session started", "voice", c.cfg.Voice)

	go s.receiveLoop()
	go s.captureLoop()
	go s.run()
	return nil
}

// pendingStart marks a Start that is still acquiring resources.
type pendingStart struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

// acquire opens the microphone, then the remote stream. When the stream
// fails the microphone is released again.
func (c *Controller) acquire(ctx context.Context) (voice.InputStream, Stream, error) {
	mic, err := c.deps.Microphone.Open(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open microphone: %w", err)
	}
	stream, err := c.deps.Connector.Connect(ctx, ConnectOptions{
		Voice:              c.cfg.Voice,
		SystemInstruction:  c.cfg.Profile.SystemInstruction,
		InputTranscription: c.cfg.Transcription,
		Tools:              c.enabledTools(),
	})
	if err != nil {
		c.releaseAcquired(mic, nil)
		return nil, nil, fmt.Errorf("open remote stream: %w", err)
	}
	return mic, stream, nil
}

func (c *Controller) releaseAcquired(mic voice.InputStream, stream Stream) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Warn("close remote stream failed", "error", err)
		}
	}
	if mic != nil {
		if err := mic.Close(); err != nil {
			c.logger.Warn("release microphone failed", "error", err)
		}
	}
}

// abortStart cancels a Start still acquiring resources. The returned
// channel is closed once that Start has released them; it is nil when no
// Start was pending.
func (c *Controller) abortStart() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.starting == nil {
		return nil
	}
	c.starting.aborted = true
	c.starting.cancel()
	return c.starting.done
}

// Stop ends the active session abruptly: playback stops and every
// resource is released without a goodbye. It is a no-op without an active
// session.
func (c *Controller) Stop() {
	if done := c.abortStart(); done != nil {
		<-done
		return
	}
	s := c.active()
	if s == nil {
		return
	}
	s.send(command{kind: cmdStop})
	<-s.done
}

// EndPolitely begins a graceful end: capture and stream close at once and
// a goodbye is spoken before teardown. Calling it again while ending is a
// no-op.
func (c *Controller) EndPolitely() {
	if c.abortStart() != nil {
		return
	}
	if s := c.active(); s != nil {
		s.send(command{kind: cmdEnd})
	}
}

// Done is closed when the current session, if any, has torn down.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.current.done
}

func (c *Controller) active() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.isDone() {
		return nil
	}
	return c.current
}

func (c *Controller) enabledTools() []string {
	var names []string
	if c.deps.Tools.Image != nil {
		names = append(names, tools.ImageToolName)
	}
	if c.deps.Tools.Search != nil {
		names = append(names, tools.SearchToolName)
	}
	return names
}

func (c *Controller) failStart(err error) {
	c.logger.Error("live session failed to start", "error", err)
	c.setState(StateError)
	c.deps.Metrics.SessionEnded(OutcomeStartError)
	c.emit(SessionEndedEvent{Outcome: OutcomeStartError, Err: err})
}

func (c *Controller) setState(to State) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.Debug("state changed", "from", from.String(), "to", to.String())
	c.deps.Metrics.StateChanged(to)
	c.emit(StateChangedEvent{From: from, To: to})
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.logger.Debug("dropping live event", "type", e.EventType())
	}
}

func (c *Controller) setTitle(title string) {
	c.titleMu.Lock()
	c.title = title
	c.titleMu.Unlock()
	c.emit(TitleChangedEvent{Title: title})
}

type cmdKind int

const (
	cmdStop cmdKind = iota
	cmdEnd
)

type command struct {
	kind cmdKind
}

type recvResult struct {
	ev  ServerEvent
	err error
}

type toolDone struct {
	callID string
	name   string
	result tools.Result
}

type goodbyeResult struct {
	audio []byte
	err   error
}

// session is the per-attempt state. Fields below the channel block are
// owned by the run goroutine.
type session struct {
	c      *Controller
	ctx    context.Context
	cancel context.CancelFunc

	mic     voice.InputStream
	stream  Stream
	capture *voice.Capture
	player  *voice.Player
	muted   atomic.Bool

	recvCh    chan recvResult
	drainedCh chan struct{}
	toolCh    chan toolDone
	goodbyeCh chan goodbyeResult
	captureCh chan error
	cmdCh     chan command
	done      chan struct{}
	finished  atomic.Bool

	isEnding       bool
	goodbyePlaying bool
	pendingInput   strings.Builder
	pendingOutput  strings.Builder
	turnID         string
	composing      bool
	micClosed      bool
	streamClosed   bool
}

func (s *session) isDone() bool {
	return s.finished.Load()
}

func (s *session) send(cmd command) {
	select {
	case s.cmdCh <- cmd:
	case <-s.done:
	}
}

func (s *session) notifyDrained() {
	select {
	case s.drainedCh <- struct{}{}:
	default:
	}
}

func (s *session) receiveLoop() {
	for {
		ev, err := s.stream.Receive(s.ctx)
		select {
		case s.recvCh <- recvResult{ev: ev, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) captureLoop() {
	err := s.capture.Run(s.ctx, s.mic, func(f voice.Frame) error {
		if s.muted.Load() {
			return errMuted
		}
		return s.stream.SendAudio(s.ctx, f)
	})
	select {
	case s.captureCh <- err:
	case <-s.done:
	}
}

var errMuted = errors.New("live: capture muted")

func (s *session) run() {
	c := s.c
	defer close(s.done)

	var inactivity *time.Timer
	var inactivityCh <-chan time.Time
	if c.cfg.InactivityTimeout > 0 {
		inactivity = time.NewTimer(c.cfg.InactivityTimeout)
		inactivityCh = inactivity.C
		defer inactivity.Stop()
	}
	touch := func() {
		if inactivity == nil {
			return
		}
		if !inactivity.Stop() {
			select {
			case <-inactivity.C:
			default:
			}
		}
		inactivity.Reset(c.cfg.InactivityTimeout)
	}

	for !s.finished.Load() {
		select {
		case <-s.ctx.Done():
			s.teardown(StateIdle, OutcomeStopped, nil)

		case cmd := <-s.cmdCh:
			switch cmd.kind {
			case cmdStop:
				s.teardown(StateIdle, OutcomeStopped, nil)
			case cmdEnd:
				s.beginEnding("user")
			}

		case r := <-s.recvCh:
			if r.err != nil {
				if s.isEnding {
					continue
				}
				s.teardown(StateError, OutcomeTransport, fmt.Errorf("remote stream closed: %w", r.err))
				continue
			}
			touch()
			s.handleServerEvent(r.ev)

		case err := <-s.captureCh:
			if s.isEnding {
				continue
			}
			if err == nil {
				err = errors.New("microphone stream ended")
			}
			s.teardown(StateError, OutcomeCapture, fmt.Errorf("capture: %w", err))

		case <-s.drainedCh:
			s.handleDrained()

		case td := <-s.toolCh:
			s.handleToolDone(td)

		case gb := <-s.goodbyeCh:
			s.handleGoodbye(gb)

		case <-inactivityCh:
			if s.isEnding {
				continue
			}
			s.teardown(StateError, OutcomeInactivity, errors.New("no activity from remote stream"))
		}
	}
}

func (s *session) handleServerEvent(ev ServerEvent) {
	c := s.c
	if s.isEnding {
		return
	}

	if ev.RecognitionError {
		store := c.deps.Transcript
		store.Append(types.Message{
			ID:     store.NewID(transcript.PrefixTranscriptionError),
			Sender: types.SenderSystem,
			Text:   c.cfg.Profile.TranscriptionError,
		})
		s.pendingInput.Reset()
		c.emit(InputTranscriptEvent{})
	}

	if ev.InputTranscript != "" {
		if s.player.Len() > 0 {
			s.bargeIn()
		}
		s.pendingInput.WriteString(ev.InputTranscript)
		c.emit(InputTranscriptEvent{Text: s.pendingInput.String()})
		if phrase, ok := c.stops.Match(s.pendingInput.String()); ok {
			c.logger.Info("stop phrase detected", "phrase", phrase)
			s.beginEnding("stop_phrase")
			return
		}
	}

	if s.turnID == "" && (ev.OutputTranscript != "" || len(ev.Audio) > 0 || len(ev.ToolCalls) > 0) {
		s.openAITurn()
	}

	if ev.OutputTranscript != "" {
		s.pendingOutput.WriteString(ev.OutputTranscript)
	}

	for _, chunk := range ev.Audio {
		if _, err := s.player.Enqueue(chunk); err != nil {
			c.logger.Warn("dropping audio chunk", "turn_id", s.turnID, "error", err)
			continue
		}
		c.setState(StateSpeaking)
	}

	for _, call := range ev.ToolCalls {
		s.dispatchTool(call)
	}

	if ev.Interrupted && s.player.Len() > 0 {
		s.bargeIn()
	}

	if ev.TurnComplete {
		s.completeTurn()
	}
}

func (s *session) bargeIn() {
	n := s.player.StopAll()
	if n == 0 {
		return
	}
	s.c.deps.Metrics.BargeIn()
	s.c.logger.Debug("barge-in", "stopped_buffers", n)
	if s.c.State() == StateSpeaking {
		s.c.setState(StateListening)
	}
}

func (s *session) openAITurn() {
	c := s.c
	store := c.deps.Transcript
	if in := strings.TrimSpace(s.pendingInput.String()); in != "" {
		store.Append(types.Message{ID: store.NewID(transcript.PrefixUser), Sender: types.SenderUser, Text: in})
		s.maybeAutoTitle(in)
	}
	s.pendingInput.Reset()
	c.emit(InputTranscriptEvent{})
	s.setComposing(true)
	s.turnID = store.NewID(transcript.PrefixAI)
}

func (s *session) completeTurn() {
	c := s.c
	if text := strings.TrimSpace(s.pendingOutput.String()); text != "" && s.turnID != "" {
		c.deps.Transcript.SetText(s.turnID, types.SenderAI, text)
	}
	s.setComposing(false)
	s.pendingInput.Reset()
	s.pendingOutput.Reset()
	s.turnID = ""
	c.emit(InputTranscriptEvent{})
}

func (s *session) setComposing(v bool) {
	if s.composing == v {
		return
	}
	s.composing = v
	s.c.emit(ComposingEvent{Active: v})
}

// maybeAutoTitle names an untitled conversation after its first user
// message.
func (s *session) maybeAutoTitle(firstText string) {
	c := s.c
	if c.Title() != "" && c.Title() != types.DefaultConversationTitle {
		return
	}
	users := 0
	for _, m := range c.deps.Transcript.Snapshot() {
		if m.Sender == types.SenderUser {
			users++
		}
	}
	if users != 1 {
		return
	}
	title := types.TitleFromText(firstText)
	c.setTitle(title)
	if c.deps.History == nil || c.cfg.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, c.cfg.SaveTimeout)
	defer cancel()
	if err := c.deps.History.Rename(ctx, c.cfg.ConversationID, title); err != nil {
		c.logger.Warn("rename conversation failed", "error", err)
	}
}

func (s *session) dispatchTool(call ToolCall) {
	c := s.c
	req, err := tools.Parse(call.Name, call.Args)
	if err != nil {
		c.logger.Warn("rejecting tool call", "tool", call.Name, "call_id", call.ID, "error", err)
		s.sendToolResult(call.ID, call.Name, map[string]any{"error": err.Error()})
		return
	}
	if c.State() == StateListening {
		c.setState(StateThinking)
	}

	turnID := s.turnID
	timeout := c.cfg.ToolTimeout
	c.logger.Info("tool call", "tool", call.Name, "call_id", call.ID, "turn_id", turnID)
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), timeout)
		defer cancel()
		res := c.deps.Tools.Run(ctx, req, turnID, c.deps.Transcript)
		select {
		case s.toolCh <- toolDone{callID: call.ID, name: call.Name, result: res}:
		case <-s.done:
		}
	}()
}

func (s *session) handleToolDone(td toolDone) {
	c := s.c
	c.deps.Metrics.ToolCompleted(td.result.Tool, td.result.Status(), td.result.Duration)
	if s.isEnding {
		return
	}
	s.sendToolResult(td.callID, td.name, td.result.Response)
	if c.State() == StateThinking {
		if s.player.Len() > 0 {
			c.setState(StateSpeaking)
		} else {
			c.setState(StateListening)
		}
	}
}

func (s *session) sendToolResult(callID, name string, response map[string]any) {
	if err := s.stream.SendToolResult(s.ctx, callID, name, response); err != nil {
		s.c.logger.Warn("send tool result failed", "tool", name, "call_id", callID, "error", err)
	}
}

func (s *session) handleDrained() {
	if s.player.Len() != 0 {
		return
	}
	if s.isEnding {
		if s.goodbyePlaying {
			s.teardown(StateIdle, OutcomeEnded, nil)
		}
		return
	}
	if s.c.State() == StateSpeaking {
		s.c.setState(StateListening)
	}
}

// beginEnding silences capture, closes the stream and requests the goodbye.
func (s *session) beginEnding(reason string) {
	c := s.c
	if s.isEnding {
		return
	}
	s.isEnding = true
	c.logger.Info("ending live session", "reason", reason)
	c.setState(StateEnding)

	s.releaseCapture()
	s.closeStream()
	s.player.StopAll()
	s.pendingInput.Reset()
	s.pendingOutput.Reset()
	s.turnID = ""
	s.setComposing(false)
	c.emit(InputTranscriptEvent{})

	if c.deps.Speaker == nil {
		s.handleGoodbye(goodbyeResult{err: errNoSpeaker})
		return
	}
	text, voiceName, timeout := c.cfg.Profile.Goodbye, c.cfg.Voice, c.cfg.GoodbyeTimeout
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		audio, err := c.deps.Speaker.Speak(ctx, text, voiceName)
		select {
		case s.goodbyeCh <- goodbyeResult{audio: audio, err: err}:
		case <-s.done:
		}
	}()
}

func (s *session) handleGoodbye(gb goodbyeResult) {
	c := s.c
	if s.finished.Load() {
		return
	}
	err := gb.err
	if err == nil && len(gb.audio) == 0 {
		err = errors.New("empty goodbye audio")
	}
	if err == nil {
		if _, serr := s.player.Schedule(gb.audio); serr != nil {
			err = serr
		}
	}
	if err != nil {
		c.logger.Warn("goodbye utterance failed, ending with text", "error", err)
		store := c.deps.Transcript
		store.Append(types.Message{
			ID:     store.NewID(transcript.PrefixGoodbye),
			Sender: types.SenderAI,
			Text:   c.cfg.Profile.Goodbye,
		})
		s.teardown(StateIdle, OutcomeEnded, nil)
		return
	}
	s.goodbyePlaying = true
}

func (s *session) releaseCapture() {
	s.muted.Store(true)
	if s.micClosed {
		return
	}
	s.micClosed = true
	if err := s.mic.Close(); err != nil {
		s.c.logger.Warn("release microphone failed", "error", err)
	}
}

func (s *session) closeStream() {
	if s.streamClosed {
		return
	}
	s.streamClosed = true
	if err := s.stream.Close(); err != nil {
		s.c.logger.Warn("close remote stream failed", "error", err)
	}
}

// teardown releases every resource regardless of earlier failures and
// leaves the controller in final.
func (s *session) teardown(final State, outcome string, cause error) {
	c := s.c
	if s.finished.Load() {
		return
	}
	s.isEnding = true
	s.releaseCapture()
	s.closeStream()
	s.player.StopAll()
	s.setComposing(false)
	s.cancel()

	if c.deps.History != nil && c.cfg.ConversationID != "" {
		conv := c.Conversation()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), c.cfg.SaveTimeout)
		if err := c.deps.History.Save(ctx, conv.ID, conv.Messages, conv.Title); err != nil {
			c.logger.Warn("save conversation failed", "error", err)
		}
		cancel()
	}

	if cause != nil {
		c.logger.Error("live session failed", "outcome", outcome, "error", cause)
	} else {
		c.logger.Info("live session ended", "outcome", outcome)
	}
	c.setState(final)
	c.deps.Metrics.SessionEnded(outcome)
	c.emit(SessionEndedEvent{Outcome: outcome, Err: cause})
	s.finished.Store(true)
}
