package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/protocol"
)

type fakeController struct {
	mic      live.Microphone
	startErr error
	store    *transcript.Store
	events   chan live.Event

	mu      sync.Mutex
	gain    float64
	state   live.State
	samples int
	done    chan struct{}
	ended   bool
}

func newFakeController(mic live.Microphone) *fakeController {
	return &fakeController{
		mic:    mic,
		store:  transcript.New([]types.Message{{ID: "user-1", Sender: types.SenderUser, Text: "Bonjour"}}),
		events: make(chan live.Event, 16),
		gain:   1,
		done:   make(chan struct{}),
	}
}

func (f *fakeController) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	in, err := f.mic.Open(ctx)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]float32, 160)
		for {
			n, err := in.Read(buf)
			f.mu.Lock()
			f.samples += n
			f.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	f.mu.Lock()
	f.state = live.StateListening
	f.mu.Unlock()
	return nil
}

func (f *fakeController) end(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended {
		return
	}
	f.ended = true
	f.state = live.StateIdle
	f.events <- live.StateChangedEvent{From: live.StateListening, To: live.StateIdle}
	f.events <- live.SessionEndedEvent{Outcome: outcome}
	close(f.done)
}

func (f *fakeController) Stop() { f.end(live.OutcomeStopped) }
func (f *fakeController) EndPolitely() { f.end(live.OutcomeEnded) }

func (f *fakeController) SetGain(g float64) error {
	if g < 0.5 || g > 2.5 {
		return errors.New("gain out of range")
	}
	f.mu.Lock()
	f.gain = g
	f.mu.Unlock()
	return nil
}

func (f *fakeController) Gain() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gain
}

func (f *fakeController) State() live.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) Events() <-chan live.Event { return f.events }
func (f *fakeController) Transcript() *transcript.Store { return f.store }
func (f *fakeController) Done() <-chan struct{} { return f.done }
func (f *fakeController) Conversation() types.Conversation {
	return types.Conversation{ID: "c1", Title: types.DefaultConversationTitle, Messages: f.store.Snapshot()}
}

func (f *fakeController) receivedSamples() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.samples
}

type audioCounter struct {
	mu    sync.Mutex
	bytes map[string]int
}

func (a *audioCounter) RecordLiveAudio(direction string, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bytes == nil {
		a.bytes = make(map[string]int)
	}
	a.bytes[direction] += n
}

func (a *audioCounter) get(direction string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes[direction]
}

type liveHarness struct {
	conn    *websocket.Conn
	ctrl    chan *fakeController
	runErr  chan error
	metrics *audioCounter
}

func startHarness(t *testing.T, startErr error) *liveHarness {
	t.Helper()
	h := &liveHarness{
		ctrl:    make(chan *fakeController, 1),
		runErr:  make(chan error, 1),
		metrics: &audioCounter{},
	}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s, err := New(Dependencies{
			Conn:      conn,
			Metrics:   h.metrics,
			Hello:     protocol.ClientHello{Type: "hello", InputSampleRateHz: 16000},
			Voice:     "Kore",
			SessionID: "live_test",
			Config: Config{
				MaxAudioFrameBytes:  4096,
				MaxJSONMessageBytes: 4096,
				PingInterval:        time.Hour,
				WriteTimeout:        time.Second,
				MaxSessionDuration:  time.Minute,
			},
		})
		if err != nil {
			h.runErr <- err
			return
		}
		ctrl := newFakeController(s.Microphone())
		ctrl.startErr = startErr
		h.ctrl <- ctrl
		h.runErr <- s.Run(ctrl)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	h.conn = conn
	return h
}

func (h *liveHarness) readUntil(t *testing.T, typ string) map[string]any {
	t.Helper()
	require.NoError(t, h.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		mt, data, err := h.conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		if mt != websocket.TextMessage {
			continue
		}
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestLiveSession_StartFailureReportsAndCloses(t *testing.T) {
	h := startHarness(t, errors.New("open remote stream: dial refused"))

	errMsg := h.readUntil(t, "error")
	require.Equal(t, "upstream_unavailable", errMsg["code"])
	require.Equal(t, true, errMsg["close"])

	ended := h.readUntil(t, "session_ended")
	require.Equal(t, live.OutcomeStartError, ended["outcome"])

	select {
	case err := <-h.runErr:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestLiveSession_RelaysAudioControlsAndEnd(t *testing.T) {
	h := startHarness(t, nil)

	ready := h.readUntil(t, "ready")
	require.Equal(t, "c1", ready["conversation_id"])
	require.Equal(t, "Kore", ready["voice"])
	tr := h.readUntil(t, "transcript")
	require.Len(t, tr["messages"], 1)

	ctrl := <-h.ctrl

	require.NoError(t, h.conn.WriteMessage(websocket.BinaryMessage, make([]byte, 640)))
	require.Eventually(t, func() bool { return ctrl.receivedSamples() == 320 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return h.metrics.get("in") == 640 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_gain","gain":9}`)))
	errMsg := h.readUntil(t, "error")
	require.Equal(t, "invalid_gain", errMsg["code"])

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"set_gain","gain":2}`)))
	require.Eventually(t, func() bool { return ctrl.Gain() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)))
	ended := h.readUntil(t, "session_ended")
	require.Equal(t, live.OutcomeEnded, ended["outcome"])

	select {
	case err := <-h.runErr:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return")
	}
}

func TestLiveSession_OddFrameRejected(t *testing.T) {
	h := startHarness(t, nil)
	h.readUntil(t, "ready")

	require.NoError(t, h.conn.WriteMessage(websocket.BinaryMessage, make([]byte, 641)))
	warn := h.readUntil(t, "warning")
	require.Equal(t, "audio_frame_misaligned", warn["code"])

	require.NoError(t, h.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)))
	ended := h.readUntil(t, "session_ended")
	require.Equal(t, live.OutcomeStopped, ended["outcome"])
}

func TestWSDevice_ResetDropsQueuedAudio(t *testing.T) {
	s := &LiveSession{
		urgentOut:  make(chan frame, 2),
		regularOut: make(chan frame, 2),
	}
	d := newWSDevice(s)

	require.NoError(t, d.Write([]byte{1, 2}))
	queued := <-s.regularOut
	require.False(t, d.isStale(queued.generation))

	require.NoError(t, d.Reset())
	require.True(t, d.isStale(queued.generation))

	reset := <-s.urgentOut
	require.Contains(t, string(reset.data), `"type":"audio_reset"`)

	require.NoError(t, d.Write([]byte{3, 4}))
	require.NoError(t, d.Write([]byte{5, 6}))
	require.ErrorIs(t, d.Write([]byte{7, 8}), errBackpressure)
}

func TestWSMicrophone_DropsUntilOpened(t *testing.T) {
	m := newWSMicrophone(16000)
	require.False(t, m.Write([]byte{0, 0}))

	in, err := m.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, 16000, in.SampleRate())

	got := make(chan int, 1)
	go func() {
		buf := make([]float32, 8)
		n, _ := in.Read(buf)
		got <- n
	}()
	require.True(t, m.Write([]byte{0, 0x40, 0, 0xC0}))
	require.Equal(t, 2, <-got)

	require.NoError(t, in.Close())
	require.False(t, m.Write([]byte{0, 0}))
}
