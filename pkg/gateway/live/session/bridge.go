package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

var errBackpressure = errors.New("live outbound backpressure")

// wsMicrophone turns client binary frames into a capture stream. Each Open
// starts a fresh pipe; frames that arrive while no stream is open are
// dropped.
type wsMicrophone struct {
	rate int

	mu sync.Mutex
	pw *io.PipeWriter
}

var _ live.Microphone = (*wsMicrophone)(nil)

func newWSMicrophone(rate int) *wsMicrophone {
	return &wsMicrophone{rate: rate}
}

func (m *wsMicrophone) Open(ctx context.Context) (voice.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	m.mu.Lock()
	old := m.pw
	m.pw = pw
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return voice.NewPCM16Input(pr, m.rate), nil
}

// Write forwards one client frame. It blocks until the capture loop has
// read the frame or released the stream.
func (m *wsMicrophone) Write(pcm []byte) (accepted bool) {
	m.mu.Lock()
	pw := m.pw
	m.mu.Unlock()
	if pw == nil || len(pcm) == 0 {
		return false
	}
	if _, err := pw.Write(pcm); err != nil {
		m.mu.Lock()
		if m.pw == pw {
			m.pw = nil
		}
		m.mu.Unlock()
		return false
	}
	return true
}

// Close ends the current capture stream with io.EOF.
func (m *wsMicrophone) Close() {
	m.mu.Lock()
	pw := m.pw
	m.pw = nil
	m.mu.Unlock()
	if pw != nil {
		_ = pw.Close()
	}
}

// wsDevice plays model audio by streaming it to the client. Reset bumps
// the audio generation so queued frames of the old generation are never
// written, and tells the client to flush its own buffer.
type wsDevice struct {
	s          *LiveSession
	generation atomic.Uint64
}

var _ voice.Device = (*wsDevice)(nil)

func newWSDevice(s *LiveSession) *wsDevice {
	d := &wsDevice{s: s}
	d.generation.Store(1)
	return d
}

func (d *wsDevice) Write(pcm []byte) error {
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	return d.s.enqueueNormal(audioFrame(d.generation.Load(), buf))
}

func (d *wsDevice) Reset() error {
	d.generation.Add(1)
	return d.s.sendJSONPriority(audioReset("interrupted"))
}

func (d *wsDevice) isStale(gen uint64) bool {
	return gen < d.generation.Load()
}
