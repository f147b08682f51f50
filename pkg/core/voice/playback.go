package voice

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Device is an audio output that plays whatever it is written, in order.
type Device interface {
	Write(pcm []byte) error
	// Reset discards audio that was written but has not played yet.
	Reset() error
}

// Chunk is one encoded audio payload from the model.
type Chunk struct {
	Data     []byte
	MIMEType string
}

// Scheduled describes where a buffer landed on the output timeline.
type Scheduled struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// End returns the timeline position at which the buffer finishes.
func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

type playing struct {
	Scheduled
	timer Timer
}

// Player schedules buffers back to back on the output timeline and tracks
// the ones still playing. Enqueue must be called from a single goroutine
// so buffers are scheduled in receipt order.
type Player struct {
	device  Device
	clock   Clock
	onEnded func()
	logger  *slog.Logger

	mu      sync.Mutex
	next    time.Duration
	seq     uint64
	playing map[uint64]*playing
}

// PlayerOption configures a Player.
type PlayerOption func(*Player)

// WithOnEnded registers f to run, on a timer goroutine, each time a
// tracked buffer finishes playing. Buffers removed by StopAll never
// trigger it.
func WithOnEnded(f func()) PlayerOption {
	return func(p *Player) { p.onEnded = f }
}

// WithPlayerLogger sets the logger.
func WithPlayerLogger(l *slog.Logger) PlayerOption {
	return func(p *Player) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlayer returns a Player writing to device on clock's timeline.
func NewPlayer(device Device, clock Clock, opts ...PlayerOption) *Player {
	if clock == nil {
		clock = NewSystemClock()
	}
	p := &Player{
		device:  device,
		clock:   clock,
		logger:  slog.Default(),
		playing: make(map[uint64]*playing),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decode converts a chunk to mono PCM16LE at PlaybackSampleRate.
func Decode(c Chunk) ([]byte, error) {
	f, err := ParsePCMMIMEType(c.MIMEType, PlaybackSampleRate)
	if err != nil {
		return nil, err
	}
	pcm := DownmixPCM16(c.Data, f.Channels)
	if f.SampleRate == PlaybackSampleRate {
		return pcm, nil
	}
	rs := newResampler(f.SampleRate, PlaybackSampleRate)
	return EncodePCM16(rs.process(DecodePCM16(pcm), nil)), nil
}

// Enqueue decodes c and schedules it at max(next playback time, now).
func (p *Player) Enqueue(c Chunk) (Scheduled, error) {
	pcm, err := Decode(c)
	if err != nil {
		return Scheduled{}, fmt.Errorf("decode audio chunk: %w", err)
	}
	return p.Schedule(pcm)
}

// Schedule plays pcm, already at PlaybackSampleRate, after everything
// scheduled before it.
func (p *Player) Schedule(pcm []byte) (Scheduled, error) {
	dur := PlaybackFormat.Duration(len(pcm))
	if dur <= 0 {
		return Scheduled{}, nil
	}
	if p.device != nil {
		if err := p.device.Write(pcm); err != nil {
			return Scheduled{}, fmt.Errorf("write audio: %w", err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	start := max(p.next, now)
	p.next = start + dur
	p.seq++
	entry := &playing{Scheduled: Scheduled{ID: p.seq, Start: start, Duration: dur}}
	id := entry.ID
	entry.timer = p.clock.AfterFunc(entry.End()-now, func() { p.finish(id) })
	p.playing[id] = entry
	return entry.Scheduled, nil
}

func (p *Player) finish(id uint64) {
	p.mu.Lock()
	_, ok := p.playing[id]
	delete(p.playing, id)
	p.mu.Unlock()
	if ok && p.onEnded != nil {
		p.onEnded()
	}
}

// StopAll interrupts every tracked buffer and returns how many were
// stopped. With nothing playing it does nothing.
func (p *Player) StopAll() int {
	p.mu.Lock()
	n := len(p.playing)
	if n == 0 {
		p.mu.Unlock()
		return 0
	}
	for id, entry := range p.playing {
		entry.timer.Stop()
		delete(p.playing, id)
	}
	p.next = p.clock.Now()
	p.mu.Unlock()

	if p.device != nil {
		if err := p.device.Reset(); err != nil {
			p.logger.Warn("audio device reset failed", "error", err)
		}
	}
	return n
}

// Len returns how many buffers are still playing.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.playing)
}

// NextPlaybackTime returns the timeline position where the next buffer
// would start if nothing else were scheduled.
func (p *Player) NextPlaybackTime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
