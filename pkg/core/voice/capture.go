package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"sync/atomic"
)

const (
	MinGain     = 0.5
	MaxGain     = 2.5
	DefaultGain = 1.0
)

// ErrGainOutOfRange is returned for gains outside [MinGain, MaxGain].
var ErrGainOutOfRange = errors.New("voice: gain out of range")

// InputStream is a source of mono float samples, typically a microphone.
// Read blocks until samples are available; Close unblocks it.
type InputStream interface {
	SampleRate() int
	Read(p []float32) (int, error)
	Close() error
}

// Frame is one fixed-size block of 16 kHz PCM16LE audio ready to send.
type Frame struct {
	Data     []byte
	MIMEType string
	// Level is the RMS level of the frame after gain, for meters.
	Level float64
}

// Base64 returns the frame payload base64-encoded.
func (f Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

// Capture converts an InputStream into a push sequence of frames.
type Capture struct {
	frameSamples int
	readSamples  int
	gain         atomic.Uint64
}

// NewCapture returns a capture pipeline. frameSamples <= 0 selects
// DefaultFrameSamples.
func NewCapture(gain float64, frameSamples int) (*Capture, error) {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	c := &Capture{frameSamples: frameSamples, readSamples: frameSamples}
	if err := c.SetGain(gain); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateGain reports whether g is an accepted gain.
func ValidateGain(g float64) error {
	if math.IsNaN(g) || g < MinGain || g > MaxGain {
		return fmt.Errorf("%w: %.2f not in [%.1f, %.1f]", ErrGainOutOfRange, g, MinGain, MaxGain)
	}
	return nil
}

// SetGain changes the gain. It takes effect on the next buffer read.
func (c *Capture) SetGain(g float64) error {
	if err := ValidateGain(g); err != nil {
		return err
	}
	c.gain.Store(math.Float64bits(g))
	return nil
}

// Gain returns the current gain.
func (c *Capture) Gain() float64 {
	return math.Float64frombits(c.gain.Load())
}

// Run reads in until EOF, an error, or ctx cancellation and calls emit for
// every complete frame in capture order. A trailing partial frame is
// emitted at EOF. Run does not close in; closing it is how callers
// interrupt a blocked Read.
func (c *Capture) Run(ctx context.Context, in InputStream, emit func(Frame) error) error {
	rate := in.SampleRate()
	if rate <= 0 {
		return fmt.Errorf("voice: invalid input sample rate %d", rate)
	}
	rs := newResampler(rate, CaptureSampleRate)
	buf := make([]float32, c.readSamples)
	pending := make([]float32, 0, c.frameSamples*2)

	flush := func(n int) error {
		frame := pending[:n]
		if err := emit(Frame{
			Data:     EncodePCM16(frame),
			MIMEType: CaptureMIMEType,
			Level:    RMSLevel(frame),
		}); err != nil {
			return err
		}
		pending = append(pending[:0], pending[n:]...)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := in.Read(buf)
		if n > 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			gain := float32(c.Gain())
			for i := range buf[:n] {
				buf[i] *= gain
			}
			pending = rs.process(buf[:n], pending)
			for len(pending) >= c.frameSamples {
				if err := flush(c.frameSamples); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if len(pending) > 0 {
					return flush(len(pending))
				}
				return nil
			}
			return readErr
		}
	}
}

// PCM16Input adapts a byte stream of mono PCM16LE samples to an
// InputStream.
type PCM16Input struct {
	r    io.ReadCloser
	rate int
	raw  []byte
	odd  []byte
}

// NewPCM16Input wraps r, which yields PCM16LE at rate.
func NewPCM16Input(r io.ReadCloser, rate int) *PCM16Input {
	return &PCM16Input{r: r, rate: rate}
}

func (p *PCM16Input) SampleRate() int { return p.rate }

func (p *PCM16Input) Read(out []float32) (int, error) {
	want := len(out) * bytesPerSample
	if cap(p.raw) < want {
		p.raw = make([]byte, want)
	}
	raw := p.raw[:want]
	copied := copy(raw, p.odd)
	p.odd = p.odd[:0]
	n, err := p.r.Read(raw[copied:])
	n += copied
	whole := n - n%bytesPerSample
	if whole < n {
		p.odd = append(p.odd, raw[whole:n]...)
	}
	samples := DecodePCM16(raw[:whole])
	copy(out, samples)
	return len(samples), err
}

func (p *PCM16Input) Close() error { return p.r.Close() }
