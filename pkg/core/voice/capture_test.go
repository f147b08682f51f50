package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
)

type sliceInput struct {
	rate   int
	chunks [][]float32
	closed bool
}

func (s *sliceInput) SampleRate() int { return s.rate }

func (s *sliceInput) Read(p []float32) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func (s *sliceInput) Close() error { s.closed = true; return nil }

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sample(frame Frame, i int) int16 {
	return int16(binary.LittleEndian.Uint16(frame.Data[i*2:]))
}

func TestCapture_FixedSizeFramesInOrder(t *testing.T) {
	c, err := NewCapture(1.0, 4)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	in := &sliceInput{rate: CaptureSampleRate, chunks: [][]float32{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
	}}
	var frames []Frame
	err = c.Run(context.Background(), in, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3 (4 + 4 + trailing 1)", len(frames))
	}
	if len(frames[0].Data) != 8 || len(frames[1].Data) != 8 || len(frames[2].Data) != 2 {
		t.Fatalf("frame sizes = %d %d %d", len(frames[0].Data), len(frames[1].Data), len(frames[2].Data))
	}
	if frames[0].MIMEType != "audio/pcm;rate=16000" {
		t.Fatalf("MIMEType = %q", frames[0].MIMEType)
	}
	want := []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	for i, w := range want {
		f := frames[i/4]
		got := sample(f, i%4)
		if exp := int16(w * math.MaxInt16); got != exp {
			t.Fatalf("sample %d = %d, want %d", i, got, exp)
		}
	}
	if in.closed {
		t.Fatalf("Run closed the input stream")
	}
}

func TestCapture_GainAndClipping(t *testing.T) {
	c, err := NewCapture(2.5, 2)
	if err != nil {
		t.Fatalf("NewCapture: %v", err)
	}
	in := &sliceInput{rate: CaptureSampleRate, chunks: [][]float32{{0.8, -0.8, 0.1, -0.1}}}
	var frames []Frame
	if err := c.Run(context.Background(), in, func(f Frame) error { frames = append(frames, f); return nil }); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := sample(frames[0], 0); got != math.MaxInt16 {
		t.Fatalf("clipped positive = %d, want %d", got, math.MaxInt16)
	}
	if got := sample(frames[0], 1); got != -math.MaxInt16 {
		t.Fatalf("clipped negative = %d, want %d", got, -math.MaxInt16)
	}
	gained := float32(0.25)
	if got, want := sample(frames[1], 0), int16(gained*math.MaxInt16); got != want {
		t.Fatalf("gained sample = %d, want %d", got, want)
	}
}

func TestCapture_SetGainAppliesToNextBuffer(t *testing.T) {
	c, _ := NewCapture(1.0, 1)
	in := &sliceInput{rate: CaptureSampleRate, chunks: [][]float32{{0.2}, {0.2}}}
	var levels []int16
	err := c.Run(context.Background(), in, func(f Frame) error {
		levels = append(levels, sample(f, 0))
		if len(levels) == 1 {
			if err := c.SetGain(2.0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if levels[1] <= levels[0] {
		t.Fatalf("gain change not applied: %v", levels)
	}
}

func TestCapture_GainRange(t *testing.T) {
	c, _ := NewCapture(DefaultGain, 0)
	for _, g := range []float64{0.49, 2.51, math.NaN()} {
		if err := c.SetGain(g); !errors.Is(err, ErrGainOutOfRange) {
			t.Fatalf("SetGain(%v) err = %v, want ErrGainOutOfRange", g, err)
		}
	}
	if c.Gain() != DefaultGain {
		t.Fatalf("rejected gain changed value to %v", c.Gain())
	}
	if _, err := NewCapture(3, 0); err == nil {
		t.Fatalf("NewCapture(3) succeeded")
	}
}

func TestCapture_ResamplesTo16k(t *testing.T) {
	c, _ := NewCapture(1.0, 160)
	in := &sliceInput{rate: 48000, chunks: [][]float32{constant(2400, 0.5), constant(2400, 0.5)}}
	total := 0
	err := c.Run(context.Background(), in, func(f Frame) error {
		total += len(f.Data) / 2
		for i := 0; i < len(f.Data)/2; i++ {
			if s := sample(f, i); s < 16000 || s > 16500 {
				t.Fatalf("resampled constant drifted: %d", s)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if total < 1595 || total > 1600 {
		t.Fatalf("total samples = %d, want ~1600", total)
	}
}

func TestCapture_EmitErrorStops(t *testing.T) {
	c, _ := NewCapture(1.0, 1)
	in := &sliceInput{rate: CaptureSampleRate, chunks: [][]float32{{0.1, 0.2, 0.3}}}
	boom := errors.New("send failed")
	calls := 0
	err := c.Run(context.Background(), in, func(Frame) error { calls++; return boom })
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("err = %v calls = %d", err, calls)
	}
}

func TestCapture_CanceledContext(t *testing.T) {
	c, _ := NewCapture(1.0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := &sliceInput{rate: CaptureSampleRate, chunks: [][]float32{{0.1}}}
	if err := c.Run(ctx, in, func(Frame) error { t.Fatalf("emitted after cancel"); return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPCM16Input_HandlesOddByteBoundaries(t *testing.T) {
	pcm := EncodePCM16([]float32{0.5, -0.5, 0.25})
	r := io.NopCloser(&oneByteReader{data: pcm})
	in := NewPCM16Input(r, 8000)
	if in.SampleRate() != 8000 {
		t.Fatalf("SampleRate() = %d", in.SampleRate())
	}
	var got []float32
	buf := make([]float32, 4)
	for {
		n, err := in.Read(buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if len(got) != 3 {
		t.Fatalf("samples = %d, want 3", len(got))
	}
	if math.Abs(float64(got[1]+0.5)) > 0.001 {
		t.Fatalf("sample[1] = %v, want -0.5", got[1])
	}
}

type oneByteReader struct {
	data []byte
}

func (r *oneByteReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	p[0] = r.data[0]
	r.data = r.data[1:]
	return 1, nil
}

func TestFrame_Base64(t *testing.T) {
	f := Frame{Data: []byte{0x01, 0x02}}
	if got := f.Base64(); got != "AQI=" {
		t.Fatalf("Base64() = %q", got)
	}
}

func TestParsePCMMIMEType(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr string
	}{
		{"audio/pcm;rate=24000", Format{SampleRate: 24000, Channels: 1}, ""},
		{"audio/pcm; rate=16000", Format{SampleRate: 16000, Channels: 1}, ""},
		{"audio/pcm", Format{SampleRate: 24000, Channels: 1}, ""},
		{"audio/L16;codec=pcm;rate=8000", Format{SampleRate: 8000, Channels: 1}, ""},
		{"audio/pcm;rate=48000;channels=2", Format{SampleRate: 48000, Channels: 2}, ""},
		{"audio/mpeg", Format{}, "unsupported"},
		{"audio/pcm;rate=abc", Format{}, "invalid rate"},
		{"audio/pcm;channels=0", Format{}, "invalid channels"},
	}
	for _, tt := range tests {
		got, err := ParsePCMMIMEType(tt.in, PlaybackSampleRate)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ParsePCMMIMEType(%q) err = %v, want %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParsePCMMIMEType(%q) = %+v, %v", tt.in, got, err)
		}
	}
}

func TestDecode_StereoIsDownmixed(t *testing.T) {
	// Two stereo frames: (1000, 3000) and (-2000, -4000).
	stereo := EncodePCM16([]float32{1000.0 / 32767, 3000.0 / 32767, -2000.0 / 32767, -4000.0 / 32767})
	pcm, err := Decode(Chunk{Data: stereo, MIMEType: "audio/pcm;rate=24000;channels=2"})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("decoded %d bytes, want 4 (two mono samples)", len(pcm))
	}
	if got := PlaybackFormat.Duration(len(pcm)); got != PlaybackFormat.Duration(len(stereo))/2 {
		t.Fatalf("duration = %v, want half the interleaved byte length", got)
	}
	for i, want := range []int16{2000, -3000} {
		if got := sample(Frame{Data: pcm}, i); got < want-1 || got > want+1 {
			t.Fatalf("sample %d = %d, want %d", i, got, want)
		}
	}
}
