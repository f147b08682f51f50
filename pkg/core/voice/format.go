package voice

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureSampleRate is the rate of frames sent to the model.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of audio produced by the model.
	PlaybackSampleRate = 24000
	// DefaultFrameSamples is the number of samples in one capture frame.
	DefaultFrameSamples = 4096

	bytesPerSample = 2
	maxChannels    = 8
)

// CaptureMIMEType tags outgoing frames.
var CaptureMIMEType = PCMMIMEType(CaptureSampleRate)

// Format describes mono or multi-channel 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// PlaybackFormat is the format of model audio.
var PlaybackFormat = Format{SampleRate: PlaybackSampleRate, Channels: 1}

// BytesPerSecond returns the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * bytesPerSample
}

// Duration returns how long n bytes of audio play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 || n <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// PCMMIMEType returns the descriptor "audio/pcm;rate=<rate>".
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParsePCMMIMEType reads the format of an "audio/pcm" descriptor such as
// "audio/pcm;rate=24000;channels=2". A missing rate yields fallbackRate and
// a missing channel count means mono.
func ParsePCMMIMEType(mime string, fallbackRate int) (Format, error) {
	base, params, _ := strings.Cut(mime, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if base != "audio/pcm" && base != "audio/l16" {
		return Format{}, fmt.Errorf("unsupported audio mime type %q", mime)
	}
	f := Format{SampleRate: fallbackRate, Channels: 1}
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "rate":
			if err != nil || n <= 0 {
				return Format{}, fmt.Errorf("invalid rate in mime type %q", mime)
			}
			f.SampleRate = n
		case "channels":
			if err != nil || n <= 0 || n > maxChannels {
				return Format{}, fmt.Errorf("invalid channels in mime type %q", mime)
			}
			f.Channels = n
		}
	}
	return f, nil
}

// DownmixPCM16 averages interleaved frames of channels samples into mono.
// A trailing partial frame is dropped.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * bytesPerSample
	out := make([]byte, len(pcm)/frameBytes*bytesPerSample)
	for i := 0; i*bytesPerSample < len(out); i++ {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[i*frameBytes+ch*bytesPerSample:])))
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// EncodePCM16 converts samples in [-1, 1] to little-endian signed 16-bit
// PCM. Out of range samples are clipped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*bytesPerSample:], uint16(int16(s*math.MaxInt16)))
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM to samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/bytesPerSample)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:]))) / 32768
	}
	return out
}

// RMSLevel computes the root-mean-square level of samples, between 0 and 1.
func RMSLevel(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
