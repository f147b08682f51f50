package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

const (
	micSampleRateHz      = 16000
	playbackSampleRateHz = 24000
)

// ffmpegMic streams the default input device as mono PCM16LE.
type ffmpegMic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	once   sync.Once
}

// openMicrophone starts ffmpeg for one session. The returned stream stops
// ffmpeg when closed.
func openMicrophone(ctx context.Context) (voice.InputStream, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return voice.NewPCM16Input(&ffmpegMic{cmd: cmd, stdout: stdout}, micSampleRateHz), nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-i", ":0"}
	case "linux":
		input = []string{"-f", "pulse", "-i", "default"}
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, input...)
	return append(args,
		"-ac", "1", "-ar", strconv.Itoa(micSampleRateHz),
		"-f", "s16le", "-",
	), nil
}

func (m *ffmpegMic) Read(p []byte) (int, error) {
	return m.stdout.Read(p)
}

func (m *ffmpegMic) Close() error {
	m.once.Do(func() {
		if m.cmd.Process != nil {
			_ = m.cmd.Process.Kill()
			_ = m.cmd.Wait()
		}
	})
	return nil
}

// ffplayDevice plays 24 kHz PCM16LE through ffplay. Reset restarts the
// player, which drops whatever it had buffered.
type ffplayDevice struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFplayDevice() (*ffplayDevice, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	d := &ffplayDevice{}
	if err := d.startLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

func ffplayArgs() []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(playbackSampleRateHz),
		"-ac", "1",
		"-i", "pipe:0",
	}
}

func (d *ffplayDevice) startLocked() error {
	d.cmd = exec.Command("ffplay", ffplayArgs()...)
	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	d.cmd.Stdout = io.Discard
	d.cmd.Stderr = io.Discard
	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	d.stdin = stdin
	return nil
}

func (d *ffplayDevice) killLocked() {
	if d.cmd != nil && d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	}
	d.cmd = nil
	d.stdin = nil
}

func (d *ffplayDevice) Write(pcm []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdin == nil {
		return errors.New("ffplay is not running")
	}
	_, err := d.stdin.Write(pcm)
	return err
}

func (d *ffplayDevice) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killLocked()
	return d.startLocked()
}

func (d *ffplayDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.killLocked()
	return nil
}
