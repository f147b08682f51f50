package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// socket is the write half of *websocket.Conn.
type socket interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// frame is one queued websocket message. generation is set on model audio
// only; a device reset bumps the generation and older audio is skipped.
type frame struct {
	msgType    int
	data       []byte
	generation uint64
}

func textFrame(payload []byte) frame {
	return frame{msgType: websocket.TextMessage, data: payload}
}

func audioFrame(generation uint64, pcm []byte) frame {
	return frame{msgType: websocket.BinaryMessage, data: pcm, generation: generation}
}

const (
	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// On shutdown at most this many urgent frames are flushed, within
	// shutdownFlushWindow, before the close frame.
	shutdownFlushFrames = 8
	shutdownFlushWindow = 250 * time.Millisecond
)

// frameWriter owns all writes to the socket. Urgent frames (audio resets,
// final transcript, session_ended) always go before regular ones.
type frameWriter struct {
	conn    socket
	ctx     context.Context
	ping    time.Duration
	timeout time.Duration

	urgent  <-chan frame
	regular <-chan frame

	stale   func(generation uint64) bool
	onAudio func(bytes int)
}

func newFrameWriter(ctx context.Context, conn socket, cfg Config, urgent, regular <-chan frame) *frameWriter {
	if ctx == nil {
		ctx = context.Background()
	}
	w := &frameWriter{
		conn:    conn,
		ctx:     ctx,
		ping:    cfg.PingInterval,
		timeout: cfg.WriteTimeout,
		urgent:  urgent,
		regular: regular,
	}
	if w.ping <= 0 {
		w.ping = defaultPingInterval
	}
	if w.timeout <= 0 {
		w.timeout = defaultWriteTimeout
	}
	return w
}

// Run writes until ctx ends or both queues are closed. After ctx ends it
// flushes what urgent frames it can and closes the socket.
func (w *frameWriter) Run() error {
	ticker := time.NewTicker(w.ping)
	defer ticker.Stop()

	for {
		if w.ctx.Err() != nil {
			return w.shutdown()
		}
		if f, ok := w.pollUrgent(); ok {
			if err := w.write(f); err != nil {
				return err
			}
			continue
		}
		if w.urgent == nil && w.regular == nil {
			return nil
		}

		select {
		case <-w.ctx.Done():
		case <-ticker.C:
			if err := w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.timeout)); err != nil {
				return err
			}
		case f, ok := <-w.urgent:
			if !ok {
				w.urgent = nil
				continue
			}
			if err := w.write(f); err != nil {
				return err
			}
		case f, ok := <-w.regular:
			if !ok {
				w.regular = nil
				continue
			}
			// Urgent frames queued while we waited still go first.
			for {
				u, ok := w.pollUrgent()
				if !ok {
					break
				}
				if err := w.write(u); err != nil {
					return err
				}
			}
			if err := w.write(f); err != nil {
				return err
			}
		}
	}
}

func (w *frameWriter) pollUrgent() (frame, bool) {
	select {
	case f, ok := <-w.urgent:
		if !ok {
			w.urgent = nil
			return frame{}, false
		}
		return f, true
	default:
		return frame{}, false
	}
}

func (w *frameWriter) shutdown() error {
	window := min(shutdownFlushWindow, w.timeout)
	deadline := time.Now().Add(window)
	for i := 0; i < shutdownFlushFrames && time.Now().Before(deadline); i++ {
		f, ok := w.pollUrgent()
		if !ok {
			break
		}
		_ = w.write(f)
	}
	bye := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, bye, time.Now().Add(w.timeout))
	_ = w.conn.Close()
	return nil
}

func (w *frameWriter) write(f frame) error {
	if len(f.data) == 0 {
		return nil
	}
	if f.generation != 0 && w.stale != nil && w.stale(f.generation) {
		return nil
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(f.msgType, f.data); err != nil {
		return err
	}
	if f.msgType == websocket.BinaryMessage && w.onAudio != nil {
		w.onAudio(len(f.data))
	}
	return nil
}
