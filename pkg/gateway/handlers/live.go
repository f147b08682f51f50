package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core"
	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/gateway/lifecycle"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/protocol"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/session"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/sessions"
	"github.com/vango-go/terranogyneco/pkg/gateway/metrics"
	"github.com/vango-go/terranogyneco/pkg/gateway/mw"
	"github.com/vango-go/terranogyneco/pkg/gateway/ratelimit"
	"github.com/vango-go/terranogyneco/pkg/history"
)

// LiveRuntime holds the collaborators shared by every live session.
type LiveRuntime struct {
	Connector live.Connector
	Speaker   live.Speaker
	Tools     *tools.Executors
	// Profile is the session wording; the zero value means DefaultProfile.
	Profile live.Profile
}

// LiveHandler handles /v1/live websocket sessions.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Limiter      *ratelimit.Limiter
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	Metrics      *metrics.Metrics
	History      history.Store
	Runtime      LiveRuntime
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, core.StatusOverloaded)
		return
	}
	if !h.Config.OriginAllowed(r.Header.Get("Origin")) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}
	user := auth.CurrentUser(r.Context())
	if err := auth.CheckApproved(user); err != nil {
		writeError(w, r, err)
		return
	}
	if h.Runtime.Connector == nil || h.History == nil {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAPI, Message: "live sessions are not configured", Code: "live_unavailable", RequestID: reqID}, http.StatusServiceUnavailable)
		return
	}

	// The slot is taken before the upgrade so a refused client gets a
	// plain HTTP 429.
	if h.Limiter != nil {
		dec := h.Limiter.ReserveLiveSlot(user.ID, time.Now())
		if !dec.Allowed {
			if h.Metrics != nil {
				h.Metrics.RecordRateLimitHit("live_sessions")
			}
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrRateLimit, Message: "too many active live sessions", Code: "too_many_sessions", RequestID: reqID}, http.StatusTooManyRequests)
			return
		}
		defer dec.Slot.Release()
	}

	upgrader := websocket.Upgrader{
		// Origin was checked above against the configured allowlist.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.LiveMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.LiveMaxJSONMessageBytes)
	}
	handshakeTimeout := h.Config.LiveHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", nil)
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.writeWSError(conn, de.Code, de.Error(), paramDetails(de.Param))
			return
		}
		h.writeWSError(conn, "bad_request", "invalid hello frame", nil)
		return
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", nil)
		return
	}

	voiceName := h.Config.Voice
	if strings.TrimSpace(hello.Voice) != "" {
		v, ok := types.NormalizeVoice(hello.Voice)
		if !ok {
			h.writeWSError(conn, "unsupported", fmt.Sprintf("unknown voice %q", hello.Voice), paramDetails("voice"))
			return
		}
		voiceName = v
	}
	gain := h.Config.MicGain
	if hello.MicGain != nil {
		if err := voice.ValidateGain(*hello.MicGain); err != nil {
			h.writeWSError(conn, "invalid_gain", err.Error(), paramDetails("mic_gain"))
			return
		}
		gain = *hello.MicGain
	}
	transcription := h.Config.Transcription
	if hello.Transcription != nil {
		transcription = *hello.Transcription
	}

	conv, err := h.openConversation(r.Context(), hello.ConversationID)
	if err != nil {
		switch {
		case errors.Is(err, history.ErrNotFound):
			h.writeWSError(conn, "not_found", "conversation not found", paramDetails("conversation_id"))
		case errors.Is(err, history.ErrInvalidID):
			h.writeWSError(conn, "bad_request", "invalid conversation id", paramDetails("conversation_id"))
		default:
			h.logger().Error("open conversation failed", "request_id", reqID, "error", err)
			h.writeWSError(conn, "history_unavailable", "conversation history is unavailable", nil)
		}
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	sessionID := "s_" + uuid.NewString()
	logger := h.logger().With("user_id", user.ID)

	var audioMetrics session.AudioMetrics
	if h.Metrics != nil {
		audioMetrics = h.Metrics
	}
	s, err := session.New(session.Dependencies{
		Conn:      conn,
		Logger:    logger,
		Metrics:   audioMetrics,
		Hello:     hello,
		Voice:     voiceName,
		SessionID: sessionID,
		RequestID: reqID,
		Config: session.Config{
			MaxAudioFrameBytes:  h.Config.LiveMaxFrameBytes,
			MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
			MaxAudioBytesPerSec: h.Config.LiveAudioRateBytes,
			InboundBurstSeconds: h.Config.LiveInboundBurstSeconds,
			PingInterval:        h.Config.LiveWSPingInterval,
			WriteTimeout:        h.Config.LiveWSWriteTimeout,
			MaxSessionDuration:  h.Config.LiveMaxSessionDuration,
			OutboundQueueSize:   256,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", nil)
		return
	}

	ctrlCfg := live.DefaultConfig()
	ctrlCfg.ConversationID = conv.ID
	ctrlCfg.Title = conv.Title
	ctrlCfg.CreatedAt = conv.CreatedAt
	ctrlCfg.Voice = voiceName
	ctrlCfg.MicGain = gain
	ctrlCfg.Transcription = transcription
	ctrlCfg.InactivityTimeout = h.Config.InactivityTimeout
	if h.Config.ToolTimeout > 0 {
		ctrlCfg.ToolTimeout = h.Config.ToolTimeout
	}
	if strings.TrimSpace(h.Runtime.Profile.SystemInstruction) != "" {
		ctrlCfg.Profile = h.Runtime.Profile
	}

	deps := live.Dependencies{
		Connector:  h.Runtime.Connector,
		Microphone: s.Microphone(),
		Output:     s.Output(),
		Speaker:    h.Runtime.Speaker,
		Tools:      h.Runtime.Tools,
		Transcript: transcript.New(conv.Messages),
		History:    h.History,
		Logger:     logger,
	}
	if h.Metrics != nil {
		deps.Metrics = h.Metrics
	}
	ctrl, err := live.NewController(ctrlCfg, deps)
	if err != nil {
		h.writeWSError(conn, "bad_request", err.Error(), nil)
		return
	}

	if h.Config.AutosaveInterval > 0 {
		saver, err := history.NewAutosaver(history.AutosaverConfig{
			Store: h.History,
			Snapshot: func() (types.Conversation, uint64) {
				return ctrl.Conversation(), ctrl.Transcript().Revision()
			},
			Interval: h.Config.AutosaveInterval,
			Logger:   logger,
			OnSave: func(err error) {
				if h.Metrics != nil {
					h.Metrics.RecordAutosave(err)
				}
			},
		})
		if err != nil {
			logger.Warn("autosave disabled", "error", err)
		} else {
			saver.Start()
			defer saver.Stop()
		}
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			End:    ctrl.EndPolitely,
			Cancel: s.Cancel,
			Warn:   s.SendWarning,
			Owner:  user.ID,
		})
	}
	defer unregister()

	logger.Info("live session opened", "session_id", sessionID, "conversation_id", conv.ID, "voice", voiceName)
	if err := s.Run(ctrl); err != nil {
		logger.Warn("live session ended with error", "session_id", sessionID, "request_id", reqID, "error", err)
	}
}

// openConversation loads id, or creates a conversation when id is empty.
func (h LiveHandler) openConversation(ctx context.Context, id string) (types.Conversation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return h.History.Create(ctx)
	}
	return h.History.Load(ctx, id)
}

func (h LiveHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func paramDetails(param string) map[string]any {
	if strings.TrimSpace(param) == "" {
		return nil
	}
	return map[string]any{"param": param}
}

// writeWSError reports a handshake failure and closes the socket.
func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message string, details map[string]any) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: true, Details: details})
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := mw.RequestIDFrom(ctx); ok {
		return id
	}
	return ""
}
