package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	ProtocolVersion1 = "1"

	EncodingPCM16LE = "pcm_s16le"

	// OutputSampleRateHz is the rate of binary audio frames sent to the
	// client.
	OutputSampleRateHz = 24000

	MinInputSampleRateHz = 8000
	MaxInputSampleRateHz = 48000
)

// Control operations.
const (
	ControlSetGain = "set_gain"
	ControlEnd     = "end"
	ControlStop    = "stop"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes negotiated live audio shape.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// ClientHello is the first text frame. Binary frames that follow carry
// mono PCM16LE at InputSampleRateHz.
type ClientHello struct {
	Type              string   `json:"type"`
	ProtocolVersion   string   `json:"protocol_version,omitempty"`
	ConversationID    string   `json:"conversation_id,omitempty"`
	Voice             string   `json:"voice,omitempty"`
	MicGain           *float64 `json:"mic_gain,omitempty"`
	Transcription     *bool    `json:"transcription,omitempty"`
	InputSampleRateHz int      `json:"input_sample_rate_hz"`
}

// ClientControl is a text frame sent after hello.
type ClientControl struct {
	Type string  `json:"type"`
	Gain float64 `json:"gain,omitempty"`
}

func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case ControlSetGain:
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_gain", "")
		}
		if msg.Gain == 0 {
			return nil, badRequest("set_gain.gain is required", "gain")
		}
		return msg, nil
	case ControlEnd, ControlStop:
		return ClientControl{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	if v := strings.TrimSpace(msg.ProtocolVersion); v != "" && v != ProtocolVersion1 {
		return unsupported("unsupported protocol_version", "protocol_version")
	}
	if msg.InputSampleRateHz <= 0 {
		return badRequest("hello.input_sample_rate_hz must be > 0", "input_sample_rate_hz")
	}
	if msg.InputSampleRateHz < MinInputSampleRateHz || msg.InputSampleRateHz > MaxInputSampleRateHz {
		return unsupported(fmt.Sprintf("hello.input_sample_rate_hz must be within [%d, %d]", MinInputSampleRateHz, MaxInputSampleRateHz), "input_sample_rate_hz")
	}
	return nil
}

type ReadyLimits struct {
	MaxAudioFrameBytes  int   `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int64 `json:"max_json_message_bytes"`
	MaxAudioBPS         int   `json:"max_audio_bps,omitempty"`
	MaxSessionMS        int64 `json:"max_session_ms"`
}

// ServerReady acknowledges hello once the remote stream is open.
type ServerReady struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	ConversationID  string      `json:"conversation_id"`
	Title           string      `json:"title"`
	Voice           string      `json:"voice"`
	MicGain         float64     `json:"mic_gain"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
	Limits          ReadyLimits `json:"limits"`
}

type ServerState struct {
	Type  string `json:"type"`
	State string `json:"state"`
	From  string `json:"from,omitempty"`
}

// ServerTranscript is a full transcript snapshot, sent on every change.
type ServerTranscript struct {
	Type     string    `json:"type"`
	Revision uint64    `json:"revision"`
	Messages []Message `json:"messages"`
}

type Message struct {
	ID       string   `json:"id"`
	Sender   string   `json:"sender"`
	Text     string   `json:"text"`
	ImageURL string   `json:"image_url,omitempty"`
	Sources  []Source `json:"sources,omitempty"`
}

type Source struct {
	Title   string `json:"title"`
	URI     string `json:"uri"`
	Snippet string `json:"snippet,omitempty"`
}

type ServerInputTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerComposing struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

type ServerTitle struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// ServerAudioReset tells the client to drop any audio it has buffered.
type ServerAudioReset struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type ServerSessionEnded struct {
	Type    string `json:"type"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

type ServerError struct {
	Type      string         `json:"type"`
	Scope     string         `json:"scope,omitempty"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Close     bool           `json:"close,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
