package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type AuthBackend string

const (
	AuthBackendPostgres AuthBackend = "postgres"
	AuthBackendSupabase AuthBackend = "supabase"
)

type HistoryBackend string

const (
	HistoryBackendFile     HistoryBackend = "file"
	HistoryBackendRedis    HistoryBackend = "redis"
	HistoryBackendPostgres HistoryBackend = "postgres"
)

type Config struct {
	// Model access
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	LiveModel    string `env:"TG_LIVE_MODEL"`
	ImageModel   string `env:"TG_IMAGE_MODEL"`
	TTSModel     string `env:"TG_TTS_MODEL"`
	SearchModel  string `env:"TG_SEARCH_MODEL"`

	// Session defaults
	Voice             string        `env:"TG_VOICE" envDefault:"Kore"`
	MicGain           float64       `env:"TG_MIC_GAIN" envDefault:"1.0"`
	Transcription     bool          `env:"TG_TRANSCRIPTION" envDefault:"true"`
	AutosaveInterval  time.Duration `env:"TG_AUTOSAVE_INTERVAL" envDefault:"2m"`
	InactivityTimeout time.Duration `env:"TG_INACTIVITY_TIMEOUT" envDefault:"0s"`
	ToolTimeout       time.Duration `env:"TG_TOOL_TIMEOUT" envDefault:"60s"`
	ProfilePath       string        `env:"TG_PROFILE_PATH"`

	// History
	HistoryBackend HistoryBackend `env:"TG_HISTORY_BACKEND" envDefault:"file"`
	HistoryDir     string         `env:"TG_HISTORY_DIR" envDefault:"data/conversations"`
	RedisURL       string         `env:"REDIS_URL"`
	RedisPrefix    string         `env:"TG_REDIS_PREFIX" envDefault:"tg:"`
	DatabaseURL    string         `env:"DATABASE_URL"`
	MigrateOnStart bool           `env:"TG_MIGRATE_ON_START" envDefault:"true"`

	// Search fallback
	TavilyAPIKey  string `env:"TAVILY_API_KEY"`
	TavilyBaseURL string `env:"TG_TAVILY_BASE_URL" envDefault:"https://api.tavily.com"`

	// Image storage and user directory
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseBucket         string `env:"SUPABASE_BUCKET" envDefault:"illustrations"`

	// Gateway
	Addr               string      `env:"TG_ADDR" envDefault:":8080"`
	AuthMode           AuthMode    `env:"TG_AUTH_MODE" envDefault:"required"`
	AuthBackend        AuthBackend `env:"TG_AUTH_BACKEND" envDefault:"postgres"`
	CORSAllowedOrigins []string    `env:"TG_CORS_ORIGINS" envSeparator:","`
	MaxBodyBytes       int64       `env:"TG_MAX_BODY_BYTES" envDefault:"1048576"`

	// In-memory limits (per user).
	LimitRPS               float64 `env:"TG_RATE_LIMIT_RPS" envDefault:"5"`
	LimitBurst             int     `env:"TG_RATE_LIMIT_BURST" envDefault:"10"`
	LiveMaxSessionsPerUser int     `env:"TG_LIVE_MAX_SESSIONS_PER_USER" envDefault:"1"`

	// Live websocket (/v1/live)
	LiveMaxFrameBytes       int           `env:"TG_LIVE_MAX_FRAME_BYTES" envDefault:"32768"`
	LiveMaxJSONMessageBytes int64         `env:"TG_LIVE_MAX_JSON_MESSAGE_BYTES" envDefault:"65536"`
	LiveAudioRateBytes      int           `env:"TG_LIVE_AUDIO_RATE_BYTES" envDefault:"131072"`
	LiveInboundBurstSeconds int           `env:"TG_LIVE_INBOUND_BURST_SECONDS" envDefault:"2"`
	LiveHandshakeTimeout    time.Duration `env:"TG_LIVE_HANDSHAKE_TIMEOUT" envDefault:"5s"`
	LiveWSPingInterval      time.Duration `env:"TG_LIVE_WS_PING_INTERVAL" envDefault:"20s"`
	LiveWSWriteTimeout      time.Duration `env:"TG_LIVE_WS_WRITE_TIMEOUT" envDefault:"5s"`
	LiveMaxSessionDuration  time.Duration `env:"TG_LIVE_MAX_DURATION" envDefault:"2h"`

	// Operational defaults
	ReadHeaderTimeout   time.Duration `env:"TG_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownGracePeriod time.Duration `env:"TG_SHUTDOWN_GRACE_PERIOD" envDefault:"30s"`

	// TracesExporter selects where spans go: none, stdout or otlp.
	TracesExporter string `env:"OTEL_TRACES_EXPORTER" envDefault:"none"`
}

// Load reads the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads configuration from environ instead of the process
// environment.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings shared by every command. Credentials that
// only some commands need are checked by Require* helpers.
func (c *Config) Validate() error {
	v, ok := types.NormalizeVoice(c.Voice)
	if !ok {
		return fmt.Errorf("TG_VOICE must be one of %s", strings.Join(types.Voices, "|"))
	}
	c.Voice = v
	if err := voice.ValidateGain(c.MicGain); err != nil {
		return fmt.Errorf("TG_MIC_GAIN: %w", err)
	}
	if c.AutosaveInterval <= 0 {
		return fmt.Errorf("TG_AUTOSAVE_INTERVAL must be > 0")
	}
	if c.InactivityTimeout < 0 {
		return fmt.Errorf("TG_INACTIVITY_TIMEOUT must be >= 0")
	}
	if c.ToolTimeout <= 0 {
		return fmt.Errorf("TG_TOOL_TIMEOUT must be > 0")
	}

	switch c.HistoryBackend {
	case HistoryBackendFile:
		if strings.TrimSpace(c.HistoryDir) == "" {
			return fmt.Errorf("TG_HISTORY_DIR must not be empty when TG_HISTORY_BACKEND=file")
		}
	case HistoryBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL must be set when TG_HISTORY_BACKEND=redis")
		}
	case HistoryBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL must be set when TG_HISTORY_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("TG_HISTORY_BACKEND must be one of file|redis|postgres")
	}

	switch c.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return fmt.Errorf("TG_AUTH_MODE must be one of required|disabled")
	}
	switch c.AuthBackend {
	case AuthBackendPostgres, AuthBackendSupabase:
	default:
		return fmt.Errorf("TG_AUTH_BACKEND must be one of postgres|supabase")
	}

	if c.SupabaseURL != "" {
		if _, err := url.ParseRequestURI(c.SupabaseURL); err != nil {
			return fmt.Errorf("SUPABASE_URL is not a valid url: %w", err)
		}
	}
	if strings.TrimSpace(c.TavilyBaseURL) == "" {
		return fmt.Errorf("TG_TAVILY_BASE_URL must not be empty")
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("TG_MAX_BODY_BYTES must be > 0")
	}
	if c.LimitRPS < 0 {
		return fmt.Errorf("TG_RATE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("TG_RATE_LIMIT_BURST must be >= 0")
	}
	if c.LiveMaxSessionsPerUser < 0 {
		return fmt.Errorf("TG_LIVE_MAX_SESSIONS_PER_USER must be >= 0")
	}
	if c.LiveMaxFrameBytes <= 0 {
		return fmt.Errorf("TG_LIVE_MAX_FRAME_BYTES must be > 0")
	}
	if c.LiveMaxJSONMessageBytes <= 0 {
		return fmt.Errorf("TG_LIVE_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if c.LiveAudioRateBytes < 0 {
		return fmt.Errorf("TG_LIVE_AUDIO_RATE_BYTES must be >= 0")
	}
	if c.LiveAudioRateBytes > 0 && c.LiveInboundBurstSeconds < 1 {
		return fmt.Errorf("TG_LIVE_INBOUND_BURST_SECONDS must be >= 1 when TG_LIVE_AUDIO_RATE_BYTES is set")
	}
	if c.LiveHandshakeTimeout <= 0 {
		return fmt.Errorf("TG_LIVE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.LiveWSPingInterval <= 0 {
		return fmt.Errorf("TG_LIVE_WS_PING_INTERVAL must be > 0")
	}
	if c.LiveWSWriteTimeout <= 0 {
		return fmt.Errorf("TG_LIVE_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.LiveMaxSessionDuration <= 0 {
		return fmt.Errorf("TG_LIVE_MAX_DURATION must be > 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("TG_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("TG_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

// RequireGemini reports a missing model key.
func (c Config) RequireGemini() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	return nil
}

// RequireDirectory reports missing settings for the configured user
// directory.
func (c Config) RequireDirectory() error {
	switch c.AuthBackend {
	case AuthBackendPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL must be set when TG_AUTH_BACKEND=postgres")
		}
	case AuthBackendSupabase:
		if !c.SupabaseConfigured() {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY must be set when TG_AUTH_BACKEND=supabase")
		}
	}
	return nil
}

// SupabaseConfigured reports whether Supabase credentials are present.
func (c Config) SupabaseConfigured() bool {
	return strings.TrimSpace(c.SupabaseURL) != "" && strings.TrimSpace(c.SupabaseServiceRoleKey) != ""
}

// OriginAllowed reports whether a browser origin may use the gateway. An
// empty origin (non-browser caller) is always allowed; "*" in the list
// admits every origin.
func (c Config) OriginAllowed(origin string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return true
	}
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
