// Package gemini adapts the Google Gen AI SDK to the live controller and
// tool executors: the native-audio live stream, illustration generation,
// speech synthesis and grounded source search.
package gemini

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"google.golang.org/genai"
)

const (
	DefaultLiveModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultImageModel  = "gemini-2.5-flash-image"
	DefaultTTSModel    = "gemini-2.5-flash-preview-tts"
	DefaultSearchModel = "gemini-2.5-flash"
)

// Config configures a Provider.
type Config struct {
	APIKey      string
	LiveModel   string
	ImageModel  string
	TTSModel    string
	SearchModel string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Provider holds one SDK client shared by every adapter.
type Provider struct {
	client *genai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a Provider for the Gemini Developer API.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if cfg.LiveModel == "" {
		cfg.LiveModel = DefaultLiveModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.SearchModel == "" {
		cfg.SearchModel = DefaultSearchModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, wrapError("new client", err)
	}
	return &Provider{client: client, cfg: cfg, logger: logger.With("provider", "gemini")}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}
