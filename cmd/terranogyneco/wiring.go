package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vango-go/terranogyneco/internal/migrations"
	"github.com/vango-go/terranogyneco/internal/pg"
	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/providers/gemini"
	"github.com/vango-go/terranogyneco/pkg/core/providers/supabase"
	"github.com/vango-go/terranogyneco/pkg/core/providers/tavily"
	"github.com/vango-go/terranogyneco/pkg/core/tools"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/gateway/handlers"
	"github.com/vango-go/terranogyneco/pkg/history"
)

const imagePrefix = "illustrations/"

// backends owns the storage connections opened for one command.
type backends struct {
	cfg    config.Config
	logger *slog.Logger

	pool    *pgxpool.Pool
	closers []func()

	// checks are readiness probes keyed by dependency name.
	checks map[string]func(ctx context.Context) error
}

func newBackends(cfg config.Config, logger *slog.Logger) *backends {
	return &backends{cfg: cfg, logger: logger, checks: map[string]func(ctx context.Context) error{}}
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// postgres opens the shared pool on first use, applying migrations when
// configured to.
func (b *backends) postgres(ctx context.Context) (*pgxpool.Pool, error) {
	if b.pool != nil {
		return b.pool, nil
	}
	if b.cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL must be set")
	}
	pool, err := pg.NewPool(ctx, b.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if b.cfg.MigrateOnStart {
		if err := migrations.Up(ctx, pool, b.logger); err != nil {
			pool.Close()
			return nil, err
		}
	}
	b.pool = pool
	b.closers = append(b.closers, pool.Close)
	b.checks["postgres"] = pool.Ping
	return pool, nil
}

// history opens the configured conversation store.
func (b *backends) history(ctx context.Context) (history.Store, error) {
	switch b.cfg.HistoryBackend {
	case config.HistoryBackendRedis:
		store, err := history.NewRedisStore(ctx, b.cfg.RedisURL, b.cfg.RedisPrefix, history.Options{})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := store.Close(); err != nil {
				b.logger.Warn("close redis failed", "error", err)
			}
		})
		b.checks["redis"] = store.Ping
		return store, nil
	case config.HistoryBackendPostgres:
		pool, err := b.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return history.NewPostgresStore(pool, history.Options{}), nil
	default:
		store, err := history.NewFileStore(b.cfg.HistoryDir, history.Options{})
		if err != nil {
			return nil, err
		}
		dir := b.cfg.HistoryDir
		b.checks["history_dir"] = func(context.Context) error {
			_, err := os.Stat(dir)
			return err
		}
		return store, nil
	}
}

// directory opens the configured user directory.
func (b *backends) directory(ctx context.Context) (auth.Directory, error) {
	if err := b.cfg.RequireDirectory(); err != nil {
		return nil, err
	}
	if b.cfg.AuthBackend == config.AuthBackendSupabase {
		client, err := b.supabase()
		if err != nil {
			return nil, err
		}
		return client.Directory(), nil
	}
	pool, err := b.postgres(ctx)
	if err != nil {
		return nil, err
	}
	return auth.NewPostgresDirectory(pool), nil
}

func (b *backends) supabase() (*supabase.Client, error) {
	return supabase.New(supabase.Config{
		URL:            b.cfg.SupabaseURL,
		ServiceRoleKey: b.cfg.SupabaseServiceRoleKey,
		Bucket:         b.cfg.SupabaseBucket,
	})
}

// runtime builds the model-facing collaborators of a live session.
func (b *backends) runtime(ctx context.Context) (handlers.LiveRuntime, error) {
	if err := b.cfg.RequireGemini(); err != nil {
		return handlers.LiveRuntime{}, err
	}
	profile, err := live.LoadProfile(b.cfg.ProfilePath)
	if err != nil {
		return handlers.LiveRuntime{}, err
	}
	provider, err := gemini.New(ctx, gemini.Config{
		APIKey:      b.cfg.GeminiAPIKey,
		LiveModel:   b.cfg.LiveModel,
		ImageModel:  b.cfg.ImageModel,
		TTSModel:    b.cfg.TTSModel,
		SearchModel: b.cfg.SearchModel,
		Logger:      b.logger,
	})
	if err != nil {
		return handlers.LiveRuntime{}, err
	}

	var images tools.ImageStore = tools.DataURLStore{}
	if b.cfg.SupabaseConfigured() {
		client, err := b.supabase()
		if err != nil {
			return handlers.LiveRuntime{}, err
		}
		store, err := client.ImageStore(imagePrefix)
		if err != nil {
			b.logger.Warn("image uploads disabled, using inline images", "error", err)
		} else {
			images = store
		}
	}

	searchers := []tools.Searcher{provider}
	if tv := tavily.NewClient(b.cfg.TavilyAPIKey, b.cfg.TavilyBaseURL, nil); tv.Configured() {
		searchers = append(searchers, tv)
	}

	return handlers.LiveRuntime{
		Connector: provider,
		Speaker:   provider,
		Tools: &tools.Executors{
			Image: &tools.ImageExecutor{
				Generator: provider,
				Store:     images,
				Messages:  profile.Tools,
				Logger:    b.logger,
			},
			Search: &tools.SearchExecutor{
				Searchers: searchers,
				Messages:  profile.Tools,
				Logger:    b.logger,
			},
			Logger: b.logger,
		},
		Profile: profile,
	}, nil
}
