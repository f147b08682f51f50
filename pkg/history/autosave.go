package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// Snapshot returns the conversation to save and a revision that changes
// whenever its content does.
type Snapshot func() (types.Conversation, uint64)

// Saver is the subset of Store the autosaver writes to.
type Saver interface {
	Save(ctx context.Context, id string, messages []types.Message, title string) error
}

// AutosaverConfig configures an Autosaver.
type AutosaverConfig struct {
	Store    Saver
	Snapshot Snapshot
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	// OnSave observes each attempt; err is nil on success.
	OnSave func(err error)
}

// Autosaver periodically persists the latest snapshot. Saves of an
// unchanged revision are skipped.
type Autosaver struct {
	cfg  AutosaverConfig
	cron *cron.Cron

	mu        sync.Mutex
	savedRev  uint64
	savedOnce bool
}

func NewAutosaver(cfg AutosaverConfig) (*Autosaver, error) {
	if cfg.Store == nil || cfg.Snapshot == nil {
		return nil, errors.New("autosave: store and snapshot are required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("autosave: interval must be > 0, got %s", cfg.Interval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Autosaver{cfg: cfg, cron: cron.New()}
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(a.tick))
	if _, err := a.cron.AddJob(fmt.Sprintf("@every %s", cfg.Interval), job); err != nil {
		return nil, fmt.Errorf("schedule autosave: %w", err)
	}
	return a, nil
}

// Start begins periodic saving.
func (a *Autosaver) Start() {
	a.cron.Start()
}

// Stop halts the schedule and waits for a running save to finish.
func (a *Autosaver) Stop() {
	<-a.cron.Stop().Done()
}

func (a *Autosaver) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()
	if _, err := a.SaveNow(ctx); err != nil {
		a.cfg.Logger.Warn("autosave failed", "error", err)
	}
}

// SaveNow saves the current snapshot unless it was already saved. It
// reports whether a write happened.
func (a *Autosaver) SaveNow(ctx context.Context) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	conv, rev := a.cfg.Snapshot()
	if conv.ID == "" {
		return false, nil
	}
	if a.savedOnce && rev == a.savedRev {
		return false, nil
	}
	err := a.cfg.Store.Save(ctx, conv.ID, conv.Messages, conv.Title)
	if a.cfg.OnSave != nil {
		a.cfg.OnSave(err)
	}
	if err != nil {
		return false, err
	}
	a.savedRev, a.savedOnce = rev, true
	a.cfg.Logger.Debug("conversation autosaved", "conversation_id", conv.ID, "revision", rev)
	return true, nil
}
