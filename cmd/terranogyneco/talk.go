package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vango-go/terranogyneco/pkg/core/live"
	"github.com/vango-go/terranogyneco/pkg/core/transcript"
	"github.com/vango-go/terranogyneco/pkg/core/types"
	"github.com/vango-go/terranogyneco/pkg/core/voice"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/history"
)

type talkOptions struct {
	conversationID  string
	voice           string
	gain            float64
	noTranscription bool
}

func newTalkCmd(a *app) *cobra.Command {
	var opts talkOptions
	cmd := &cobra.Command{
		Use:   "talk",
		Short: "Start a voice session on this machine's microphone and speakers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("gain") {
				opts.gain = cfg.MicGain
			}
			return runTalk(cmd.Context(), a, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.conversationID, "conversation", "", "resume a stored conversation")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "voice ("+strings.Join(types.Voices, "|")+")")
	cmd.Flags().Float64Var(&opts.gain, "gain", voice.DefaultGain, "microphone gain (0.5..2.5)")
	cmd.Flags().BoolVar(&opts.noTranscription, "no-transcription", false, "disable live transcription of your speech")
	return cmd
}

func talkConfig(cfg config.Config, opts talkOptions, conv types.Conversation, profile live.Profile) (live.Config, error) {
	c := live.DefaultConfig()
	c.ConversationID = conv.ID
	c.Title = conv.Title
	c.CreatedAt = conv.CreatedAt
	c.Voice = cfg.Voice
	if strings.TrimSpace(opts.voice) != "" {
		v, ok := types.NormalizeVoice(opts.voice)
		if !ok {
			return live.Config{}, fmt.Errorf("unknown voice %q (want %s)", opts.voice, strings.Join(types.Voices, "|"))
		}
		c.Voice = v
	}
	if err := voice.ValidateGain(opts.gain); err != nil {
		return live.Config{}, fmt.Errorf("--gain: %w", err)
	}
	c.MicGain = opts.gain
	c.Transcription = cfg.Transcription && !opts.noTranscription
	c.InactivityTimeout = cfg.InactivityTimeout
	c.ToolTimeout = cfg.ToolTimeout
	c.Profile = profile
	return c, nil
}

func runTalk(ctx context.Context, a *app, cfg config.Config, opts talkOptions) error {
	logger := a.logger
	stopTracing, err := a.startTracing(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopTracing()
	b := newBackends(cfg, logger)
	defer b.Close()

	store, err := b.history(ctx)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	rt, err := b.runtime(ctx)
	if err != nil {
		return err
	}

	var conv types.Conversation
	if id := strings.TrimSpace(opts.conversationID); id != "" {
		conv, err = store.Load(ctx, id)
	} else {
		conv, err = store.Create(ctx)
	}
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	ctrlCfg, err := talkConfig(cfg, opts, conv, rt.Profile)
	if err != nil {
		return err
	}

	speakers, err := newFFplayDevice()
	if err != nil {
		return err
	}
	defer speakers.Close()

	ctrl, err := live.NewController(ctrlCfg, live.Dependencies{
		Connector:  rt.Connector,
		Microphone: live.MicrophoneFunc(openMicrophone),
		Output:     speakers,
		Speaker:    rt.Speaker,
		Tools:      rt.Tools,
		Transcript: transcript.New(conv.Messages),
		History:    store,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	saver, err := history.NewAutosaver(history.AutosaverConfig{
		Store: store,
		Snapshot: func() (types.Conversation, uint64) {
			return ctrl.Conversation(), ctrl.Transcript().Revision()
		},
		Interval: cfg.AutosaveInterval,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	saver.Start()
	defer saver.Stop()

	out := a.deps.stdout
	fmt.Fprintf(out, "Conversation %s (%s), voice %s. Ctrl-C to end, twice to stop.\n", conv.ID, conv.Title, ctrlCfg.Voice)

	sigCh := make(chan os.Signal, 2)
	a.deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer a.deps.signalStop(sigCh)

	printer := newTranscriptPrinter(out, len(conv.Messages))
	var ended live.SessionEndedEvent

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watchSignals(gctx, sigCh, ctrl, out, logger)
	})
	g.Go(func() error {
		ended = followSession(ctrl, printer)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Fprintf(out, "Session ended (%s). Conversation %s saved.\n", ended.Outcome, conv.ID)
	if ended.Err != nil && ended.Outcome != live.OutcomeStopped {
		return fmt.Errorf("session %s: %w", ended.Outcome, ended.Err)
	}
	return nil
}

// watchSignals ends the session politely on the first interrupt and stops
// it on the second. It returns once the session is done.
func watchSignals(ctx context.Context, sigCh <-chan os.Signal, ctrl *live.Controller, out io.Writer, logger *slog.Logger) error {
	count := 0
	for {
		select {
		case <-ctrl.Done():
			return nil
		case <-ctx.Done():
			ctrl.Stop()
			return nil
		case sig := <-sigCh:
			count++
			logger.Debug("signal received", "signal", sig.String(), "count", count)
			if count == 1 {
				fmt.Fprintln(out, "Ending the session... (Ctrl-C again to stop now)")
				ctrl.EndPolitely()
				continue
			}
			ctrl.Stop()
			return nil
		}
	}
}

// followSession prints transcript and state changes until the session
// ends, and returns how it ended.
func followSession(ctrl *live.Controller, p *transcriptPrinter) live.SessionEndedEvent {
	store := ctrl.Transcript()
	events := ctrl.Events()
	done := ctrl.Done()
	for {
		select {
		case <-store.Changed():
			p.flush(store.Snapshot(), false)
		case ev := <-events:
			switch e := ev.(type) {
			case live.StateChangedEvent:
				p.state(e.To)
				if e.To == live.StateListening {
					p.flush(store.Snapshot(), true)
				}
			case live.TitleChangedEvent:
				fmt.Fprintf(p.out, "# %s\n", e.Title)
			case live.SessionEndedEvent:
				p.flush(store.Snapshot(), true)
				return e
			}
		case <-done:
			for {
				select {
				case ev := <-events:
					if e, ok := ev.(live.SessionEndedEvent); ok {
						p.flush(store.Snapshot(), true)
						return e
					}
				default:
					p.flush(store.Snapshot(), true)
					return live.SessionEndedEvent{Outcome: live.OutcomeStopped}
				}
			}
		}
	}
}

// transcriptPrinter writes each message once it has settled, and again if
// it changes afterwards (an image or sources attached later).
type transcriptPrinter struct {
	out     io.Writer
	skip    int
	printed map[string]string
}

func newTranscriptPrinter(out io.Writer, skip int) *transcriptPrinter {
	return &transcriptPrinter{out: out, skip: skip, printed: map[string]string{}}
}

func (p *transcriptPrinter) state(s live.State) {
	fmt.Fprintf(p.out, "[%s]\n", s)
}

// flush prints messages whose rendering changed. Unless final, the last
// message is held back while it may still be streaming.
func (p *transcriptPrinter) flush(msgs []types.Message, final bool) {
	end := len(msgs)
	if !final {
		end--
	}
	for i := p.skip; i < end; i++ {
		line := renderMessage(msgs[i])
		if p.printed[msgs[i].ID] == line {
			continue
		}
		p.printed[msgs[i].ID] = line
		fmt.Fprintln(p.out, line)
	}
}

func renderMessage(m types.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %s", m.Sender+":", strings.TrimSpace(m.Text))
	if m.ImageURL != "" {
		if strings.HasPrefix(m.ImageURL, "data:") {
			fmt.Fprintf(&sb, "\n       [illustration, %d bytes inline]", len(m.ImageURL))
		} else {
			fmt.Fprintf(&sb, "\n       [illustration] %s", m.ImageURL)
		}
	}
	for _, src := range m.Sources {
		fmt.Fprintf(&sb, "\n       - %s <%s>", src.Title, src.URI)
	}
	return sb.String()
}
