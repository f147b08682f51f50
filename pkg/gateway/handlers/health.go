package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway can take traffic. Checks are
// named dependency probes, such as the history backend ping.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Checks    map[string]func(ctx context.Context) error
	Timeout   time.Duration
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		AuthMode       string   `json:"auth_mode"`
		HistoryBackend string   `json:"history_backend"`
		LimitsEnabled  bool     `json:"limits_enabled"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	cfg := h.Config
	if err := cfg.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	if err := cfg.RequireGemini(); err != nil {
		issues = append(issues, err.Error())
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		err := h.Checks[name](ctx)
		cancel()
		if err != nil {
			issues = append(issues, name+": "+strings.TrimSpace(err.Error()))
		}
	}

	draining := h.Lifecycle.IsDraining()
	limitsEnabled := (cfg.LimitRPS > 0 && cfg.LimitBurst > 0) || cfg.LiveMaxSessionsPerUser > 0

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, readyResp{
		OK:             ok,
		Draining:       draining,
		AuthMode:       string(cfg.AuthMode),
		HistoryBackend: string(cfg.HistoryBackend),
		LimitsEnabled:  limitsEnabled,
		Issues:         issues,
	})
}
