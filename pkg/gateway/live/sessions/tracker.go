// Package sessions keeps the registry of open /v1/live sessions so the
// gateway can warn, end and finally cancel them on shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle controls one registered live session.
type Handle struct {
	// End asks the session to finish politely, with a spoken goodbye.
	End    func()
	Cancel func()
	Warn   func(code, message string) error
	// Owner is the user the session belongs to.
	Owner string
}

type entry struct {
	Handle
}

// Tracker is safe for concurrent use. The zero value is not usable; call
// NewTracker.
type Tracker struct {
	mu   sync.Mutex
	open map[string]*entry
	// empty is closed whenever open has no entries.
	empty chan struct{}
}

func NewTracker() *Tracker {
	empty := make(chan struct{})
	close(empty)
	return &Tracker{open: map[string]*entry{}, empty: empty}
}

// Register adds a session under id, replacing any previous one with the
// same id. The returned function removes it and may be called more than
// once.
func (t *Tracker) Register(id string, h Handle) (unregister func()) {
	e := &entry{Handle: h}

	t.mu.Lock()
	if len(t.open) == 0 {
		t.empty = make(chan struct{})
	}
	t.open[id] = e
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { t.remove(id, e) })
	}
}

func (t *Tracker) remove(id string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open[id] != e {
		return
	}
	delete(t.open, id)
	if len(t.open) == 0 {
		close(t.empty)
	}
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

// CountFor returns how many open sessions belong to owner.
func (t *Tracker) CountFor(owner string) int {
	n := 0
	for _, h := range t.handles() {
		if h.Owner == owner {
			n++
		}
	}
	return n
}

// handles copies the registered handles so callbacks run unlocked.
func (t *Tracker) handles() []Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.open))
	for _, e := range t.open {
		out = append(out, e.Handle)
	}
	return out
}

// WarnAll sends a warning frame to every session. Send failures are
// ignored; the count is of sessions tried.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	for _, h := range t.handles() {
		if h.Warn != nil {
			_ = h.Warn(code, message)
			sent++
		}
	}
	return sent
}

// EndAll asks every session to end politely and returns how many were
// asked.
func (t *Tracker) EndAll() (ended int) {
	for _, h := range t.handles() {
		if h.End != nil {
			h.End()
			ended++
		}
	}
	return ended
}

func (t *Tracker) CancelAll() (canceled int) {
	for _, h := range t.handles() {
		if h.Cancel != nil {
			h.Cancel()
			canceled++
		}
	}
	return canceled
}

// Wait blocks until no session is registered or ctx is done, and reports
// which happened first.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	for {
		t.mu.Lock()
		if len(t.open) == 0 {
			t.mu.Unlock()
			return true
		}
		empty := t.empty
		t.mu.Unlock()

		select {
		case <-empty:
		case <-ctx.Done():
			return false
		}
	}
}
