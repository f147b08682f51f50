// Package transcript holds the ordered message log of a conversation.
//
// Every exported mutation is applied under one lock, so composite updates
// (attach an image to a turn and drop its status marker) are observed
// either entirely or not at all by concurrent readers such as the
// autosaver.
package transcript

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

// Message id prefixes.
const (
	PrefixUser               = "user"
	PrefixAI                 = "ai"
	PrefixImageStatus        = "image-status"
	PrefixImageError         = "image-error"
	PrefixSearchStatus       = "search-status"
	PrefixSearchError        = "search-error"
	PrefixTranscriptionError = "transcription-error"
	PrefixGoodbye            = "goodbye"
)

// Store is a concurrency-safe transcript.
type Store struct {
	mu      sync.Mutex
	msgs    []types.Message
	rev     uint64
	lastID  int64
	now     func() time.Time
	changed chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to mint message ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns a store seeded with a copy of initial.
func New(initial []types.Message, opts ...Option) *Store {
	s := &Store{
		msgs:    types.CloneMessages(initial),
		now:     time.Now,
		changed: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID mints "<prefix>-<unix ms>". Ids are strictly increasing per store
// even when the clock does not advance between calls.
func (s *Store) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMilli()
	if ts <= s.lastID {
		ts = s.lastID + 1
	}
	s.lastID = ts
	return fmt.Sprintf("%s-%d", prefix, ts)
}

// Append adds m at the end of the transcript.
func (s *Store) Append(m types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, m.Clone())
	s.touchLocked()
}

// SetText sets the text of message id, creating it with sender when it
// does not exist yet.
func (s *Store) SetText(id string, sender types.Sender, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		s.msgs[i].Text = text
	} else {
		s.msgs = append(s.msgs, types.Message{ID: id, Sender: sender, Text: text})
	}
	s.touchLocked()
}

// Remove deletes message id. It reports whether a message was removed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeLocked(id) {
		return false
	}
	s.touchLocked()
	return true
}

// AttachImage sets the image of the AI message for turnID, creating an
// empty AI placeholder when the turn has no message yet, and removes the
// status marker statusID.
func (s *Store) AttachImage(turnID, imageURL, statusID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.turnLocked(turnID)
	s.msgs[i].ImageURL = imageURL
	s.removeLocked(statusID)
	s.touchLocked()
}

// AttachSources appends sources to the AI message for turnID, creating a
// placeholder when needed, and removes the status marker statusID.
func (s *Store) AttachSources(turnID string, sources []types.Source, statusID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.turnLocked(turnID)
	s.msgs[i].Sources = append(s.msgs[i].Sources, sources...)
	s.removeLocked(statusID)
	s.touchLocked()
}

// ReplaceStatus removes the status marker statusID and appends m.
func (s *Store) ReplaceStatus(statusID string, m types.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(statusID)
	s.msgs = append(s.msgs, m.Clone())
	s.touchLocked()
}

// Get returns a copy of message id.
func (s *Store) Get(id string) (types.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.msgs[i].Clone(), true
	}
	return types.Message{}, false
}

// Snapshot returns a deep copy of the current transcript.
func (s *Store) Snapshot() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := types.CloneMessages(s.msgs)
	if out == nil {
		out = []types.Message{}
	}
	return out
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Revision increases on every mutation.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rev
}

// Changed receives a value after mutations. Notifications coalesce.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

func (s *Store) touchLocked() {
	s.rev++
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.msgs, func(m types.Message) bool { return m.ID == id })
}

func (s *Store) removeLocked(id string) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.msgs = slices.Delete(s.msgs, i, i+1)
	return true
}

func (s *Store) turnLocked(turnID string) int {
	if i := s.indexLocked(turnID); i >= 0 {
		return i
	}
	s.msgs = append(s.msgs, types.Message{ID: turnID, Sender: types.SenderAI})
	return len(s.msgs) - 1
}
