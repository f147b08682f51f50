package transcript

import (
	"sync"
	"testing"
	"time"

	"github.com/vango-go/terranogyneco/pkg/core/types"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStore_NewIDStrictlyIncreasing(t *testing.T) {
	s := New(nil, WithClock(fixedClock(time.UnixMilli(1000))))
	a := s.NewID(PrefixUser)
	b := s.NewID(PrefixAI)
	c := s.NewID(PrefixUser)
	if a != "user-1000" || b != "ai-1001" || c != "user-1002" {
		t.Fatalf("ids = %q %q %q", a, b, c)
	}
}

func TestStore_SetTextCreatesThenUpdatesInPlace(t *testing.T) {
	s := New(nil)
	s.Append(types.Message{ID: "user-1", Sender: types.SenderUser, Text: "bonjour"})
	s.SetText("ai-2", types.SenderAI, "première")
	s.SetText("ai-2", types.SenderAI, "seconde")

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[1].ID != "ai-2" || got[1].Text != "seconde" || got[1].Sender != types.SenderAI {
		t.Fatalf("ai message = %+v", got[1])
	}
}

func TestStore_AttachImageAfterTextMutatesSameMessage(t *testing.T) {
	s := New(nil)
	s.Append(types.Message{ID: "image-status-5", Sender: types.SenderSystem, Text: "Génération..."})
	s.SetText("ai-4", types.SenderAI, "Voici l'illustration.")
	s.AttachImage("ai-4", "data:image/png;base64,AAAA", "image-status-5")

	got := s.Snapshot()
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1: %+v", len(got), got)
	}
	if got[0].ID != "ai-4" || got[0].Text != "Voici l'illustration." || got[0].ImageURL == "" {
		t.Fatalf("message = %+v", got[0])
	}
}

func TestStore_AttachImageCreatesPlaceholderThenTextFillsIt(t *testing.T) {
	s := New(nil)
	s.Append(types.Message{ID: "user-1", Sender: types.SenderUser, Text: "montre un kyste ovarien"})
	s.Append(types.Message{ID: "image-status-3", Sender: types.SenderSystem})
	s.AttachImage("ai-2", "https://img/1.png", "image-status-3")
	s.SetText("ai-2", types.SenderAI, "Voici un kyste ovarien.")

	got := s.Snapshot()
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[1].ID != "ai-2" || got[1].ImageURL != "https://img/1.png" || got[1].Text != "Voici un kyste ovarien." {
		t.Fatalf("ai message = %+v", got[1])
	}
}

func TestStore_AttachSourcesAppends(t *testing.T) {
	s := New(nil)
	s.AttachSources("ai-1", []types.Source{{URI: "https://a", Title: "A"}}, "")
	s.AttachSources("ai-1", []types.Source{{URI: "https://b", Title: "B"}}, "missing")
	m, ok := s.Get("ai-1")
	if !ok || len(m.Sources) != 2 || m.Sources[1].URI != "https://b" {
		t.Fatalf("Get(ai-1) = %+v, %v", m, ok)
	}
}

func TestStore_ReplaceStatusKeepsSurroundingOrder(t *testing.T) {
	s := New([]types.Message{
		{ID: "user-1", Sender: types.SenderUser},
		{ID: "image-status-2", Sender: types.SenderSystem},
		{ID: "ai-3", Sender: types.SenderAI},
	})
	s.ReplaceStatus("image-status-2", types.Message{ID: "image-error-4", Sender: types.SenderSystem, Text: "Échec"})

	got := s.Snapshot()
	want := []string{"user-1", "ai-3", "image-error-4"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("got[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	seed := []types.Message{{ID: "ai-1", Sender: types.SenderAI, Sources: []types.Source{{URI: "u", Title: "t"}}}}
	s := New(seed)
	seed[0].ID = "mutated"

	snap := s.Snapshot()
	snap[0].Sources[0].Title = "changed"
	again := s.Snapshot()
	if again[0].ID != "ai-1" || again[0].Sources[0].Title != "t" {
		t.Fatalf("store shares memory with callers: %+v", again[0])
	}
	if empty := New(nil).Snapshot(); empty == nil || len(empty) != 0 {
		t.Fatalf("empty snapshot = %#v", empty)
	}
}

func TestStore_RemoveMissingIsNoop(t *testing.T) {
	s := New(nil)
	rev := s.Revision()
	if s.Remove("nope") {
		t.Fatalf("Remove(nope) = true")
	}
	if s.Revision() != rev {
		t.Fatalf("revision advanced on no-op remove")
	}
}

func TestStore_ChangedCoalesces(t *testing.T) {
	s := New(nil)
	s.Append(types.Message{ID: "a"})
	s.Append(types.Message{ID: "b"})
	select {
	case <-s.Changed():
	default:
		t.Fatalf("no change notification")
	}
	select {
	case <-s.Changed():
		t.Fatalf("notifications did not coalesce")
	default:
	}
}

func TestStore_ConcurrentMutationsAreAtomic(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			status := s.NewID(PrefixImageStatus)
			turn := s.NewID(PrefixAI)
			s.Append(types.Message{ID: status, Sender: types.SenderSystem})
			s.AttachImage(turn, "u", status)
		}()
		go func() {
			defer wg.Done()
			for _, m := range s.Snapshot() {
				if m.Sender == types.SenderAI && m.ImageURL == "" {
					t.Errorf("observed AI placeholder without image: %+v", m)
				}
			}
		}()
	}
	wg.Wait()
	for _, m := range s.Snapshot() {
		if m.Sender == types.SenderSystem {
			t.Fatalf("status marker left behind: %+v", m)
		}
	}
	if s.Len() != 50 {
		t.Fatalf("Len() = %d, want 50", s.Len())
	}
}
