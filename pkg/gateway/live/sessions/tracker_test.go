package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestTracker_WaitReturnsWhenLastSessionLeaves(t *testing.T) {
	tr := NewTracker()
	assert.True(t, tr.Wait(waitCtx(t, 10*time.Millisecond)), "empty tracker does not block")

	leaveA := tr.Register("a", Handle{Owner: "dr-martin"})
	leaveB := tr.Register("b", Handle{Owner: "dr-martin"})
	require.Equal(t, 2, tr.Count())

	leaveA()
	leaveA()
	assert.Equal(t, 1, tr.Count())
	assert.False(t, tr.Wait(waitCtx(t, 20*time.Millisecond)), "one session still open")

	done := make(chan bool, 1)
	go func() { done <- tr.Wait(waitCtx(t, time.Second)) }()
	leaveB()
	assert.True(t, <-done)
	assert.Zero(t, tr.Count())

	// Reusable after emptying.
	leaveC := tr.Register("c", Handle{})
	assert.False(t, tr.Wait(waitCtx(t, 10*time.Millisecond)))
	leaveC()
	assert.True(t, tr.Wait(waitCtx(t, 10*time.Millisecond)))
}

func TestTracker_Broadcasts(t *testing.T) {
	tr := NewTracker()
	var warned, ended, canceled atomic.Int64
	tr.Register("a", Handle{
		Warn:   func(code, message string) error { warned.Add(1); return nil },
		End:    func() { ended.Add(1) },
		Cancel: func() { canceled.Add(1) },
		Owner:  "dr-martin",
	})
	tr.Register("b", Handle{
		Warn:  func(code, message string) error { warned.Add(1); return errors.New("socket closed") },
		Owner: "dr-martin",
	})
	tr.Register("c", Handle{Owner: "dr-durand"})

	assert.Equal(t, 2, tr.WarnAll("server_draining", "bye"))
	assert.Equal(t, 1, tr.EndAll())
	assert.Equal(t, 1, tr.CancelAll())
	assert.Equal(t, int64(2), warned.Load())
	assert.Equal(t, int64(1), ended.Load())
	assert.Equal(t, int64(1), canceled.Load())

	assert.Equal(t, 2, tr.CountFor("dr-martin"))
	assert.Equal(t, 1, tr.CountFor("dr-durand"))
}

func TestTracker_CallbacksMayUnregister(t *testing.T) {
	tr := NewTracker()
	var leave func()
	leave = tr.Register("a", Handle{End: func() { leave() }})

	assert.Equal(t, 1, tr.EndAll())
	assert.Zero(t, tr.Count())
}

func TestTracker_SameIDReplaces(t *testing.T) {
	tr := NewTracker()
	leaveOld := tr.Register("a", Handle{Owner: "dr-martin"})
	leaveNew := tr.Register("a", Handle{Owner: "dr-durand"})
	require.Equal(t, 1, tr.Count())
	assert.Equal(t, 1, tr.CountFor("dr-durand"))

	leaveOld()
	assert.Equal(t, 1, tr.Count(), "stale unregister leaves the replacement")

	leaveNew()
	assert.True(t, tr.Wait(waitCtx(t, 10*time.Millisecond)))
}
