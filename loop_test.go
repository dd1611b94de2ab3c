//go:build linux || darwin

package msgloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startLoop runs the loop on its own goroutine and returns a stop
// function that shuts it down and waits for termination.
func startLoop(t *testing.T, opts ...LoopOption) (*MessageLoop, func()) {
	t.Helper()

	l, err := NewMessageLoop(opts...)
	require.NoError(t, err)

	runErr := make(chan error, 1)
	go func() { runErr <- l.Run() }()

	stop := func() {
		l.Shutdown()
		select {
		case err := <-runErr:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("loop did not stop")
		}
	}
	return l, stop
}

// onLoop runs fn on the loop goroutine and waits for it to finish.
func onLoop(t *testing.T, l *MessageLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	l.Dispatch(l, func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not run")
	}
}

func TestMessageLoop_RunAndShutdown(t *testing.T) {
	l, stop := startLoop(t)
	require.True(t, l.IsRunning())

	stop()

	assert.Equal(t, LoopStateShutdown, l.State())
	select {
	case <-l.Done():
	default:
		t.Fatal("Done must be closed after shutdown")
	}

	// A stopped loop cannot run again.
	assert.ErrorIs(t, l.Run(), ErrLoopShutdown)
}

func TestMessageLoop_RunTwiceFails(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	require.Eventually(t, l.IsRunning, time.Second, time.Millisecond)
	assert.ErrorIs(t, l.Run(), ErrLoopAlreadyRunning)
}

func TestMessageLoop_ShutdownBeforeRun(t *testing.T) {
	l, err := NewMessageLoop()
	require.NoError(t, err)

	l.Shutdown()
	assert.Equal(t, LoopStateShutdown, l.State())
	select {
	case <-l.Done():
	default:
		t.Fatal("Done must be closed")
	}

	assert.ErrorIs(t, l.Run(), ErrLoopShutdown)
}

func TestMessageLoop_ShutdownIsIdempotent(t *testing.T) {
	l, stop := startLoop(t)
	stop()
	assert.NotPanics(t, l.Shutdown)
}

func TestMessageLoop_PostSeverityOrdering(t *testing.T) {
	l, stop := startLoop(t, WithTaskSchedInterval(time.Millisecond))
	defer stop()

	got := make(chan []string, 1)
	onLoop(t, l, func() {
		var order []string
		l.Post(func() { order = append(order, "normal-1") }, SeverityNormal)
		l.Post(func() { order = append(order, "critical") }, SeverityCritical)
		l.Post(func() { order = append(order, "urgent") }, SeverityUrgent)
		l.Post(func() { order = append(order, "normal-2") }, SeverityNormal)
		l.Post(func() { got <- order }, SeverityNormal)
	})

	select {
	case order := <-got:
		assert.Equal(t, []string{"urgent", "critical", "normal-1", "normal-2"}, order[:4])
	case <-time.After(5 * time.Second):
		t.Fatal("tasks did not run")
	}
}

func TestMessageLoop_DispatchInlineOnLoopThread(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	inline := make(chan bool, 1)
	onLoop(t, l, func() {
		ran := false
		l.Dispatch(l, func() { ran = true })
		inline <- ran
	})

	assert.True(t, <-inline, "same-loop dispatch must run inline")
}

func TestMessageLoop_CurrentLoop(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	assert.Nil(t, Current(), "test goroutine has no loop")

	got := make(chan *MessageLoop, 1)
	onLoop(t, l, func() {
		got <- Current()
	})
	assert.Same(t, l, <-got)
}

func TestMessageLoop_IsInMessageLoopThread(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	assert.False(t, l.IsInMessageLoopThread())

	got := make(chan bool, 1)
	onLoop(t, l, func() { got <- l.IsInMessageLoopThread() })
	assert.True(t, <-got)
}

func TestMessageLoop_RemoteExecutor(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	done := make(chan struct{})
	l.RemoteExecutor().Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("remote thunk did not run")
	}
}

func TestMessageLoop_RunAfter(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	got := make(chan Error, 1)
	start := time.Now()
	onLoop(t, l, func() {
		l.RunAfter(func(e Error) { got <- e }, 20*time.Millisecond)
	})

	select {
	case e := <-got:
		assert.False(t, e.Has())
		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("deadline did not fire")
	}
}

func TestMessageLoop_RunAt(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	got := make(chan Error, 1)
	onLoop(t, l, func() {
		l.RunAt(func(e Error) { got <- e }, time.Now().Add(10*time.Millisecond))
	})

	select {
	case e := <-got:
		assert.False(t, e.Has())
	case <-time.After(5 * time.Second):
		t.Fatal("deadline did not fire")
	}
}

func TestMessageLoop_AddTimerEventFires(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	got := make(chan Error, 1)
	var token TimerToken
	onLoop(t, l, func() {
		token = l.AddTimerEvent(func(e Error) { got <- e }, 10*time.Millisecond)
	})

	select {
	case e := <-got:
		assert.False(t, e.Has())
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}

	onLoop(t, l, func() {
		assert.True(t, token.IsFired())
	})
}

func TestMessageLoop_TimerTokenCancel(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	fired := make(chan struct{}, 1)
	onLoop(t, l, func() {
		token := l.AddTimerEvent(func(Error) { fired <- struct{}{} }, 50*time.Millisecond)
		token.Cancel()
		assert.True(t, token.IsEmpty())
	})

	select {
	case <-fired:
		t.Fatal("cancelled timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMessageLoop_ShutdownCancelsTimers(t *testing.T) {
	l, stop := startLoop(t)

	wheelErr := make(chan Error, 1)
	deadlineErr := make(chan Error, 1)
	onLoop(t, l, func() {
		l.AddTimerEvent(func(e Error) { wheelErr <- e }, time.Hour)
		l.RunAfter(func(e Error) { deadlineErr <- e }, time.Hour)
	})

	stop()

	select {
	case e := <-wheelErr:
		assert.Equal(t, int(ErrorEventLoopShutdown), e.Code())
		assert.Equal(t, EventCategory(), e.Category())
	case <-time.After(time.Second):
		t.Fatal("wheel timer did not receive the shutdown error")
	}

	select {
	case e := <-deadlineErr:
		assert.Equal(t, int(ErrorEventLoopShutdown), e.Code())
	case <-time.After(time.Second):
		t.Fatal("deadline did not receive the shutdown error")
	}
}

func TestMessageLoop_PromiseContinuationOnLoopExecutor(t *testing.T) {
	l, stop := startLoop(t, WithTaskSchedInterval(time.Millisecond))
	defer stop()

	got := make(chan int, 1)
	onLoop(t, l, func() {
		p := NewPromise[int]()
		outer := Then(p, func(r Result[int]) Result[int] {
			return NewResult(r.GetResult() + 1)
		}, l.Executor())
		outer.Then(func(r Result[int]) { got <- r.GetResult() }, l.Executor())
		p.Resolve(2022)
	})

	select {
	case v := <-got:
		assert.Equal(t, 2023, v)
	case <-time.After(5 * time.Second):
		t.Fatal("continuation did not run")
	}
}

func TestMessageLoop_AddTimerEventAt(t *testing.T) {
	l, stop := startLoop(t)
	defer stop()

	got := make(chan Error, 1)
	onLoop(t, l, func() {
		// A deadline already in the past still fires, on the next tick.
		l.AddTimerEventAt(func(e Error) { got <- e }, time.Now().Add(-time.Second))
	})

	select {
	case e := <-got:
		assert.False(t, e.Has())
	case <-time.After(5 * time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMessageLoop_TaskPanicIsContained(t *testing.T) {
	l, stop := startLoop(t, WithTaskSchedInterval(time.Millisecond))
	defer stop()

	after := make(chan struct{})
	onLoop(t, l, func() {
		l.Post(func() { panic("task boom") }, SeverityNormal)
		l.Post(func() { close(after) }, SeverityNormal)
	})

	select {
	case <-after:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not survive the panic")
	}
}

func TestMessageLoop_OptionValidation(t *testing.T) {
	_, err := NewMessageLoop(WithHeartbeatInterval(-time.Millisecond))
	assert.Error(t, err)

	_, err = NewMessageLoop(WithTickDuration(-1))
	assert.Error(t, err)

	// Tick granularity must be >= heartbeat interval.
	_, err = NewMessageLoop(
		WithHeartbeatInterval(10*time.Millisecond),
		WithTickDuration(time.Millisecond),
	)
	assert.Error(t, err)

	// Nil options are skipped.
	l, err := NewMessageLoop(nil, WithTaskSchedInterval(5*time.Millisecond))
	require.NoError(t, err)
	l.Shutdown()
}

func TestLoopState_String(t *testing.T) {
	assert.Equal(t, "Init", LoopStateInit.String())
	assert.Equal(t, "Running", LoopStateRunning.String())
	assert.Equal(t, "Shutdown", LoopStateShutdown.String())
}
