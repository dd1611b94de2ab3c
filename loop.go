//go:build linux || darwin

package msgloop

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Standard errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop
	// that is already running.
	ErrLoopAlreadyRunning = errors.New("msgloop: loop is already running")

	// ErrLoopShutdown is returned when Run is called on a loop that has
	// been shut down.
	ErrLoopShutdown = errors.New("msgloop: loop has been shut down")
)

// LoopState is the lifecycle state of a [MessageLoop].
type LoopState int32

const (
	// LoopStateInit means the loop has been created but not started.
	LoopStateInit LoopState = iota
	// LoopStateRunning means Run is executing.
	LoopStateRunning
	// LoopStateShutdown means the loop has stopped (or was stopped
	// before ever running).
	LoopStateShutdown
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case LoopStateInit:
		return "Init"
	case LoopStateRunning:
		return "Running"
	case LoopStateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Severity selects the priority band a posted thunk runs in. Within one
// band thunks run FIFO; across bands the loop drains Urgent, then
// Critical, then Normal on every scheduling beat.
type Severity int

const (
	// SeverityUrgent is drained first.
	SeverityUrgent Severity = iota
	// SeverityCritical is drained after Urgent.
	SeverityCritical
	// SeverityNormal is the default band; promise continuations
	// attached via [MessageLoop.Executor] run here.
	SeverityNormal
)

// Per-goroutine current-loop registry. The loop installs itself when
// Run starts and removes itself when Run returns; starting a second
// loop on the same goroutine is a programming error.
var (
	currentLoopsMu sync.Mutex
	currentLoops   = map[uint64]*MessageLoop{}
)

func installCurrent(gid uint64, l *MessageLoop) {
	currentLoopsMu.Lock()
	defer currentLoopsMu.Unlock()
	if _, exists := currentLoops[gid]; exists {
		panic("msgloop: a message loop is already running on this goroutine")
	}
	currentLoops[gid] = l
}

func uninstallCurrent(gid uint64) {
	currentLoopsMu.Lock()
	defer currentLoopsMu.Unlock()
	delete(currentLoops, gid)
}

// Current returns the message loop running on the calling goroutine,
// or nil if there is none.
func Current() *MessageLoop {
	currentLoopsMu.Lock()
	defer currentLoopsMu.Unlock()
	return currentLoops[getGoroutineID()]
}

var loopIDCounter atomic.Uint64

// MessageLoop owns three severity-banded task queues, a hierarchical
// timer wheel, a deadline-timer heap, and a reactor for cross-goroutine
// submission. Everything the loop runs executes on the goroutine that
// called [MessageLoop.Run]; the only thread-safe entry points are
// [MessageLoop.Dispatch], [MessageLoop.RemoteExecutor], and
// [MessageLoop.Shutdown].
type MessageLoop struct {
	urgent   LocalExecutor
	critical LocalExecutor
	normal   LocalExecutor

	wheel     *TimerWheel
	deadlines deadlineHeap
	reactor   *reactor

	logger loopLogger

	heartbeatInterval time.Duration
	taskSchedInterval time.Duration
	tickDuration      time.Duration

	lastWheelAdvance time.Time

	// remoteBuf is reused across remote-queue drains.
	remoteBuf []func()

	state           atomic.Int32
	loopGoroutineID atomic.Uint64
	id              uint64

	loopDone chan struct{}
	doneOnce sync.Once
}

// NewMessageLoop creates a message loop. It does not start running;
// call [MessageLoop.Run] on the goroutine that should own the loop.
func NewMessageLoop(opts ...LoopOption) (*MessageLoop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	reac, err := newReactor()
	if err != nil {
		return nil, err
	}

	l := &MessageLoop{
		wheel:             NewTimerWheel(0),
		reactor:           reac,
		logger:            loopLogger{logger: cfg.logger},
		heartbeatInterval: cfg.heartbeatInterval,
		taskSchedInterval: cfg.taskSchedInterval,
		tickDuration:      cfg.tickDuration,
		id:                loopIDCounter.Add(1),
		loopDone:          make(chan struct{}),
	}
	l.state.Store(int32(LoopStateInit))
	return l, nil
}

// ID returns the loop's process-unique identifier.
func (l *MessageLoop) ID() uint64 { return l.id }

// State returns the loop's lifecycle state.
func (l *MessageLoop) State() LoopState { return LoopState(l.state.Load()) }

// IsRunning reports whether Run is executing.
func (l *MessageLoop) IsRunning() bool { return l.State() == LoopStateRunning }

// Done is closed when Run has returned and all shutdown work is drained.
func (l *MessageLoop) Done() <-chan struct{} { return l.loopDone }

// IsInMessageLoopThread reports whether the caller is on the loop
// goroutine.
func (l *MessageLoop) IsInMessageLoopThread() bool {
	gid := l.loopGoroutineID.Load()
	return gid != 0 && gid == getGoroutineID()
}

// Run executes the loop until Shutdown, blocking the calling goroutine.
// The calling goroutine becomes the loop thread: every posted thunk,
// timer callback, and promise continuation runs here.
func (l *MessageLoop) Run() error {
	switch {
	case l.state.CompareAndSwap(int32(LoopStateInit), int32(LoopStateRunning)):
	case l.State() == LoopStateRunning:
		return ErrLoopAlreadyRunning
	default:
		return ErrLoopShutdown
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gid := getGoroutineID()
	installCurrent(gid, l)
	defer uninstallCurrent(gid)

	l.loopGoroutineID.Store(gid)
	defer l.loopGoroutineID.Store(0)
	defer l.doneOnce.Do(func() { close(l.loopDone) })
	defer l.reactor.close()

	l.logger.loopStarted(l.id)

	now := time.Now()
	l.lastWheelAdvance = now
	nextTaskSched := now.Add(l.taskSchedInterval)

	for l.State() == LoopStateRunning {
		now = time.Now()

		l.advanceWheel(now)

		if !now.Before(nextTaskSched) {
			l.runTasks()
			scavengePromises(scavengeBatch)
			for !now.Before(nextTaskSched) {
				nextTaskSched = nextTaskSched.Add(l.taskSchedInterval)
			}
		}

		l.runDeadlines(now)
		l.runRemote()

		if l.State() != LoopStateRunning {
			break
		}

		if l.reactor.pending() {
			continue
		}
		timeout := l.nextWakeDelay(time.Now(), nextTaskSched)
		if e := l.reactor.wait(timeout); e.Has() {
			l.logger.reactorError(l.id, e)
			l.shutdownOnLoop()
			break
		}
	}

	// Late arrivals: anything dispatched between the shutdown decision
	// and the reactor closing still runs on the loop thread.
	l.runRemote()
	l.runTasks()

	l.logger.loopStopped(l.id)
	return nil
}

// Shutdown stops the loop. Timer-wheel events and pending deadlines
// receive a LoopShutdown error; queued tasks are drained before Run
// returns. Shutdown may be called from any goroutine and is idempotent.
// It does not wait for the loop to stop; receive from [MessageLoop.Done]
// for that.
func (l *MessageLoop) Shutdown() {
	if l.state.CompareAndSwap(int32(LoopStateInit), int32(LoopStateShutdown)) {
		// Never ran: cancel directly and release the reactor.
		l.wheel.Cancel(Err(ErrorEventLoopShutdown))
		l.deadlines.cancelAll(Err(ErrorEventLoopShutdown), l.invokeTask)
		l.reactor.close()
		l.doneOnce.Do(func() { close(l.loopDone) })
		return
	}

	l.Dispatch(l, func() {
		l.shutdownOnLoop()
	})
}

// shutdownOnLoop performs the shutdown sequence on the loop goroutine.
func (l *MessageLoop) shutdownOnLoop() {
	if !l.state.CompareAndSwap(int32(LoopStateRunning), int32(LoopStateShutdown)) {
		return
	}
	l.logger.loopShutdown(l.id)
	l.wheel.Cancel(Err(ErrorEventLoopShutdown))
	l.deadlines.cancelAll(Err(ErrorEventLoopShutdown), l.invokeTask)
	l.runTasks()
}

// Post enqueues a thunk on the severity band's local executor. Post is
// loop-goroutine only; use [MessageLoop.Dispatch] from other goroutines.
func (l *MessageLoop) Post(fn func(), severity Severity) {
	switch severity {
	case SeverityUrgent:
		l.urgent.Post(fn)
	case SeverityCritical:
		l.critical.Post(fn)
	default:
		l.normal.Post(fn)
	}
}

// Dispatch runs the handler on the target loop: inline when the caller
// is already on the target's goroutine, otherwise via the target's
// remote executor. Dispatch is safe to call from any goroutine.
func (l *MessageLoop) Dispatch(target *MessageLoop, handler func()) {
	if target.IsInMessageLoopThread() {
		handler()
		return
	}
	if !target.reactor.post(handler) {
		l.logger.dispatchDropped(target.id)
	}
}

// Executor returns the Normal-band local executor. Promise
// continuations attached with this executor run on the loop goroutine
// during the task scheduling beat.
func (l *MessageLoop) Executor() Executor { return &l.normal }

// RemoteExecutor returns the thread-safe executor backed by the
// reactor. Thunks posted here wake the loop and run on its goroutine.
func (l *MessageLoop) RemoteExecutor() Executor { return remoteExecutor{l} }

type remoteExecutor struct {
	l *MessageLoop
}

func (r remoteExecutor) Post(fn func()) {
	if !r.l.reactor.post(fn) {
		r.l.logger.dispatchDropped(r.l.id)
	}
}

// RunAt schedules a one-shot deadline on the monotonic clock. The
// handler receives the zero Error when the deadline passes, or a
// LoopShutdown error if the loop stops first. Loop-goroutine only.
func (l *MessageLoop) RunAt(handler func(Error), tm time.Time) {
	l.deadlines.add(handler, tm)
}

// RunAfter schedules a one-shot deadline delay from now. See RunAt.
func (l *MessageLoop) RunAfter(handler func(Error), delay time.Duration) {
	l.deadlines.add(handler, time.Now().Add(delay))
}

// AddTimerEvent schedules a wheel-backed timer firing after delay. The
// handler receives the zero Error on expiry, or the cancellation error
// if the wheel is cancelled first. The returned token owns the event:
// cancelling the token unlinks it before it fires. Loop-goroutine only.
func (l *MessageLoop) AddTimerEvent(handler func(Error), delay time.Duration) TimerToken {
	if delay < l.tickDuration {
		delay = l.tickDuration
	}
	ev := newTimerEvent(handler)
	ticks := Tick(delay / l.tickDuration)
	l.wheel.Schedule(ev.event, ticks)
	l.logger.timerScheduled(l.id, delay)
	return TimerToken{event: ev}
}

// AddTimerEventAt schedules a wheel-backed timer firing at ts. A
// deadline at or before now fires on the next tick.
func (l *MessageLoop) AddTimerEventAt(handler func(Error), ts time.Time) TimerToken {
	delay := time.Until(ts)
	if delay < l.tickDuration {
		delay = l.tickDuration
	}
	return l.AddTimerEvent(handler, delay)
}

// Wheel exposes the loop's timer wheel. Loop-goroutine only.
func (l *MessageLoop) Wheel() *TimerWheel { return l.wheel }

// advanceWheel moves the wheel forward by the whole ticks elapsed since
// the last advance. Sub-tick remainders carry over.
func (l *MessageLoop) advanceWheel(now time.Time) {
	elapsed := now.Sub(l.lastWheelAdvance)
	if elapsed < l.heartbeatInterval {
		return
	}
	ticks := Tick(elapsed / l.tickDuration)
	if ticks == 0 {
		return
	}
	l.wheel.Advance(ticks, WheelExecuteUnbounded)
	l.lastWheelAdvance = l.lastWheelAdvance.Add(time.Duration(ticks) * l.tickDuration)
}

// runTasks drains the bands in severity order into one batch, then
// executes the batch. Thunks posted during execution wait for the next
// scheduling beat, matching the band-barrier the batch establishes.
func (l *MessageLoop) runTasks() {
	total := l.urgent.Size() + l.critical.Size() + l.normal.Size()
	if total == 0 {
		return
	}

	tasks := make([]func(), 0, total)
	for _, band := range []*LocalExecutor{&l.urgent, &l.critical, &l.normal} {
		for {
			fn, ok := band.Pop()
			if !ok {
				break
			}
			tasks = append(tasks, fn)
		}
	}

	for _, fn := range tasks {
		l.invokeTask(fn)
	}
}

// runDeadlines fires every deadline due at now.
func (l *MessageLoop) runDeadlines(now time.Time) {
	l.deadlines.runDue(now, l.invokeTask)
}

// runRemote drains cross-goroutine submissions.
func (l *MessageLoop) runRemote() {
	l.remoteBuf = l.reactor.take(l.remoteBuf)
	for i, fn := range l.remoteBuf {
		l.invokeTask(fn)
		l.remoteBuf[i] = nil
	}
}

// invokeTask runs a thunk with panic containment.
func (l *MessageLoop) invokeTask(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.taskPanicked(l.id, r)
		}
	}()
	fn()
}

// nextWakeDelay computes how long the loop may safely sleep: until the
// next task scheduling beat, the next deadline, or the next wheel
// event, whichever comes first.
func (l *MessageLoop) nextWakeDelay(now time.Time, nextTaskSched time.Time) time.Duration {
	// Queued band work only runs on the scheduling beat, so the beat
	// bounds the sleep.
	delay := nextTaskSched.Sub(now)

	if when, ok := l.deadlines.next(); ok {
		if d := when.Sub(now); d < delay {
			delay = d
		}
	}
	if delay <= 0 {
		return 0
	}

	maxTicks := Tick(delay/l.tickDuration) + 1
	ticks := l.wheel.TicksToNextEvent(maxTicks)
	wheelDelay := time.Duration(ticks)*l.tickDuration - now.Sub(l.lastWheelAdvance)
	if wheelDelay < delay {
		delay = wheelDelay
	}

	if delay < 0 {
		delay = 0
	}
	return delay
}

// getGoroutineID parses the current goroutine's ID from its stack
// header.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
