//go:build linux || darwin

package msgloop

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// reactor is the loop's blocking primitive: a wake descriptor the loop
// polls on with a timeout, plus the thread-safe queue behind
// [MessageLoop.RemoteExecutor] and [MessageLoop.Dispatch]. Writing the
// wake descriptor from any goroutine interrupts the poll; the loop then
// drains the queue on its own goroutine.
type reactor struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wakeFd      int
	wakeWriteFd int
	wakeBuf     [8]byte
	wakePending atomic.Uint32
}

func newReactor() (*reactor, error) {
	readFd, writeFd, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	return &reactor{wakeFd: readFd, wakeWriteFd: writeFd}, nil
}

// post enqueues a thunk for the loop goroutine and wakes the loop.
// Thunks posted after close are dropped, matching a stopped reactor.
func (r *reactor) post(fn func()) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()
	r.wake()
	return true
}

// wake interrupts a blocked wait. Writes are deduplicated; pipe errors
// are ignored since they only occur while the reactor is closing.
func (r *reactor) wake() {
	if !r.wakePending.CompareAndSwap(0, 1) {
		return
	}
	var buf [8]byte
	buf[0] = 1
	if _, err := writeFD(r.wakeWriteFd, buf[:]); err != nil {
		r.wakePending.Store(0)
	}
}

// take swaps out the queued thunks.
func (r *reactor) take(into []func()) []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return into[:0]
	}
	out := append(into[:0], r.queue...)
	clear(r.queue)
	r.queue = r.queue[:0]
	return out
}

func (r *reactor) pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) > 0
}

// wait blocks until the wake descriptor becomes readable or the timeout
// elapses. A negative timeout blocks indefinitely. Returns the zero
// Error on wake or timeout.
func (r *reactor) wait(timeout time.Duration) Error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout.Milliseconds())
		if ms == 0 && timeout > 0 {
			ms = 1
		}
	}

	fds := []unix.PollFd{{Fd: int32(r.wakeFd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			if errno, ok := err.(unix.Errno); ok {
				return MkReactorError(int(errno), err.Error())
			}
			return MkReactorError(-1, err.Error())
		}
		if n > 0 {
			r.drainWake()
		}
		return Error{}
	}
}

// drainWake consumes queued wake signals.
func (r *reactor) drainWake() {
	for {
		if _, err := readFD(r.wakeFd, r.wakeBuf[:]); err != nil {
			break
		}
	}
	r.wakePending.Store(0)
}

// close stops accepting posts and releases the wake descriptor.
func (r *reactor) close() {
	r.mu.Lock()
	r.closed = true
	r.queue = nil
	r.mu.Unlock()

	_ = closeFD(r.wakeFd)
	if r.wakeWriteFd != r.wakeFd {
		_ = closeFD(r.wakeWriteFd)
	}
}
