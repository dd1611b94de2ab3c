package msgloop

import (
	"weak"
)

// Status is the lifecycle state of a promise node.
//
// State machine:
//
//	Init         → PreFulfilled   resolve()
//	Init         → PreRejected    reject()
//	Init         → Cancelled      cancel()
//	PreFulfilled → Fulfilled      continuation invoked by executor
//	PreFulfilled → Cancelled      cancel() before the continuation runs
//	PreRejected  → Rejected       continuation invoked by executor
//	PreRejected  → Cancelled      cancel() before the continuation runs
//	Fulfilled / Rejected / Cancelled are terminal.
type Status uint8

const (
	// StatusInit is the initial state.
	StatusInit Status = iota
	// StatusPreFulfilled means resolve() has been called but the
	// continuation has not yet been invoked.
	StatusPreFulfilled
	// StatusFulfilled means the continuation has been invoked with a value.
	StatusFulfilled
	// StatusPreRejected means reject() has been called but the
	// continuation has not yet been invoked.
	StatusPreRejected
	// StatusRejected means the continuation has been invoked with an error.
	StatusRejected
	// StatusCancelled means the node was cancelled; callback and storage
	// have been purged.
	StatusCancelled
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case StatusInit:
		return "Init"
	case StatusPreFulfilled:
		return "PreFulfilled"
	case StatusFulfilled:
		return "Fulfilled"
	case StatusPreRejected:
		return "PreRejected"
	case StatusRejected:
		return "Rejected"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// statusMachine enforces the legal transitions. Transitions are monotone
// except the Cancel shortcut from Init and the Pre-* states.
type statusMachine struct {
	s Status
}

func (m *statusMachine) status() Status { return m.s }

func (m *statusMachine) isEmpty() bool        { return m.s == StatusInit }
func (m *statusMachine) isPreFulfilled() bool { return m.s == StatusPreFulfilled }
func (m *statusMachine) isFulfilled() bool    { return m.s == StatusFulfilled }
func (m *statusMachine) isPreRejected() bool  { return m.s == StatusPreRejected }
func (m *statusMachine) isRejected() bool     { return m.s == StatusRejected }
func (m *statusMachine) isCancelled() bool    { return m.s == StatusCancelled }

// isPending reports that the node has settled but the continuation has
// not yet been invoked.
func (m *statusMachine) isPending() bool { return m.isPreFulfilled() || m.isPreRejected() }

// isDone reports that the continuation has been invoked.
func (m *statusMachine) isDone() bool { return m.isFulfilled() || m.isRejected() }

// isSatisfied reports that resolve() won.
func (m *statusMachine) isSatisfied() bool { return m.isPreFulfilled() || m.isFulfilled() }

// isUnsatisfied reports that reject() won.
func (m *statusMachine) isUnsatisfied() bool { return m.isPreRejected() || m.isRejected() }

// isSettled reports that a value or error has been received.
func (m *statusMachine) isSettled() bool { return !m.isEmpty() && !m.isCancelled() }

func (m *statusMachine) to(from, to Status) bool {
	if m.s == from {
		m.s = to
		return true
	}
	return false
}

func (m *statusMachine) toPreFulfilled() bool { return m.to(StatusInit, StatusPreFulfilled) }
func (m *statusMachine) toFulfilled() bool    { return m.to(StatusPreFulfilled, StatusFulfilled) }
func (m *statusMachine) toPreRejected() bool  { return m.to(StatusInit, StatusPreRejected) }
func (m *statusMachine) toRejected() bool     { return m.to(StatusPreRejected, StatusRejected) }

func (m *statusMachine) toCancelled() bool {
	switch m.s {
	case StatusInit, StatusPreFulfilled, StatusPreRejected:
		m.s = StatusCancelled
		return true
	default:
		return false
	}
}

// downstream is the non-owning forward reference from a node to its
// successor. Implementations hold weak pointers, so a successor the
// consumer has dropped is simply skipped.
type downstream interface {
	// cancelDownstream cancels the successor and everything after it.
	cancelDownstream()
	// alive reports whether the successor has not been collected.
	alive() bool
}

// weakLink is the downstream implementation for a successor of value
// type U.
type weakLink[U any] struct {
	p weak.Pointer[promiseState[U]]
}

func (l *weakLink[U]) cancelDownstream() {
	if s := l.p.Value(); s != nil {
		s.cancelChain()
	}
}

func (l *weakLink[U]) alive() bool { return l.p.Value() != nil }

// promiseState is one node of a continuation chain: the status machine,
// the settled result storage, the attached continuation plus its
// executor, and the chain links. The node owns its predecessor through
// a strong reference and refers to its successor through a weak link,
// so a chain stays alive exactly as long as a holder of the tail does.
//
// promiseState is confined to the loop goroutine; it carries no locks.
type promiseState[T any] struct {
	status   statusMachine
	storage  *Result[T]
	callback func(Result[T])
	executor Executor

	// prev pins the predecessor (and transitively the whole upstream
	// chain) while this node is reachable.
	prev any
	// next is the non-owning forward reference used for cancellation
	// walks and propagation bookkeeping.
	next downstream

	// attachment pins an arbitrary payload, e.g. a combinator's input
	// container, for the lifetime of this node.
	attachment any

	// onCancel, when set, runs once as the node is cancelled. Nothing in
	// this package installs it.
	onCancel func()
}

func newPromiseState[T any]() *promiseState[T] {
	s := &promiseState[T]{}
	trackPromiseState(s)
	return s
}

func (s *promiseState[T]) resolve(v T) bool {
	if !s.status.isEmpty() {
		return false
	}
	r := NewResult(v)
	s.storage = &r
	s.status.toPreFulfilled()
	s.tryInvokeCallback()
	return true
}

func (s *promiseState[T]) reject(e Error) bool {
	if !s.status.isEmpty() {
		return false
	}
	r := NewErrorResult[T](e)
	s.storage = &r
	s.status.toPreRejected()
	s.tryInvokeCallback()
	return true
}

func (s *promiseState[T]) set(r Result[T]) bool {
	if r.IsOk() {
		return s.resolve(r.PassResult())
	}
	return s.reject(r.PassError())
}

// cancelSelf transitions this node to Cancelled (when legal) and purges
// its callback, storage, and cancel hook.
func (s *promiseState[T]) cancelSelf() {
	if !s.status.isEmpty() && !s.status.isPending() {
		return
	}
	s.callback = nil
	s.storage = nil
	if hook := s.onCancel; hook != nil {
		s.onCancel = nil
		hook()
	}
	s.status.toCancelled()
}

// cancelChain cancels this node and every live successor.
func (s *promiseState[T]) cancelChain() {
	s.cancelSelf()
	if s.next != nil {
		s.next.cancelDownstream()
	}
}

// attach installs the continuation. If the node is already pending its
// invocation is scheduled immediately.
func (s *promiseState[T]) attach(cb func(Result[T]), executor Executor) {
	s.callback = cb
	s.executor = executor
	s.tryInvokeCallback()
}

// tryInvokeCallback schedules the continuation when the node is pending.
// The scheduled thunk holds only a weak reference to the node: if the
// node is cancelled (or collected) before the executor runs it, the
// thunk detects the terminal state on entry and becomes a no-op.
func (s *promiseState[T]) tryInvokeCallback() {
	if s.callback == nil || !s.status.isPending() {
		return
	}
	wp := weak.Make(s)
	s.runInExecutor(func() {
		s := wp.Value()
		if s == nil {
			return
		}
		switch s.status.status() {
		case StatusPreFulfilled:
			s.status.toFulfilled()
			s.invokeCallback()
		case StatusPreRejected:
			s.status.toRejected()
			s.invokeCallback()
		default:
			// Cancelled in flight: drop silently.
		}
	})
}

func (s *promiseState[T]) invokeCallback() {
	cb := s.callback
	s.callback = nil
	r := *s.storage
	// The typed wrappers convert panics into rejections downstream; this
	// recover is the last line keeping panics from escaping the executor.
	defer func() { _ = recover() }()
	cb(r)
}

func (s *promiseState[T]) runInExecutor(fn func()) {
	if s.executor != nil {
		s.executor.Post(fn)
	} else {
		fn()
	}
}

// propagateResult settles this node from an upstream continuation's
// returned result.
func (s *promiseState[T]) propagateResult(r Result[T]) {
	if r.IsOk() {
		s.resolve(r.PassResult())
	} else if r.IsError() {
		s.reject(r.PassError())
	}
}

// adoptInner re-parents this node onto an inner promise returned by a
// continuation, so the inner's eventual settlement becomes this node's
// settlement (flattening). The inner promise must not already carry a
// continuation.
func (s *promiseState[T]) adoptInner(inner *promiseState[T]) {
	if inner.callback != nil {
		panic("msgloop: cannot adopt a promise that already has a continuation")
	}
	s.prev = inner
	inner.next = &weakLink[T]{weak.Make(s)}

	wp := weak.Make(s)
	// Identity continuation with a nil executor: the inner's settlement
	// forwards here synchronously, with no executor hop in between.
	inner.attach(func(r Result[T]) {
		if t := wp.Value(); t != nil {
			t.propagateResult(r)
		}
	}, nil)
}

func (s *promiseState[T]) hasLiveNext() bool {
	return s.next != nil && s.next.alive()
}

// Promise is a handle to the future outcome of type T, composable via
// continuations. See [Then], [ThenPromise], and [Promise.Then].
//
// Promise values, like everything in this package outside Dispatch and
// the remote executor, are confined to the loop goroutine.
type Promise[T any] struct {
	state *promiseState[T]
}

// NewPromise creates a promise in the Init state.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{state: newPromiseState[T]()}
}

// Resolve fulfils the promise with v. It reports whether it won the
// settlement race: only the first resolve/reject succeeds, later calls
// return false with no side effects.
func (p *Promise[T]) Resolve(v T) bool { return p.state.resolve(v) }

// Reject fails the promise with e. First settlement wins; see Resolve.
func (p *Promise[T]) Reject(e Error) bool { return p.state.reject(e) }

// Set settles the promise from a Result: Ok resolves, error rejects.
func (p *Promise[T]) Set(r Result[T]) bool { return p.state.set(r) }

// Cancel moves the promise (and every live successor in its chain) to
// Cancelled, dropping storage, continuations, and any suspended
// coroutine handles. Cancelling a done or cancelled promise is a no-op;
// Cancel is idempotent.
func (p *Promise[T]) Cancel() { p.state.cancelChain() }

// GetResolver returns the producer's weak settlement handle.
func (p *Promise[T]) GetResolver() Resolver[T] {
	return Resolver[T]{w: weak.Make(p.state)}
}

// Status returns the current node status.
func (p *Promise[T]) Status() Status { return p.state.status.status() }

// IsEmpty reports the promise is still in Init.
func (p *Promise[T]) IsEmpty() bool { return p.state.status.isEmpty() }

// IsPending reports the promise settled but its continuation has not run.
func (p *Promise[T]) IsPending() bool { return p.state.status.isPending() }

// IsDone reports the continuation has been invoked.
func (p *Promise[T]) IsDone() bool { return p.state.status.isDone() }

// IsSettled reports a value or error has been received.
func (p *Promise[T]) IsSettled() bool { return p.state.status.isSettled() }

// IsSatisfied reports resolve() won the settlement race.
func (p *Promise[T]) IsSatisfied() bool { return p.state.status.isSatisfied() }

// IsUnsatisfied reports reject() won the settlement race.
func (p *Promise[T]) IsUnsatisfied() bool { return p.state.status.isUnsatisfied() }

// IsPreFulfilled reports the node is in PreFulfilled.
func (p *Promise[T]) IsPreFulfilled() bool { return p.state.status.isPreFulfilled() }

// IsFulfilled reports the node is in Fulfilled.
func (p *Promise[T]) IsFulfilled() bool { return p.state.status.isFulfilled() }

// IsPreRejected reports the node is in PreRejected.
func (p *Promise[T]) IsPreRejected() bool { return p.state.status.isPreRejected() }

// IsRejected reports the node is in Rejected.
func (p *Promise[T]) IsRejected() bool { return p.state.status.isRejected() }

// IsCancelled reports the node is in Cancelled.
func (p *Promise[T]) IsCancelled() bool { return p.state.status.isCancelled() }

// HasHandler reports whether a continuation is attached.
func (p *Promise[T]) HasHandler() bool { return p.state.callback != nil }

// GetExecutor returns the executor the continuation will run on.
func (p *Promise[T]) GetExecutor() Executor { return p.state.executor }

// Then attaches a terminal continuation: f consumes the final result
// and produces nothing, so no new promise is created. The promise must
// be the tail of its chain. Panics from f are swallowed; there is no
// downstream node to reject.
func (p *Promise[T]) Then(f func(Result[T]), executor Executor) {
	s := p.state
	if s.hasLiveNext() {
		panic("msgloop: terminal continuation on a promise with a successor")
	}
	s.attach(func(r Result[T]) {
		defer func() { _ = recover() }()
		f(r)
	}, executor)
}

// Then attaches a continuation producing a Result[U] and returns the
// promise of U it feeds. When p settles, its continuation is posted to
// executor (or run inline if executor is nil); the thunk advances p to
// its terminal state, invokes f, and propagates the returned result
// into the new promise. A panic in f rejects the new promise with a
// CoroutineException error.
func Then[T, U any](p *Promise[T], f func(Result[T]) Result[U], executor Executor) *Promise[U] {
	next := NewPromise[U]()
	watch(next.state, p.state)

	src := p.state
	wpSrc := weak.Make(src)
	wpNext := weak.Make(next.state)
	src.attach(func(r Result[T]) {
		if wpSrc.Value() == nil {
			return
		}
		res := protectResult(f, r)
		if nx := wpNext.Value(); nx != nil {
			nx.propagateResult(res)
		}
	}, executor)

	return next
}

// ThenPromise attaches a continuation producing an inner promise and
// returns the promise of U that adopts it: the outer promise forwards
// the inner's eventual settlement (flattening). The inner promise must
// not already carry a continuation. A panic in f rejects the outer
// promise with a CoroutineException error.
func ThenPromise[T, U any](p *Promise[T], f func(Result[T]) *Promise[U], executor Executor) *Promise[U] {
	next := NewPromise[U]()
	watch(next.state, p.state)

	src := p.state
	wpSrc := weak.Make(src)
	wpNext := weak.Make(next.state)
	src.attach(func(r Result[T]) {
		if wpSrc.Value() == nil {
			return
		}
		inner, perr := protectPromise(f, r)
		nx := wpNext.Value()
		if nx == nil {
			return
		}
		if perr.Has() {
			nx.reject(perr)
			return
		}
		nx.adoptInner(inner.state)
	}, executor)

	return next
}

// watch makes next own src as its predecessor and records next as src's
// (non-owning) successor.
func watch[U, T any](next *promiseState[U], src *promiseState[T]) {
	next.prev = src
	src.next = &weakLink[U]{weak.Make(next)}
}

func protectResult[T, U any](f func(Result[T]) Result[U], r Result[T]) (out Result[U]) {
	defer func() {
		if v := recover(); v != nil {
			out = NewErrorResult[U](Errf(ErrorCoroutineException, "%v", v))
		}
	}()
	return f(r)
}

func protectPromise[T, U any](f func(Result[T]) *Promise[U], r Result[T]) (out *Promise[U], e Error) {
	defer func() {
		if v := recover(); v != nil {
			out = nil
			e = Errf(ErrorCoroutineException, "%v", v)
		}
	}()
	out = f(r)
	if out == nil {
		e = Errf(ErrorCoroutineException, "continuation returned a nil promise")
	}
	return
}

// Resolver is the producer's handle to a promise: a weak reference
// carrying the resolve, reject, and cancel affordances. A producer
// never keeps the promise alive; once every consumer reference is gone
// the resolver expires and settlement attempts report false.
type Resolver[T any] struct {
	w weak.Pointer[promiseState[T]]
}

// Resolve fulfils the promise. Returns false if the settlement race was
// already decided or the promise has been collected.
func (r Resolver[T]) Resolve(v T) bool {
	if s := r.w.Value(); s != nil {
		return s.resolve(v)
	}
	return false
}

// Reject fails the promise. Returns false if the settlement race was
// already decided or the promise has been collected.
func (r Resolver[T]) Reject(e Error) bool {
	if s := r.w.Value(); s != nil {
		return s.reject(e)
	}
	return false
}

// Set settles the promise from a Result: Ok resolves, error rejects.
func (r Resolver[T]) Set(res Result[T]) bool {
	if s := r.w.Value(); s != nil {
		return s.set(res)
	}
	return false
}

// Cancel cancels the promise and its chain, if still alive.
func (r Resolver[T]) Cancel() {
	if s := r.w.Value(); s != nil {
		s.cancelChain()
	}
}

// IsExpired reports whether the promise state has been collected.
func (r Resolver[T]) IsExpired() bool { return r.w.Value() == nil }

// Reset drops the resolver's reference.
func (r *Resolver[T]) Reset() { r.w = weak.Pointer[promiseState[T]]{} }

// IsDone reports whether the continuation has been invoked; ok is false
// when the promise has been collected.
func (r Resolver[T]) IsDone() (done, ok bool) {
	if s := r.w.Value(); s != nil {
		return s.status.isDone(), true
	}
	return false, false
}

// IsEmpty reports whether the promise is still in Init; ok is false
// when the promise has been collected.
func (r Resolver[T]) IsEmpty() (empty, ok bool) {
	if s := r.w.Value(); s != nil {
		return s.status.isEmpty(), true
	}
	return false, false
}

// IsSettled reports whether the result has been settled (the
// continuation may not have run yet); ok is false when collected.
func (r Resolver[T]) IsSettled() (settled, ok bool) {
	if s := r.w.Value(); s != nil {
		return s.status.isSettled(), true
	}
	return false, false
}

// IsSatisfied reports whether resolve() won; ok is false when collected.
func (r Resolver[T]) IsSatisfied() (satisfied, ok bool) {
	if s := r.w.Value(); s != nil {
		return s.status.isSatisfied(), true
	}
	return false, false
}

// IsUnsatisfied reports whether reject() won; ok is false when collected.
func (r Resolver[T]) IsUnsatisfied() (unsatisfied, ok bool) {
	if s := r.w.Value(); s != nil {
		return s.status.isUnsatisfied(), true
	}
	return false, false
}

// MkResolvedPromise creates a promise already resolved with v.
func MkResolvedPromise[T any](v T) *Promise[T] {
	p := NewPromise[T]()
	p.Resolve(v)
	return p
}

// MkRejectedPromise creates a promise already rejected with e.
func MkRejectedPromise[T any](e Error) *Promise[T] {
	p := NewPromise[T]()
	p.Reject(e)
	return p
}

// MkPromise creates a promise and hands fn a resolve and a reject
// callable, of which at most one should be invoked. The callables hold
// the state strongly, so the promise stays alive while either is.
func MkPromise[T any](fn func(resolve func(T) bool, reject func(Error) bool)) *Promise[T] {
	state := newPromiseState[T]()
	resolve := func(v T) bool { return state.resolve(v) }
	reject := func(e Error) bool { return state.reject(e) }
	p := &Promise[T]{state: state}
	fn(resolve, reject)
	return p
}

// PromiseAttachment is a weak accessor to the payload pinned by an
// attachment promise. The payload lives exactly as long as the promise
// state does.
type PromiseAttachment[T any, P any] struct {
	w weak.Pointer[promiseState[T]]
}

// IsExisted reports whether the owning promise state is still alive.
func (a PromiseAttachment[T, P]) IsExisted() bool { return a.w.Value() != nil }

// Get returns the pinned payload, or ok=false once the owning promise
// state has been collected.
func (a PromiseAttachment[T, P]) Get() (*P, bool) {
	if s := a.w.Value(); s != nil {
		if p, ok := s.attachment.(*P); ok {
			return p, true
		}
	}
	return nil, false
}

// MkAttachmentPromise is [MkPromise] with a payload pinned to the
// promise state for its lifetime. Combinators use it to keep their
// input container alive until every continuation has run.
func MkAttachmentPromise[T any, P any](fn func(resolve func(T) bool, reject func(Error) bool), payload P) (*Promise[T], PromiseAttachment[T, P]) {
	state := newPromiseState[T]()
	state.attachment = &payload

	resolve := func(v T) bool { return state.resolve(v) }
	reject := func(e Error) bool { return state.reject(e) }

	att := PromiseAttachment[T, P]{w: weak.Make(state)}
	p := &Promise[T]{state: state}
	fn(resolve, reject)
	return p, att
}

// Notifier is the promise specialization whose value type is the unit
// tag [Void]: it carries only success or an error.
type Notifier struct {
	Promise[Void]
}

// NotifierResolver is the producer handle for a [Notifier].
type NotifierResolver struct {
	Resolver[Void]
}

// Resolve signals successful completion.
func (r NotifierResolver) Resolve() bool { return r.Resolver.Resolve(Void{}) }

// NewNotifier creates a notifier in the Init state.
func NewNotifier() *Notifier {
	return &Notifier{Promise[Void]{state: newPromiseState[Void]()}}
}

// GetResolver returns the producer's weak settlement handle.
func (n *Notifier) GetResolver() NotifierResolver {
	return NotifierResolver{n.Promise.GetResolver()}
}

// Resolve signals successful completion.
func (n *Notifier) Resolve() bool { return n.Promise.Resolve(Void{}) }

// Then attaches a terminal continuation receiving the zero Error on
// success or the rejection error on failure.
func (n *Notifier) Then(f func(Error), executor Executor) {
	n.Promise.Then(func(r Result[Void]) {
		if r.IsOk() {
			f(Error{})
		} else {
			f(r.PassError())
		}
	}, executor)
}

// MkResolvedNotifier creates a notifier already resolved.
func MkResolvedNotifier() *Notifier {
	n := NewNotifier()
	n.Resolve()
	return n
}

// MkRejectedNotifier creates a notifier already rejected with e.
func MkRejectedNotifier(e Error) *Notifier {
	n := NewNotifier()
	n.Reject(e)
	return n
}
