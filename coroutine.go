package msgloop

// Coroutine bridge: Async runs a function body on its own goroutine and
// exposes its eventual result as a promise, while Await lets that body
// suspend on any promise or notifier. The suspended body never touches
// promise state directly — attachment and resumption are funnelled
// through the loop, so continuations always run on the loop goroutine
// and the body resumes off the producer's stack.

// Coro is the suspension context handed to an [Async] body. It is valid
// only inside that body and only for Await calls.
type Coro struct {
	loop *MessageLoop
}

// Loop returns the loop the coroutine is bridged to.
func (c *Coro) Loop() *MessageLoop { return c.loop }

// Async runs fn on a new goroutine and returns a promise for its
// result. The returned promise settles on the loop goroutine. A panic
// in fn rejects the promise with a CoroutineException error carrying
// the panic description.
func Async[T any](loop *MessageLoop, fn func(*Coro) Result[T]) *Promise[T] {
	p := NewPromise[T]()
	resolver := p.GetResolver()
	co := &Coro{loop: loop}
	go func() {
		res := runCoroBody(fn, co)
		loop.Dispatch(loop, func() {
			resolver.Set(res)
		})
	}()
	return p
}

// AsyncNotifier is [Async] for bodies that only signal completion: a
// zero returned Error resolves the notifier, anything else rejects it.
func AsyncNotifier(loop *MessageLoop, fn func(*Coro) Error) *Notifier {
	n := NewNotifier()
	resolver := n.GetResolver()
	co := &Coro{loop: loop}
	go func() {
		res := runCoroBody(func(c *Coro) Result[Void] {
			if e := fn(c); e.Has() {
				return NewErrorResult[Void](e)
			}
			return NewResult(Void{})
		}, co)
		loop.Dispatch(loop, func() {
			resolver.Set(res)
		})
	}()
	return n
}

func runCoroBody[T any](fn func(*Coro) Result[T], co *Coro) (out Result[T]) {
	defer func() {
		if v := recover(); v != nil {
			out = NewErrorResult[T](Errf(ErrorCoroutineException, "%v", v))
		}
	}()
	return fn(co)
}

// Await suspends the coroutine until p settles and returns the final
// result. The continuation is attached on the loop goroutine and
// resumption is scheduled through the loop's Normal executor. Await
// must only be called from inside an [Async] body.
func Await[U any](c *Coro, p *Promise[U]) Result[U] {
	ch := make(chan Result[U], 1)
	c.loop.Dispatch(c.loop, func() {
		p.Then(func(r Result[U]) {
			ch <- r
		}, c.loop.Executor())
	})
	return <-ch
}

// AwaitNotifier suspends the coroutine until n settles, returning the
// zero Error on success.
func AwaitNotifier(c *Coro, n *Notifier) Error {
	ch := make(chan Error, 1)
	c.loop.Dispatch(c.loop, func() {
		n.Then(func(e Error) {
			ch <- e
		}, c.loop.Executor())
	})
	return <-ch
}
