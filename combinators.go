package msgloop

// Combinators over finite collections of promises. Each combinator
// attaches a terminal continuation to every input and settles an outer
// promise from a shared counter context; the outer promise pins the
// input slice as an attachment so the inputs stay alive until every
// continuation has run.

// MkAllPromise resolves with the input values, in input order, once
// every input resolves; it rejects with the first error observed. After
// a rejection the remaining settlements are still accepted but
// discarded. An empty input resolves immediately with an empty slice.
func MkAllPromise[T any](promises []*Promise[T], executor Executor) *Promise[[]T] {
	if len(promises) == 0 {
		return MkResolvedPromise([]T{})
	}

	type allCtx struct {
		results   []T
		remaining int
	}

	outer, _ := MkAttachmentPromise(func(resolve func([]T) bool, reject func(Error) bool) {
		ctx := &allCtx{
			results:   make([]T, len(promises)),
			remaining: len(promises),
		}
		for i, p := range promises {
			idx := i
			p.Then(func(r Result[T]) {
				if r.IsError() {
					reject(r.PassError())
					return
				}
				ctx.results[idx] = r.PassResult()
				ctx.remaining--
				if ctx.remaining == 0 {
					resolve(ctx.results)
				}
			}, executor)
		}
	}, promises)

	return outer
}

// MkAnyPromise resolves with the first value observed; it rejects with
// a PromiseAnyExhausted error only once every input has rejected. An
// empty input rejects immediately.
func MkAnyPromise[T any](promises []*Promise[T], executor Executor) *Promise[T] {
	if len(promises) == 0 {
		return MkRejectedPromise[T](Errf(ErrorEventPromiseAny, "no promise"))
	}

	type anyCtx struct {
		errors    []Error
		remaining int
	}

	outer, _ := MkAttachmentPromise(func(resolve func(T) bool, reject func(Error) bool) {
		ctx := &anyCtx{
			errors:    make([]Error, len(promises)),
			remaining: len(promises),
		}
		for i, p := range promises {
			idx := i
			p.Then(func(r Result[T]) {
				if r.IsOk() {
					resolve(r.PassResult())
					return
				}
				ctx.errors[idx] = r.PassError()
				ctx.remaining--
				if ctx.remaining == 0 {
					reject(Errf(ErrorEventPromiseAny, "no resolved promise"))
				}
			}, executor)
		}
	}, promises)

	return outer
}

// MkRacePromise settles with the first settlement observed, value or
// error. An empty input rejects immediately with a PromiseRaceEmpty
// error.
func MkRacePromise[T any](promises []*Promise[T], executor Executor) *Promise[T] {
	if len(promises) == 0 {
		return MkRejectedPromise[T](Errf(ErrorEventPromiseRace, "no promise"))
	}

	outer, _ := MkAttachmentPromise(func(resolve func(T) bool, reject func(Error) bool) {
		for _, p := range promises {
			p.Then(func(r Result[T]) {
				if r.IsOk() {
					resolve(r.PassResult())
				} else {
					reject(r.PassError())
				}
			}, executor)
		}
	}, promises)

	return outer
}

// ThenAll chains a continuation yielding a collection of promises and
// flattens it through [MkAllPromise]: the returned promise resolves
// with every inner value in order, or rejects with the first error.
func ThenAll[T, U any](p *Promise[T], f func(Result[T]) Result[[]*Promise[U]], executor Executor) *Promise[[]U] {
	return ThenPromise(p, func(r Result[T]) *Promise[[]U] {
		res := protectResult(f, r)
		if res.IsError() {
			return MkRejectedPromise[[]U](res.PassError())
		}
		return MkAllPromise(res.PassResult(), executor)
	}, executor)
}

// ThenAny chains a continuation yielding a collection of promises and
// flattens it through [MkAnyPromise].
func ThenAny[T, U any](p *Promise[T], f func(Result[T]) Result[[]*Promise[U]], executor Executor) *Promise[U] {
	return ThenPromise(p, func(r Result[T]) *Promise[U] {
		res := protectResult(f, r)
		if res.IsError() {
			return MkRejectedPromise[U](res.PassError())
		}
		return MkAnyPromise(res.PassResult(), executor)
	}, executor)
}

// ThenRace chains a continuation yielding a collection of promises and
// flattens it through [MkRacePromise].
func ThenRace[T, U any](p *Promise[T], f func(Result[T]) Result[[]*Promise[U]], executor Executor) *Promise[U] {
	return ThenPromise(p, func(r Result[T]) *Promise[U] {
		res := protectResult(f, r)
		if res.IsError() {
			return MkRejectedPromise[U](res.PassError())
		}
		return MkRacePromise(res.PassResult(), executor)
	}, executor)
}
