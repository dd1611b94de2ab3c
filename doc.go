// Package msgloop implements a single-threaded cooperative message loop
// together with the asynchronous-result primitives that network clients
// and servers are built on: a typed promise with a six-state machine,
// a chaining/combinator algebra over promises, and a hierarchical timer
// wheel driven by the loop's heartbeat.
//
// # Model
//
// Every promise continuation, timer callback, and posted thunk executes
// on exactly one goroutine: the one that called [MessageLoop.Run]. The
// loop itself is the only thing that blocks (on its reactor); work is
// handed to it from other goroutines exclusively through
// [MessageLoop.Dispatch] or the loop's [MessageLoop.RemoteExecutor].
//
// # Promises
//
// A producer creates a promise, keeps the [Resolver], and returns the
// [Promise] to the consumer. The consumer attaches continuations with
// [Then], [ThenPromise], or the terminal [Promise.Then] method, naming
// the executor the continuation should run on. A nil executor means the
// continuation runs inline on the producer's stack at the moment of
// settlement; otherwise the producer only enqueues a thunk.
//
// Chains are kept alive by the holder of the tail: each node holds its
// predecessor strongly, while producers hold only weak handles. Dropping
// the tail therefore lets the whole detached chain be collected, and a
// [Resolver] whose promise is gone simply reports false.
//
// # Timers
//
// [MessageLoop.AddTimerEvent] schedules coarse, high-volume timers on
// the hierarchical [TimerWheel] (1 tick = 1ms by default), returning a
// [TimerToken] that owns the event. [MessageLoop.RunAt] and
// [MessageLoop.RunAfter] are one-shot deadlines on the monotonic clock,
// independent of the wheel. On shutdown both populations receive a
// LoopShutdown error.
package msgloop
