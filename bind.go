package msgloop

import "weak"

// BindWeak wraps fn so that it runs only while target is still alive.
// The returned closure holds a weak reference: once target has been
// collected, invoking the closure is a no-op. Useful for timer callbacks
// whose receiver may be destroyed before the timer fires.
func BindWeak[T any, A any](target *T, fn func(*T, A)) func(A) {
	wp := weak.Make(target)
	return func(a A) {
		if t := wp.Value(); t != nil {
			fn(t, a)
		}
	}
}

// BindWeakThunk is BindWeak for argument-less callbacks.
func BindWeakThunk[T any](target *T, fn func(*T)) func() {
	wp := weak.Make(target)
	return func() {
		if t := wp.Value(); t != nil {
			fn(t)
		}
	}
}

// BindWeakValue wraps fn so that it runs only while target is still
// alive; once target has been collected the closure returns def instead.
func BindWeakValue[T any, A any, R any](target *T, fn func(*T, A) R, def R) func(A) R {
	wp := weak.Make(target)
	return func(a A) R {
		if t := wp.Value(); t != nil {
			return fn(t, a)
		}
		return def
	}
}
