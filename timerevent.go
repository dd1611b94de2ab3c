package msgloop

// Cancelable is the type-erased cancellation surface of a timer.
type Cancelable interface {
	CancelEvent()
}

// timerEvent adapts a user callback to a wheel event. The callback is
// one-shot: it receives the zero Error when the timer fires and the
// cancellation Error when the wheel is cancelled; either way it is
// dropped afterwards.
type timerEvent struct {
	event    *WheelEvent
	callback func(Error)
}

func newTimerEvent(callback func(Error)) *timerEvent {
	t := &timerEvent{callback: callback}
	t.event = NewWheelEvent(t.execute)
	t.event.SetOnCancel(t.onCancel)
	return t
}

func (t *timerEvent) execute() {
	if t.callback != nil {
		cb := t.callback
		t.callback = nil
		cb(Error{})
	}
}

func (t *timerEvent) onCancel(e Error) {
	if t.callback != nil {
		cb := t.callback
		t.callback = nil
		cb(e)
	}
}

func (t *timerEvent) isFired() bool { return t.callback == nil }

// CancelEvent implements [Cancelable]: it unlinks the timer without
// invoking the callback.
func (t *timerEvent) CancelEvent() { t.event.Cancel() }

// TimerToken owns a wheel-backed timer: cancelling the token unlinks
// the event before it fires. Cancellation is explicit — a token that is
// merely dropped leaves its timer scheduled. Tokens are typically
// captured by the closures that need to cancel the work, so
// [TimerToken.AsCancelable] converts the exclusive token into a shared
// handle.
type TimerToken struct {
	event *timerEvent
}

// Cancel unlinks the timer and releases the token.
func (t *TimerToken) Cancel() {
	if t.event != nil {
		t.event.CancelEvent()
		t.event = nil
	}
}

// AsCancelable transfers ownership of the timer into a shared
// [Cancelable] handle, leaving the token empty.
func (t *TimerToken) AsCancelable() Cancelable {
	ev := t.event
	t.event = nil
	if ev == nil {
		return nil
	}
	return ev
}

// IsEmpty reports whether the token no longer owns a timer.
func (t *TimerToken) IsEmpty() bool { return t.event == nil }

// IsFired reports whether the timer's callback has already run.
func (t *TimerToken) IsFired() bool { return t.event != nil && t.event.isFired() }
