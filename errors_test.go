package msgloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Zero(t *testing.T) {
	var e Error
	assert.False(t, e.Has())
	assert.Nil(t, e.Category())
	assert.Equal(t, NoErrorCode, e.Code())
	assert.False(t, e.HasMessage())
	assert.Equal(t, "<no error>", e.Error())
}

func TestError_HasTracksCategory(t *testing.T) {
	e := NewError(SyscallCategory(), 13)
	assert.True(t, e.Has())
	assert.Equal(t, 13, e.Code())
	assert.True(t, e.IsSysError())
	assert.False(t, e.IsReactorError())

	e.Clear()
	assert.False(t, e.Has())
	assert.Nil(t, e.Category())
}

func TestError_CategoryIdentity(t *testing.T) {
	a := GeneralCategory("dns")
	b := GeneralCategory("dns")
	c := GeneralCategory("http")

	assert.Same(t, a, b, "same name must yield the same category")
	assert.NotSame(t, a, c)
	assert.Equal(t, "dns", a.Name())
}

func TestError_Details(t *testing.T) {
	e := MkGeneralError(42, "lookup failed", "dns")
	assert.Equal(t, "dns", e.Category().Name())
	assert.Equal(t, 42, e.Code())
	require.True(t, e.HasMessage())
	assert.Equal(t, "lookup failed", e.Message())
	assert.Equal(t, "dns[error] ec: 42", e.Information())
	assert.Equal(t, "dns[error] ec: 42: lookup failed", e.Details())
}

func TestError_MkSysError(t *testing.T) {
	e := MkSysError(2)
	assert.True(t, e.IsSysError())
	assert.Equal(t, "syscall", e.Category().Name())
	assert.Equal(t, "syscall[error] errno: 2", e.Information())
}

func TestError_MkReactorError(t *testing.T) {
	e := MkReactorError(4, "interrupted")
	assert.True(t, e.IsReactorError())
	assert.Equal(t, 4, e.Code())
	assert.Equal(t, "interrupted", e.Message())

	// Code zero means no error.
	none := MkReactorError(0, "ignored")
	assert.False(t, none.Has())
}

func TestEventErrors(t *testing.T) {
	cases := []struct {
		code EventError
		info string
	}{
		{ErrorEventPromiseAny, "event[promise any operation failed]"},
		{ErrorEventPromiseRace, "event[promise race operation failed]"},
		{ErrorEventLoopShutdown, "event[message loop shutdown]"},
		{ErrorUnsupportedEvent, "event[event unsupported]"},
		{ErrorCoroutineException, "event[coroutine exception]"},
	}

	for _, tc := range cases {
		e := Err(tc.code)
		assert.Equal(t, EventCategory(), e.Category())
		assert.Equal(t, int(tc.code), e.Code())
		assert.Equal(t, tc.info, e.Information())
	}

	assert.Equal(t, "event[none]", EventCategory().Information(999))
	assert.Equal(t, "event", EventCategory().Name())
}

func TestErrf_FormatsMessage(t *testing.T) {
	e := Errf(ErrorCoroutineException, "panic: %v", "boom")
	assert.Equal(t, "panic: boom", e.Message())
	assert.Equal(t, int(ErrorCoroutineException), e.Code())
}
