package msgloop

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindTarget struct {
	hits int
}

func (b *bindTarget) hit(n int) { b.hits += n }

func TestBindWeak_InvokesWhileAlive(t *testing.T) {
	target := &bindTarget{}
	cb := BindWeak(target, (*bindTarget).hit)

	cb(2)
	cb(3)
	assert.Equal(t, 5, target.hits)
}

func TestBindWeak_NoOpAfterCollection(t *testing.T) {
	cb := func() func(int) {
		target := &bindTarget{}
		return BindWeak(target, func(b *bindTarget, n int) {
			t.Fatalf("callback target should be gone")
		})
	}()

	for i := 0; i < 10; i++ {
		runtime.GC()
	}

	assert.NotPanics(t, func() { cb(1) })
}

func TestBindWeakThunk(t *testing.T) {
	target := &bindTarget{}
	cb := BindWeakThunk(target, func(b *bindTarget) { b.hits++ })
	cb()
	cb()
	assert.Equal(t, 2, target.hits)
}

func TestBindWeakValue_DefaultAfterCollection(t *testing.T) {
	target := &bindTarget{hits: 10}
	cb := BindWeakValue(target, func(b *bindTarget, n int) int {
		return b.hits + n
	}, -1)

	require.Equal(t, 11, cb(1))

	target = nil
	_ = target
	for i := 0; i < 10; i++ {
		runtime.GC()
	}

	assert.Equal(t, -1, cb(1), "collected target must yield the default")
}
