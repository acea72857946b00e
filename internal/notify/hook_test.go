package notify

import (
	"testing"

	"github.com/danmuck/bladectl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookFiresListenersInRegistrationOrder(t *testing.T) {
	testlog.Start(t)
	h := NewHook[int]("order")
	var got []string
	h.Add(func(v int) { got = append(got, "a") })
	h.Add(func(v int) { got = append(got, "b") })
	h.Add(func(v int) { got = append(got, "c") })

	h.Fire(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestHookRemoveIsIdempotent(t *testing.T) {
	testlog.Start(t)
	h := NewHook[string]("remove")
	calls := 0
	remove := h.Add(func(string) { calls++ })
	require.Equal(t, 1, h.Len())

	remove()
	remove()
	h.Fire("x")
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, h.Len())
}

func TestHookIsolatesPanickingListener(t *testing.T) {
	testlog.Start(t)
	h := NewHook[string]("panic")
	var seen []string
	h.Add(func(v string) { seen = append(seen, "before:"+v) })
	h.Add(func(string) { panic("boom") })
	h.Add(func(v string) { seen = append(seen, "after:"+v) })

	require.NotPanics(t, func() { h.Fire("evt") })
	assert.Equal(t, []string{"before:evt", "after:evt"}, seen)
}

func TestHookAddNilIsNoop(t *testing.T) {
	h := NewHook[int]("nil")
	remove := h.Add(nil)
	remove()
	assert.Equal(t, 0, h.Len())
}
