package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeferrer_RunsAfterDelay(t *testing.T) {
	d := NewDeferrer()
	var ran atomic.Int32

	require.True(t, d.Schedule(10*time.Millisecond, func() { ran.Add(1) }))
	assert.Equal(t, 1, d.Pending())

	require.Eventually(t, func() bool { return ran.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, d.Pending())
}

func TestDeferrer_StopCancels(t *testing.T) {
	d := NewDeferrer()
	var ran atomic.Int32

	for i := 0; i < 5; i++ {
		d.Schedule(time.Hour, func() { ran.Add(1) })
	}
	assert.Equal(t, 5, d.Stop())
	assert.Equal(t, 0, d.Pending())
	assert.False(t, d.Schedule(time.Millisecond, func() { ran.Add(1) }))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
}
