package ui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleRendersAfterBatchThreshold(t *testing.T) {
	rt := newRenderThrottle()
	rt.lastFlush = time.Now()

	for i := 0; i < 14; i++ {
		rt.MarkDirty()
	}
	require.False(t, rt.ShouldRender())

	rt.MarkDirty()
	require.True(t, rt.ShouldRender())
	// Counter resets after a render.
	require.False(t, rt.ShouldRender())
}

func TestThrottleRendersAfterFrameInterval(t *testing.T) {
	rt := newRenderThrottle()
	rt.MarkDirty()
	require.False(t, rt.ShouldRender())

	rt.lastFlush = time.Now().Add(-time.Second)
	require.True(t, rt.ShouldRender())
}

func TestThrottleStaysIdleWithNothingPending(t *testing.T) {
	rt := newRenderThrottle()
	rt.lastFlush = time.Now().Add(-time.Second)
	require.False(t, rt.ShouldRender())
	require.False(t, rt.Force())
}

func TestForceDrainsPendingImmediately(t *testing.T) {
	rt := newRenderThrottle()
	rt.MarkDirty()
	require.True(t, rt.Force())
	require.False(t, rt.ShouldRender())
}
