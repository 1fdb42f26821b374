package scroll

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFollowsBottomByDefault(t *testing.T) {
	c := NewCoordinator()
	require.True(t, c.ObserveContentChange(Metrics{Offset: 0, Height: 20, ContentHeight: 100}))
	require.False(t, c.UserScrolledAway())
}

func TestScrollingAwaySuppressesAutoScroll(t *testing.T) {
	c := NewCoordinator(WithBottomThreshold(40))

	// 100 rows of content, viewport at the top: 60 rows below the window.
	c.ObserveUserScroll(Metrics{Offset: 0, Height: 40, ContentHeight: 140})
	require.True(t, c.UserScrolledAway())

	// Streaming deltas keep arriving; none of them may scroll the view.
	for i := 0; i < 5; i++ {
		require.False(t, c.ObserveContentChange(Metrics{Offset: 0, Height: 40, ContentHeight: 140 + i}))
	}
}

func TestScrollingBackWithinThresholdResumesFollowing(t *testing.T) {
	c := NewCoordinator(WithBottomThreshold(40))

	c.ObserveUserScroll(Metrics{Offset: 0, Height: 40, ContentHeight: 200})
	require.True(t, c.UserScrolledAway())

	// User scrolls down to 10 rows above the bottom.
	c.ObserveUserScroll(Metrics{Offset: 150, Height: 40, ContentHeight: 200})
	require.False(t, c.UserScrolledAway())
	require.True(t, c.ObserveContentChange(Metrics{Offset: 150, Height: 40, ContentHeight: 201}))
}

func TestExactThresholdStillFollows(t *testing.T) {
	c := NewCoordinator(WithBottomThreshold(40))

	c.ObserveUserScroll(Metrics{Offset: 20, Height: 40, ContentHeight: 100})
	require.False(t, c.UserScrolledAway(), "distance equal to threshold counts as near-bottom")
}

func TestShortContentNeverCountsAsScrolledAway(t *testing.T) {
	c := NewCoordinator()
	c.ObserveUserScroll(Metrics{Offset: 0, Height: 40, ContentHeight: 10})
	require.False(t, c.UserScrolledAway())
}

func TestJumpToEarlierMessageSuppressesFollowing(t *testing.T) {
	c := NewCoordinator(WithBottomThreshold(40))

	// Jump to a message near the top of a long conversation.
	c.ObserveJump(Metrics{Offset: 5, Height: 40, ContentHeight: 300})
	require.True(t, c.UserScrolledAway())
	require.False(t, c.ObserveContentChange(Metrics{Offset: 5, Height: 40, ContentHeight: 301}))

	// Jumping to the newest message resumes following.
	c.ObserveJump(Metrics{Offset: 261, Height: 40, ContentHeight: 301})
	require.False(t, c.UserScrolledAway())
}
