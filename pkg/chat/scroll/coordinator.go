// Package scroll decides, on every history mutation, whether the viewport
// should follow the newest content or respect a position the user scrolled
// to. It is pure state over viewport metrics so terminal and web surfaces
// can share the policy.
package scroll

// DefaultBottomThreshold is how close (in rows) to the bottom the viewport
// must be for a user scroll to count as "at the bottom" again.
const DefaultBottomThreshold = 40

// Metrics is a snapshot of the consuming viewport.
type Metrics struct {
	// Offset is the index of the first visible row.
	Offset int
	// Height is the number of visible rows.
	Height int
	// ContentHeight is the total number of rows.
	ContentHeight int
}

// DistanceFromBottom returns how many rows lie below the visible window.
func (m Metrics) DistanceFromBottom() int {
	d := m.ContentHeight - (m.Offset + m.Height)
	if d < 0 {
		return 0
	}
	return d
}

// Coordinator tracks whether the user has scrolled away from the bottom.
type Coordinator struct {
	threshold    int
	scrolledAway bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBottomThreshold overrides the bottom-proximity threshold.
func WithBottomThreshold(rows int) Option {
	return func(c *Coordinator) {
		if rows >= 0 {
			c.threshold = rows
		}
	}
}

// NewCoordinator builds a coordinator that starts in follow mode.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{threshold: DefaultBottomThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ObserveUserScroll records a user-initiated scroll. Moving beyond the
// threshold suppresses auto-scroll; coming back within it re-enables
// following on the next content change.
func (c *Coordinator) ObserveUserScroll(m Metrics) {
	if c == nil {
		return
	}
	c.scrolledAway = m.DistanceFromBottom() > c.threshold
}

// ObserveJump records a programmatic jump, such as scrolling to the first
// row of a message. Jumps are always honored regardless of follow state;
// following resumes only if the jump lands within the bottom threshold.
func (c *Coordinator) ObserveJump(m Metrics) {
	if c == nil {
		return
	}
	c.scrolledAway = m.DistanceFromBottom() > c.threshold
}

// ObserveContentChange is called on every mutation of the message list and
// on streaming transitions. It reports whether the viewport should
// auto-scroll to the bottom for this update.
func (c *Coordinator) ObserveContentChange(m Metrics) bool {
	if c == nil {
		return false
	}
	return !c.scrolledAway
}

// UserScrolledAway reports whether auto-scroll is currently suppressed.
func (c *Coordinator) UserScrolledAway() bool {
	if c == nil {
		return false
	}
	return c.scrolledAway
}
