// Package stream folds the server's partial-text events into the draft
// message of the active conversation and finalizes it on stream end.
package stream

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

// BatchProcessor receives each finalized message exactly once for secondary
// processing. Implementations must not block the streaming path.
type BatchProcessor interface {
	Process(msg *history.Message)
}

// Accumulator consumes delta and stream-end events for one conversation's
// in-flight reply. It only ever touches the last message of its history and
// drops events that find no draft there: those are stale leftovers of an
// exchange the user already abandoned, not errors.
type Accumulator struct {
	hist      *history.History
	processor BatchProcessor
	streaming atomic.Bool
	onUpdate  func()
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithUpdateFunc registers a callback fired after every applied mutation.
// Consumers use it to re-render and to re-evaluate scroll policy.
func WithUpdateFunc(fn func()) Option {
	return func(a *Accumulator) { a.onUpdate = fn }
}

// NewAccumulator builds an accumulator bound to one history arena. Switching
// conversations replaces the accumulator together with its history.
func NewAccumulator(hist *history.History, processor BatchProcessor, opts ...Option) *Accumulator {
	a := &Accumulator{hist: hist, processor: processor}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsStreaming reports whether a reply is currently in flight: true from the
// first applied delta until the stream-end event.
func (a *Accumulator) IsStreaming() bool {
	if a == nil {
		return false
	}
	return a.streaming.Load()
}

// OnDelta applies one partial-text fragment to the current draft. A delta
// with no draft present is a no-op. Panics in downstream notification are
// contained so a single bad event cannot take the conversation down.
func (a *Accumulator) OnDelta(text string) {
	if a == nil || a.hist == nil {
		return
	}
	defer a.recoverEvent("delta")

	cleaned := CleanFences(text)
	if !a.hist.ApplyDeltaToLast(cleaned) {
		log.Debug().
			Str("component", "accumulator").
			Str("conv_id", a.hist.ConversationID()).
			Msg("delta with no draft present; dropping")
		return
	}
	a.streaming.Store(true)
	a.notify()
}

// OnStreamEnd finalizes the draft with the authoritative final text and
// hands the finished message to the batch processor. Duplicate stream-ends
// and stream-ends with no draft are no-ops; an empty final text still
// finalizes so the conversation always reaches a terminal state.
func (a *Accumulator) OnStreamEnd(finalText string) {
	if a == nil || a.hist == nil {
		return
	}
	defer a.recoverEvent("stream-end")

	msg, err := a.hist.FinalizeLast(CleanFences(finalText))
	if err != nil {
		log.Debug().
			Str("component", "accumulator").
			Str("conv_id", a.hist.ConversationID()).
			Msg("stream-end with no draft present; dropping")
		a.streaming.Store(false)
		return
	}
	a.streaming.Store(false)

	if a.processor != nil {
		a.processor.Process(msg)
	}
	a.notify()
}

func (a *Accumulator) notify() {
	if a.onUpdate != nil {
		a.onUpdate()
	}
}

// recoverEvent keeps a panic thrown while handling one event from escaping
// into the transport read loop; the event is logged and treated as a no-op.
func (a *Accumulator) recoverEvent(kind string) {
	if r := recover(); r != nil {
		log.Error().
			Str("component", "accumulator").
			Str("event", kind).
			Interface("panic", r).
			Msg("recovered panic while handling stream event")
	}
}
