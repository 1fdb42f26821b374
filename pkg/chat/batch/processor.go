// Package batch hands finalized messages off for secondary processing
// (persistence, analytics). Processing is fire-and-forget: a failing sink is
// logged and never rolls back or re-mutates the message, and never blocks
// the streaming path.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

// Sink consumes one finalized message. Retry policy, if any, belongs to the
// sink; the processor never retries.
type Sink interface {
	Process(ctx context.Context, msg *history.Message) error
}

// FuncSink adapts a plain function to the Sink interface.
type FuncSink func(ctx context.Context, msg *history.Message) error

func (f FuncSink) Process(ctx context.Context, msg *history.Message) error {
	return f(ctx, msg)
}

// Processor fans each finalized message out to its sinks exactly once per
// message id. Dispatch happens on a separate goroutine so a slow sink cannot
// stall delta handling.
type Processor struct {
	sinks   []Sink
	timeout time.Duration

	mu   sync.Mutex
	seen map[string]struct{}
	wg   sync.WaitGroup
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithSinkTimeout bounds how long one sink invocation may run.
func WithSinkTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) { p.timeout = d }
}

// NewProcessor builds a processor over the given sinks.
func NewProcessor(sinks []Sink, opts ...ProcessorOption) *Processor {
	p := &Processor{
		sinks:   sinks,
		timeout: 30 * time.Second,
		seen:    map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process forwards a finalized message to every sink, at most once per
// message id. Duplicate calls for the same message are silently ignored.
func (p *Processor) Process(msg *history.Message) {
	if p == nil || msg == nil || msg.ID == "" {
		return
	}

	p.mu.Lock()
	if _, dup := p.seen[msg.ID]; dup {
		p.mu.Unlock()
		log.Debug().
			Str("component", "batch").
			Str("message_id", msg.ID).
			Msg("message already processed; skipping")
		return
	}
	p.seen[msg.ID] = struct{}{}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(msg)
	}()
}

// Wait blocks until all in-flight dispatches have finished. Used on
// shutdown and in tests.
func (p *Processor) Wait() {
	if p == nil {
		return
	}
	p.wg.Wait()
}

func (p *Processor) dispatch(msg *history.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	for _, sink := range p.sinks {
		p.runSink(ctx, sink, msg)
	}
}

// runSink isolates one sink invocation: errors are logged, panics are
// contained, and neither affects the other sinks or the conversation.
func (p *Processor) runSink(ctx context.Context, sink Sink, msg *history.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "batch").
				Str("message_id", msg.ID).
				Interface("panic", r).
				Msg("recovered panic in batch sink")
		}
	}()

	if err := sink.Process(ctx, msg); err != nil {
		log.Warn().
			Err(err).
			Str("component", "batch").
			Str("message_id", msg.ID).
			Msg("batch sink failed; message state is unaffected")
	}
}
