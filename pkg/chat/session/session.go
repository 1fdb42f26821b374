// Package session wires transport, accumulator, history and batch
// processing into one active conversation per UI surface. The session is
// constructed and destroyed around the active conversation (an arena of
// one); switching conversations swaps the whole message arena, which is what
// makes late events from the previous stream fall harmlessly on the floor.
package session

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/batch"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/events"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/stream"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

// SubmitAPI is the HTTP collaborator that accepts a user question. Its
// success is what causes the server to start pushing deltas into the
// conversation's room.
type SubmitAPI interface {
	SubmitQuestion(ctx context.Context, conversationID, question string, attachment *history.Attachment) error
}

// HistoryLoader hydrates prior exchanges when a conversation is opened.
// Optional; persistence of chat history lives outside this subsystem.
type HistoryLoader interface {
	LoadHistory(ctx context.Context, conversationID string) ([]history.Message, error)
}

// Session coordinates the streaming subsystem for one UI surface. All state
// mutation funnels through a single goroutine, so local submissions, deltas
// and stream-ends are applied to completion, one at a time, in arrival
// order.
type Session struct {
	manager   *transport.Manager
	submit    SubmitAPI
	loader    HistoryLoader
	processor *batch.Processor
	onUpdate  func()

	tasks chan func()
	done  chan struct{}

	mu     sync.Mutex
	convID string
	ns     transport.Namespace
	hist   *history.History
	acc    *stream.Accumulator
	closed bool
}

// Config collects the session's collaborators.
type Config struct {
	// BaseURL is the websocket endpoint root, e.g. "wss://api.example.com".
	BaseURL string
	// Submit is required; SendQuestion fails without it.
	Submit SubmitAPI
	// Loader is optional.
	Loader HistoryLoader
	// Sinks receive each finalized message exactly once.
	Sinks []batch.Sink
	// OnUpdate fires after every applied mutation of the message list and
	// on streaming transitions.
	OnUpdate func()
	// TransportOptions apply to every connection the session opens.
	TransportOptions []transport.Option
}

// New builds a session. Call Close when the consuming surface goes away.
func New(cfg Config) (*Session, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("session: base URL is empty")
	}
	s := &Session{
		manager:   transport.NewManager(cfg.BaseURL, cfg.TransportOptions...),
		submit:    cfg.Submit,
		loader:    cfg.Loader,
		processor: batch.NewProcessor(cfg.Sinks),
		onUpdate:  cfg.OnUpdate,
		tasks:     make(chan func(), 256),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *Session) loop() {
	defer close(s.done)
	for task := range s.tasks {
		task()
	}
}

var (
	errSessionClosed = errors.New("session is closed")
	errQueueFull     = errors.New("session: event queue is full")
)

// post enqueues a mutation without waiting and reports whether it was
// accepted. Used for network events, where a drop is logged and tolerated.
func (s *Session) post(task func()) error {
	// The send happens under the lock so Close cannot close the channel
	// between the check and the send.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	select {
	case s.tasks <- task:
		return nil
	default:
		return errQueueFull
	}
}

// postEvent is the fire-and-forget variant for network events.
func (s *Session) postEvent(task func()) {
	if err := s.post(task); err != nil {
		log.Warn().Err(err).Str("component", "session").Msg("dropping event")
	}
}

// run enqueues a mutation and waits for it to complete. Used for local
// operations that need a synchronous result; a task that cannot be
// scheduled, or a session that closes before it runs, is an error rather
// than a silent no-op.
func (s *Session) run(task func()) error {
	doneCh := make(chan struct{})
	if err := s.post(func() {
		defer close(doneCh)
		task()
	}); err != nil {
		return err
	}
	select {
	case <-doneCh:
		return nil
	case <-s.done:
		return errSessionClosed
	}
}

// Open makes (conversationID, ns) the active conversation. The previous
// connection is closed before the new one is dialed, and the message arena
// is swapped, so events attributed to the old conversation can no longer
// reach the new list. Opening the already-active pair is a no-op.
func (s *Session) Open(ctx context.Context, conversationID string, ns transport.Namespace) error {
	if s == nil {
		return errors.New("session is nil")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	if s.convID == conversationID && s.ns == ns && s.hist != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var hydrated []history.Message
	if s.loader != nil {
		msgs, err := s.loader.LoadHistory(ctx, conversationID)
		if err != nil {
			// Degraded but usable: streaming still works on an empty list.
			log.Warn().
				Err(err).
				Str("component", "session").
				Str("conv_id", conversationID).
				Msg("could not load prior history")
		} else {
			hydrated = msgs
		}
	}

	hist := history.New(conversationID)
	if len(hydrated) > 0 {
		hist.Hydrate(hydrated)
	}
	acc := stream.NewAccumulator(hist, s.processor, stream.WithUpdateFunc(s.notify))

	var swapErr error
	if err := s.run(func() {
		s.mu.Lock()
		s.convID = conversationID
		s.ns = ns
		s.hist = hist
		s.acc = acc
		s.mu.Unlock()

		// The handler binds to this conversation's accumulator, so even a
		// frame that slipped past the transport guard cannot touch a later
		// conversation's list.
		swapErr = s.manager.Open(conversationID, ns, func(ev events.Event) {
			s.postEvent(func() { dispatch(acc, ev) })
		})
	}); err != nil {
		return err
	}
	if swapErr != nil {
		return errors.Wrap(swapErr, "open transport")
	}
	s.notify()
	return nil
}

func dispatch(acc *stream.Accumulator, ev events.Event) {
	switch e := ev.(type) {
	case *events.EventDelta:
		acc.OnDelta(e.Text)
	case *events.EventStreamEnd:
		acc.OnStreamEnd(e.Text)
	default:
		log.Debug().
			Str("component", "session").
			Str("event_type", string(ev.Type())).
			Msg("ignoring non-stream event")
	}
}

// SendQuestion submits a question to the conversation API and appends the
// local draft message that will receive the streamed reply.
func (s *Session) SendQuestion(ctx context.Context, question string, attachment *history.Attachment) (string, error) {
	if s == nil {
		return "", errors.New("session is nil")
	}
	if s.submit == nil {
		return "", errors.New("session: no submit API configured")
	}

	s.mu.Lock()
	convID := s.convID
	hist := s.hist
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", errSessionClosed
	}
	if hist == nil {
		return "", errors.New("session: no active conversation")
	}
	if hist.HasDraft() {
		return "", history.ErrDraftInFlight
	}

	if err := s.submit.SubmitQuestion(ctx, convID, question, attachment); err != nil {
		return "", errors.Wrap(err, "submit question")
	}

	var (
		msgID     string
		appendErr error
	)
	if err := s.run(func() {
		msgID, appendErr = hist.AppendQuestion(question, attachment)
	}); err != nil {
		return "", errors.Wrap(err, "append question")
	}
	if appendErr != nil {
		return "", appendErr
	}
	s.notify()
	return msgID, nil
}

// Messages returns the active conversation's ordered message list.
func (s *Session) Messages() []*history.Message {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	hist := s.hist
	s.mu.Unlock()
	return hist.Messages()
}

// MessageByID returns the message with the given id, if present.
func (s *Session) MessageByID(id string) (*history.Message, bool) {
	for _, m := range s.Messages() {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// IsStreaming reports whether a reply is currently in flight.
func (s *Session) IsStreaming() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	acc := s.acc
	s.mu.Unlock()
	return acc.IsStreaming()
}

// ConversationID returns the active conversation id.
func (s *Session) ConversationID() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// ConnectionState exposes the transport state for connectivity affordances.
func (s *Session) ConnectionState() transport.State {
	if s == nil {
		return transport.StateDisconnected
	}
	return s.manager.State()
}

// Close tears down the transport and stops the event loop. In-flight batch
// dispatches are waited for.
func (s *Session) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.manager.Close()
	close(s.tasks)
	<-s.done
	s.processor.Wait()
}

func (s *Session) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
