package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/events"
)

// Handler receives every decoded downstream event, in wire order, from the
// connection's read goroutine.
type Handler func(ev events.Event)

// StatusFunc observes connection state transitions. Optional.
type StatusFunc func(state State)

// DegradedFunc fires once when the reconnect budget is exhausted. The
// conversation state is left intact; only connectivity is gone.
type DegradedFunc func()

type connConfig struct {
	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int
	credentials CredentialProvider
	statusFunc  StatusFunc
	degraded    DegradedFunc
	dialer      *websocket.Dialer
}

// Option configures a connection.
type Option func(*connConfig)

// WithBackoff overrides the reconnect backoff base and ceiling.
func WithBackoff(base, limit time.Duration) Option {
	return func(c *connConfig) {
		if base > 0 {
			c.backoffBase = base
		}
		if limit > 0 {
			c.backoffCap = limit
		}
	}
}

// WithMaxAttempts bounds consecutive failed connection attempts before the
// connection gives up and reports degraded connectivity. 0 means unbounded.
func WithMaxAttempts(n int) Option {
	return func(c *connConfig) { c.maxAttempts = n }
}

// WithCredentials attaches a bearer credential on dial.
func WithCredentials(p CredentialProvider) Option {
	return func(c *connConfig) { c.credentials = p }
}

// WithStatusFunc observes state transitions.
func WithStatusFunc(fn StatusFunc) Option {
	return func(c *connConfig) { c.statusFunc = fn }
}

// WithDegradedFunc observes reconnect exhaustion.
func WithDegradedFunc(fn DegradedFunc) Option {
	return func(c *connConfig) { c.degraded = fn }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *connConfig) { c.dialer = d }
}

// Conn is one live subscription to a conversation room. It dials, joins,
// pumps events to its handler, and reconnects on network loss until closed.
type Conn struct {
	baseURL string
	convID  string
	ns      Namespace
	handler Handler
	cfg     connConfig

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
	ws *websocket.Conn
}

// Open dials the room for (conversationID, namespace) and starts the event
// pump. It returns immediately; callers never block waiting for the joined
// state. Events are delivered only once the join frame has been written.
func Open(baseURL, conversationID string, ns Namespace, handler Handler, opts ...Option) (*Conn, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("transport: base URL is empty")
	}
	if strings.TrimSpace(conversationID) == "" {
		return nil, errors.New("transport: conversation id is empty")
	}
	if !ns.Valid() {
		return nil, errors.Errorf("transport: unknown namespace %q", ns)
	}
	if handler == nil {
		return nil, errors.New("transport: handler is nil")
	}

	cfg := connConfig{
		backoffBase: 250 * time.Millisecond,
		backoffCap:  8 * time.Second,
		dialer:      websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		baseURL: strings.TrimRight(baseURL, "/"),
		convID:  conversationID,
		ns:      ns,
		handler: handler,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

// ConversationID returns the conversation this connection is scoped to.
func (c *Conn) ConversationID() string { return c.convID }

// Namespace returns the routing domain this connection is attached to.
func (c *Conn) Namespace() Namespace { return c.ns }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	if c == nil {
		return StateDisconnected
	}
	return State(c.state.Load())
}

// Close tears the connection down. It blocks until the event pump has
// stopped, so no event is delivered after Close returns.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	c.cancel()
	c.mu.Lock()
	if c.ws != nil {
		_ = c.ws.Close()
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Conn) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	if c.cfg.statusFunc != nil {
		c.cfg.statusFunc(s)
	}
}

// run is the connect/join/pump/reconnect loop. Consecutive failures back
// off exponentially; a successful join resets the attempt counter.
func (c *Conn) run() {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	attempts := 0
	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting)
		ws, err := c.dialAndJoin()
		if err != nil {
			attempts++
			log.Warn().
				Err(err).
				Str("component", "transport").
				Str("conv_id", c.convID).
				Str("namespace", string(c.ns)).
				Int("attempt", attempts).
				Msg("connection attempt failed")
			if c.cfg.maxAttempts > 0 && attempts >= c.cfg.maxAttempts {
				log.Error().
					Str("component", "transport").
					Str("conv_id", c.convID).
					Msg("reconnect budget exhausted; connectivity degraded")
				if c.cfg.degraded != nil {
					c.cfg.degraded()
				}
				return
			}
			if !c.sleep(backoffDelay(c.cfg.backoffBase, c.cfg.backoffCap, attempts)) {
				return
			}
			continue
		}

		attempts = 0
		c.setState(StateJoined)
		log.Debug().
			Str("component", "transport").
			Str("conv_id", c.convID).
			Str("namespace", string(c.ns)).
			Msg("joined conversation room")

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()

		if c.ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected)
		log.Debug().
			Str("component", "transport").
			Str("conv_id", c.convID).
			Msg("connection lost; scheduling reconnect")
		if !c.sleep(c.cfg.backoffBase) {
			return
		}
	}
}

// dialAndJoin establishes the socket and writes the join frame. The
// connection only counts as live once the join frame is on the wire.
func (c *Conn) dialAndJoin() (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.credentials != nil {
		token, err := c.cfg.credentials.Token(c.ctx)
		if err != nil {
			return nil, errors.Wrap(err, "fetch credential")
		}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, _, err := c.cfg.dialer.DialContext(c.ctx, c.roomURL(), header)
	if err != nil {
		return nil, errors.Wrap(err, "dial")
	}

	join, err := events.Encode(events.NewEventJoin(c.convID))
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		_ = ws.Close()
		return nil, errors.Wrap(err, "write join frame")
	}

	// Close may have run while the dial and join were in flight, in which
	// case it found no socket to tear down. Re-checking under the same lock
	// that publishes c.ws guarantees one side always closes the socket, so
	// the read loop can never outlive Close.
	c.mu.Lock()
	c.ws = ws
	cancelled := c.ctx.Err() != nil
	c.mu.Unlock()
	if cancelled {
		_ = ws.Close()
		return nil, errors.Wrap(c.ctx.Err(), "connection closed during join")
	}
	return ws, nil
}

// readLoop decodes frames and hands them to the handler until the socket
// dies or the connection is closed. Frames for a different conversation are
// stale deliveries from an old room and are dropped here.
func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Debug().
					Err(err).
					Str("component", "transport").
					Str("conv_id", c.convID).
					Msg("read loop ended")
			}
			return
		}

		ev, err := events.NewEventFromJSON(data)
		if err != nil {
			log.Warn().
				Err(err).
				Str("component", "transport").
				Str("conv_id", c.convID).
				Msg("dropping undecodable frame")
			continue
		}
		if convID := ev.ConversationID(); convID != "" && convID != c.convID {
			log.Debug().
				Str("component", "transport").
				Str("conv_id", c.convID).
				Str("event_conv_id", convID).
				Msg("dropping event for different conversation")
			continue
		}
		c.handler(ev)
	}
}

func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Conn) roomURL() string {
	return fmt.Sprintf("%s/ws/%s/%s", c.baseURL, c.ns, url.PathEscape(c.convID))
}

// backoffDelay doubles per attempt up to limit.
func backoffDelay(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}
