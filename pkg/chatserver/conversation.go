package chatserver

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

// runIDMetadataKey carries the run id on published messages so the forwarder
// can drop output from abandoned runs.
const runIDMetadataKey = "run_id"

// TopicForConversation names the broker topic a conversation's events flow
// through.
func TopicForConversation(ns transport.Namespace, convID string) string {
	return "chat." + string(ns) + "." + convID
}

// Conversation is the server-side room for one conversation id: its member
// pool, the current run, and the reader forwarding broker events to members.
type Conversation struct {
	ID        string
	Namespace transport.Namespace
	Pool      *ConnectionPool

	mu        sync.Mutex
	runID     string
	runCancel context.CancelFunc
	stopRead  context.CancelFunc
}

// RunID returns the id of the current run, empty when none has started.
func (c *Conversation) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// BeginRun starts a new run: a fresh run id is issued and the previous run,
// if any, is cancelled. Events still in flight from the old run carry the
// old id and will be dropped by the forwarder.
func (c *Conversation) BeginRun(parent context.Context) (context.Context, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.runCancel != nil {
		c.runCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.runID = uuid.NewString()
	c.runCancel = cancel
	return ctx, c.runID
}

func (c *Conversation) stop() {
	c.mu.Lock()
	if c.runCancel != nil {
		c.runCancel()
		c.runCancel = nil
	}
	if c.stopRead != nil {
		c.stopRead()
		c.stopRead = nil
	}
	c.mu.Unlock()
	c.Pool.CloseAll()
}

// ConvManager stores all live conversations and owns their reader
// goroutines. Conversations whose room stays empty past the idle timeout are
// evicted.
type ConvManager struct {
	baseCtx     context.Context
	sub         message.Subscriber
	idleTimeout time.Duration

	mu    sync.Mutex
	convs map[string]*Conversation
}

func NewConvManager(ctx context.Context, sub message.Subscriber, idleTimeout time.Duration) *ConvManager {
	return &ConvManager{
		baseCtx:     ctx,
		sub:         sub,
		idleTimeout: idleTimeout,
		convs:       map[string]*Conversation{},
	}
}

// GetOrCreate returns the conversation for (ns, convID), creating it and
// starting its forwarder on first use.
func (m *ConvManager) GetOrCreate(ns transport.Namespace, convID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(ns) + "/" + convID
	if c, ok := m.convs[key]; ok {
		return c, nil
	}

	conv := &Conversation{ID: convID, Namespace: ns}
	conv.Pool = NewConnectionPool(convID, m.idleTimeout, func() {
		m.evict(ns, convID)
	})
	if err := m.startForwarder(conv); err != nil {
		return nil, err
	}
	m.convs[key] = conv
	log.Debug().
		Str("component", "chatserver").
		Str("conv_id", convID).
		Str("namespace", string(ns)).
		Msg("conversation created")
	return conv, nil
}

func (m *ConvManager) evict(ns transport.Namespace, convID string) {
	m.mu.Lock()
	key := string(ns) + "/" + convID
	conv, ok := m.convs[key]
	if ok && conv.Pool.IsEmpty() {
		delete(m.convs, key)
	} else {
		conv = nil
	}
	m.mu.Unlock()

	if conv != nil {
		conv.stop()
		log.Debug().
			Str("component", "chatserver").
			Str("conv_id", convID).
			Msg("idle conversation evicted")
	}
}

// Count returns the number of live conversations.
func (m *ConvManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// CloseAll tears down every conversation. Used at shutdown.
func (m *ConvManager) CloseAll() {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.convs))
	for key, c := range m.convs {
		convs = append(convs, c)
		delete(m.convs, key)
	}
	m.mu.Unlock()
	for _, c := range convs {
		c.stop()
	}
}
