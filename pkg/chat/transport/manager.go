package transport

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager enforces the one-live-connection rule for a UI surface. Opening a
// different (conversation id, namespace) pair closes the existing connection
// first, so two subscriptions can never double-deliver events; opening the
// identical pair while connected is a no-op.
type Manager struct {
	baseURL string
	opts    []Option

	mu   sync.Mutex
	conn *Conn
}

// NewManager builds a manager dialing against baseURL. opts apply to every
// connection it opens.
func NewManager(baseURL string, opts ...Option) *Manager {
	return &Manager{baseURL: baseURL, opts: opts}
}

// Open ensures a live connection for (conversationID, ns) feeding handler.
// Re-invoking with the pair already open keeps the existing connection.
func (m *Manager) Open(conversationID string, ns Namespace, handler Handler) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		if m.conn.ConversationID() == conversationID && m.conn.Namespace() == ns {
			return nil
		}
		log.Debug().
			Str("component", "transport").
			Str("old_conv_id", m.conn.ConversationID()).
			Str("new_conv_id", conversationID).
			Msg("closing previous connection before opening new one")
		m.conn.Close()
		m.conn = nil
	}

	conn, err := Open(m.baseURL, conversationID, ns, handler, m.opts...)
	if err != nil {
		return err
	}
	m.conn = conn
	return nil
}

// Close tears down the current connection, if any. It blocks until event
// delivery has stopped.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
}

// State returns the current connection's state, or StateDisconnected when
// nothing is open.
func (m *Manager) State() State {
	if m == nil {
		return StateDisconnected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.State()
}

// Current returns the (conversation id, namespace) pair of the open
// connection, or empty values when nothing is open.
func (m *Manager) Current() (string, Namespace) {
	if m == nil {
		return "", ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return "", ""
	}
	return m.conn.ConversationID(), m.conn.Namespace()
}
