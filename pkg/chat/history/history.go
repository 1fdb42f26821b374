// Package history owns the ordered message list of the active conversation
// and is the only component allowed to mutate it. Streamed deltas and the
// final answer are applied to the last message in place; earlier messages
// keep their identity so consumers comparing pointers see them as unchanged.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrDraftInFlight is returned when a second draft would be created while
// one is still streaming. This is a programmer error on the calling side,
// surfaced instead of silently corrupting two messages.
var ErrDraftInFlight = errors.New("a draft message is already in flight")

// ErrNoDraft is returned by mutations that require a draft when none exists.
var ErrNoDraft = errors.New("no draft message present")

// History reconciles streamed updates into the conversation's message list.
type History struct {
	mu       sync.Mutex
	convID   string
	messages []*Message
	now      func() time.Time
}

// New creates an empty history for the given conversation.
func New(conversationID string) *History {
	return &History{convID: conversationID, now: time.Now}
}

// ConversationID returns the conversation this history belongs to.
func (h *History) ConversationID() string {
	if h == nil {
		return ""
	}
	return h.convID
}

// Hydrate replaces the list wholesale with persisted messages, all final.
// Used when a conversation is opened and its prior exchanges are loaded.
func (h *History) Hydrate(msgs []Message) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		m.draft = false
		h.messages = append(h.messages, &m)
	}
}

// AppendQuestion creates a new draft message with an empty answer. It is the
// only way a draft comes into existence and always runs in response to a
// local user submission, never a network event.
func (h *History) AppendQuestion(question string, attachment *Attachment) (string, error) {
	if h == nil {
		return "", errors.New("history is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if last := h.lastLocked(); last != nil && last.draft {
		return "", ErrDraftInFlight
	}

	now := h.now()
	msg := &Message{
		ID:         uuid.NewString(),
		Question:   question,
		Answer:     "",
		CreatedAt:  now,
		UpdatedAt:  now,
		Attachment: attachment,
		draft:      true,
	}
	h.messages = append(h.messages, msg)
	return msg.ID, nil
}

// ApplyDeltaToLast appends accumulated text to the draft answer. Deltas
// arriving with no draft present are stale leftovers of an abandoned stream
// and are dropped without error.
func (h *History) ApplyDeltaToLast(text string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.lastLocked()
	if last == nil || !last.draft {
		return false
	}
	last.Answer += text
	last.UpdatedAt = h.now()
	return true
}

// FinalizeLast freezes the draft with the authoritative final text. The
// answer is always exactly the value passed in, never a concatenation of
// prior deltas; the server applies cleanup only at stream end and the two
// must not drift apart. Finalizing when no draft exists is a no-op.
func (h *History) FinalizeLast(text string) (*Message, error) {
	if h == nil {
		return nil, errors.New("history is nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	last := h.lastLocked()
	if last == nil || !last.draft {
		return nil, ErrNoDraft
	}
	last.Answer = text
	last.UpdatedAt = h.now()
	last.draft = false
	return last, nil
}

// Messages returns the ordered list. The slice is a snapshot; the elements
// are the live messages, so a draft answer read mid-stream reflects the text
// accumulated so far.
func (h *History) Messages() []*Message {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len returns the number of messages.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}

// HasDraft reports whether the last message is still streaming.
func (h *History) HasDraft() bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	last := h.lastLocked()
	return last != nil && last.draft
}

func (h *History) lastLocked() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return h.messages[len(h.messages)-1]
}
