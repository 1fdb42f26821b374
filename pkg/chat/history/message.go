package history

import "time"

// Attachment describes an optional file attached to a question.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Message is one question/answer exchange in a conversation.
//
// A message is draft while its answer is still receiving streamed deltas and
// final once the stream-end event froze it. Only the last message of a
// conversation can ever be draft.
type Message struct {
	ID         string      `json:"id"`
	Question   string      `json:"question"`
	Answer     string      `json:"answer"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Attachment *Attachment `json:"attachment,omitempty"`

	draft bool
}

// Draft reports whether the message is still receiving streamed deltas.
func (m *Message) Draft() bool {
	if m == nil {
		return false
	}
	return m.draft
}
