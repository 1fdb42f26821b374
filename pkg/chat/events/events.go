// Package events defines the wire protocol shared by the chat client and
// server: a join request going up, and delta / stream-end frames coming down.
// Frames are JSON text messages; legacy event-type aliases are normalized on
// decode so only the two semantic downstream events ever reach consumers.
package events

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType identifies a wire frame.
type EventType string

const (
	// EventTypeJoin is sent client -> server right after connecting and
	// scopes event delivery to a single conversation room.
	EventTypeJoin EventType = "join"
	// EventTypeDelta carries one incremental text fragment of the in-flight
	// assistant reply.
	EventTypeDelta EventType = "delta"
	// EventTypeStreamEnd terminates one exchange and carries the
	// authoritative final answer text.
	EventTypeStreamEnd EventType = "stream-end"
)

// typeAliases maps legacy wire names onto the current event types. Older
// server builds emitted "response" / "response-end"; both still decode.
var typeAliases = map[EventType]EventType{
	"response":     EventTypeDelta,
	"partial":      EventTypeDelta,
	"response-end": EventTypeStreamEnd,
	"final":        EventTypeStreamEnd,
}

// Event is a decoded wire frame.
type Event interface {
	Type() EventType
	ConversationID() string
}

// EventImpl carries the fields every frame shares.
type EventImpl struct {
	Type_   EventType `json:"type"`
	ConvID_ string    `json:"conversationId,omitempty"`
}

func (e *EventImpl) Type() EventType        { return e.Type_ }
func (e *EventImpl) ConversationID() string { return e.ConvID_ }

// EventJoin subscribes the connection to a conversation room.
type EventJoin struct {
	EventImpl
}

// NewEventJoin builds the join frame for a conversation.
func NewEventJoin(conversationID string) *EventJoin {
	return &EventJoin{EventImpl: EventImpl{Type_: EventTypeJoin, ConvID_: conversationID}}
}

var _ Event = &EventJoin{}

// EventDelta is one partial-text fragment of the current reply. Deltas carry
// no message id on the wire; they belong to whatever message is currently
// last and still draft on the receiving side.
type EventDelta struct {
	EventImpl
	Text string `json:"text"`
}

// NewEventDelta builds a delta frame.
func NewEventDelta(conversationID, text string) *EventDelta {
	return &EventDelta{
		EventImpl: EventImpl{Type_: EventTypeDelta, ConvID_: conversationID},
		Text:      text,
	}
}

var _ Event = &EventDelta{}

// EventStreamEnd closes one exchange. Text is the full accumulated answer
// after server-side cleanup and overrides any delta concatenation.
type EventStreamEnd struct {
	EventImpl
	Text string `json:"text"`
}

// NewEventStreamEnd builds a stream-end frame.
func NewEventStreamEnd(conversationID, text string) *EventStreamEnd {
	return &EventStreamEnd{
		EventImpl: EventImpl{Type_: EventTypeStreamEnd, ConvID_: conversationID},
		Text:      text,
	}
}

var _ Event = &EventStreamEnd{}

// Encode serializes an event to its JSON wire form.
func Encode(e Event) ([]byte, error) {
	if e == nil {
		return nil, errors.New("cannot encode nil event")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "encode event")
	}
	return b, nil
}

// NewEventFromJSON decodes a wire frame into a typed event, resolving legacy
// aliases first. Unknown types return an error so callers can drop the frame.
func NewEventFromJSON(b []byte) (Event, error) {
	var head EventImpl
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}

	typ := head.Type_
	if canonical, ok := typeAliases[typ]; ok {
		typ = canonical
	}

	switch typ {
	case EventTypeJoin:
		ev := &EventJoin{}
		if err := json.Unmarshal(b, ev); err != nil {
			return nil, errors.Wrap(err, "decode join event")
		}
		ev.Type_ = EventTypeJoin
		return ev, nil
	case EventTypeDelta:
		ev := &EventDelta{}
		if err := json.Unmarshal(b, ev); err != nil {
			return nil, errors.Wrap(err, "decode delta event")
		}
		ev.Type_ = EventTypeDelta
		return ev, nil
	case EventTypeStreamEnd:
		ev := &EventStreamEnd{}
		if err := json.Unmarshal(b, ev); err != nil {
			return nil, errors.Wrap(err, "decode stream-end event")
		}
		ev.Type_ = EventTypeStreamEnd
		return ev, nil
	default:
		return nil, errors.Errorf("unknown event type %q", head.Type_)
	}
}
