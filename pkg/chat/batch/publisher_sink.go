package batch

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

// CompletedMessageRecord is the analytics payload published per finalized
// message.
type CompletedMessageRecord struct {
	MessageID      string              `json:"messageId"`
	ConversationID string              `json:"conversationId,omitempty"`
	Question       string              `json:"question"`
	Answer         string              `json:"answer"`
	Attachment     *history.Attachment `json:"attachment,omitempty"`
	CreatedAtMs    int64               `json:"createdAtMs"`
	UpdatedAtMs    int64               `json:"updatedAtMs"`
}

// PublisherSink forwards finalized messages onto a watermill topic so
// downstream consumers (analytics, billing rollups) can subscribe without
// touching the chat path.
type PublisherSink struct {
	publisher message.Publisher
	topic     string
	convID    string
}

var _ Sink = &PublisherSink{}

// NewPublisherSink builds a sink publishing to the given topic.
func NewPublisherSink(publisher message.Publisher, topic string, conversationID string) *PublisherSink {
	return &PublisherSink{publisher: publisher, topic: topic, convID: conversationID}
}

// Process publishes one finalized message record.
func (s *PublisherSink) Process(_ context.Context, msg *history.Message) error {
	if s == nil || s.publisher == nil {
		return errors.New("publisher sink: publisher is nil")
	}
	if msg == nil {
		return errors.New("publisher sink: message is nil")
	}

	record := CompletedMessageRecord{
		MessageID:      msg.ID,
		ConversationID: s.convID,
		Question:       msg.Question,
		Answer:         msg.Answer,
		Attachment:     msg.Attachment,
		CreatedAtMs:    msg.CreatedAt.UnixMilli(),
		UpdatedAtMs:    msg.UpdatedAt.UnixMilli(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "publisher sink: marshal record")
	}

	wm := message.NewMessage(watermill.NewUUID(), payload)
	return errors.Wrap(s.publisher.Publish(s.topic, wm), "publisher sink: publish")
}
