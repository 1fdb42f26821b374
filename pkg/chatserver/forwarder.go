package chatserver

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/events"
)

// startForwarder subscribes to the conversation's topic and broadcasts each
// event frame to the room. Events stamped with a run id other than the
// conversation's current run are leftovers from an abandoned run and are
// acked without delivery.
func (m *ConvManager) startForwarder(conv *Conversation) error {
	readCtx, readCancel := context.WithCancel(m.baseCtx)
	topic := TopicForConversation(conv.Namespace, conv.ID)

	ch, err := m.sub.Subscribe(readCtx, topic)
	if err != nil {
		readCancel()
		return errors.Wrapf(err, "subscribe %s", topic)
	}
	conv.stopRead = readCancel

	log.Debug().
		Str("component", "chatserver").
		Str("conv_id", conv.ID).
		Str("topic", topic).
		Msg("forwarder started")

	go func() {
		for msg := range ch {
			if runID := msg.Metadata.Get(runIDMetadataKey); runID != "" && runID != conv.RunID() {
				msg.Ack()
				continue
			}
			if _, err := events.NewEventFromJSON(msg.Payload); err != nil {
				log.Warn().
					Err(err).
					Str("component", "chatserver").
					Str("conv_id", conv.ID).
					Msg("dropping undecodable event payload")
				msg.Ack()
				continue
			}
			conv.Pool.Broadcast(msg.Payload)
			msg.Ack()
		}
		log.Debug().
			Str("component", "chatserver").
			Str("conv_id", conv.ID).
			Msg("forwarder stopped")
	}()
	return nil
}
