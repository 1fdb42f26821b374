// Package chatstore persists completed question/answer exchanges so a
// conversation can be rehydrated when a client joins it again.
package chatstore

import "context"

// ExchangeRecord is one completed question/answer exchange.
type ExchangeRecord struct {
	ConvID      string `json:"conv_id"`
	RunID       string `json:"run_id"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

// MessageStore is the durable archive of completed exchanges, ordered by
// creation time within a conversation.
type MessageStore interface {
	Append(ctx context.Context, rec ExchangeRecord) error
	History(ctx context.Context, convID string, limit int) ([]ExchangeRecord, error)
	Close() error
}
