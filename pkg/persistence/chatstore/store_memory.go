package chatstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// MemoryMessageStore keeps exchanges in memory. Used when no database is
// configured; history survives reconnects but not restarts.
type MemoryMessageStore struct {
	mu       sync.Mutex
	byConv   map[string][]ExchangeRecord
	maxPerCo int
}

var _ MessageStore = &MemoryMessageStore{}

func NewMemoryMessageStore(maxPerConversation int) *MemoryMessageStore {
	if maxPerConversation <= 0 {
		maxPerConversation = 200
	}
	return &MemoryMessageStore{
		byConv:   map[string][]ExchangeRecord{},
		maxPerCo: maxPerConversation,
	}
}

func (s *MemoryMessageStore) Append(_ context.Context, rec ExchangeRecord) error {
	if rec.ConvID == "" {
		return errors.New("memory message store: convID is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.byConv[rec.ConvID], rec)
	if len(recs) > s.maxPerCo {
		recs = recs[len(recs)-s.maxPerCo:]
	}
	s.byConv[rec.ConvID] = recs
	return nil
}

func (s *MemoryMessageStore) History(_ context.Context, convID string, limit int) ([]ExchangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.byConv[convID]
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	out := make([]ExchangeRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (s *MemoryMessageStore) Close() error { return nil }
