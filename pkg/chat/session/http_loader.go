package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

// HTTPLoader hydrates prior exchanges from the conversation history API.
type HTTPLoader struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPLoader(baseURL, token string) *HTTPLoader {
	return &HTTPLoader{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type exchangeRecord struct {
	RunID       string `json:"run_id"`
	Question    string `json:"question"`
	Answer      string `json:"answer"`
	CreatedAtMs int64  `json:"created_at_ms"`
}

func (h *HTTPLoader) LoadHistory(ctx context.Context, conversationID string) ([]history.Message, error) {
	url := h.baseURL + "/api/conversations/" + conversationID + "/history"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch history")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("history request failed: %s", resp.Status)
	}

	var recs []exchangeRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}

	msgs := make([]history.Message, 0, len(recs))
	for _, rec := range recs {
		at := time.UnixMilli(rec.CreatedAtMs)
		msgs = append(msgs, history.Message{
			ID:        rec.RunID,
			Question:  rec.Question,
			Answer:    rec.Answer,
			CreatedAt: at,
			UpdatedAt: at,
		})
	}
	return msgs, nil
}
