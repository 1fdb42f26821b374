package session

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

// HTTPSubmitter submits questions to the conversation API over HTTP.
type HTTPSubmitter struct {
	baseURL   string
	namespace transport.Namespace
	token     string
	client    *http.Client
}

// NewHTTPSubmitter builds a submitter against baseURL (http/https root).
func NewHTTPSubmitter(baseURL string, ns transport.Namespace, token string) *HTTPSubmitter {
	return &HTTPSubmitter{
		baseURL:   strings.TrimRight(baseURL, "/"),
		namespace: ns,
		token:     token,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type submitPayload struct {
	Question   string              `json:"question"`
	Namespace  string              `json:"namespace,omitempty"`
	Attachment *history.Attachment `json:"attachment,omitempty"`
}

func (h *HTTPSubmitter) SubmitQuestion(ctx context.Context, conversationID, question string, attachment *history.Attachment) error {
	body, err := json.Marshal(submitPayload{
		Question:   question,
		Namespace:  string(h.namespace),
		Attachment: attachment,
	})
	if err != nil {
		return errors.Wrap(err, "encode question")
	}

	url := h.baseURL + "/api/conversations/" + conversationID + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "submit question")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("submit rejected: %s: %s",
			resp.Status, strings.TrimSpace(string(msg)))
	}
	return nil
}
