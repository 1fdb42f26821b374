package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

func TestHTTPSubmitterPostsQuestion(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody submitPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sub := NewHTTPSubmitter(srv.URL, transport.NamespaceDocument, "sesame")
	err := sub.SubmitQuestion(context.Background(), "conv-1", "what is this?",
		&history.Attachment{Type: "image", URL: "https://cdn.example.com/x.png"})
	require.NoError(t, err)

	require.Equal(t, "/api/conversations/conv-1/messages", gotPath)
	require.Equal(t, "Bearer sesame", gotAuth)
	require.Equal(t, "what is this?", gotBody.Question)
	require.Equal(t, "document", gotBody.Namespace)
	require.NotNil(t, gotBody.Attachment)
	require.Equal(t, "image", gotBody.Attachment.Type)
}

func TestHTTPSubmitterSurfacesRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "question is empty", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	sub := NewHTTPSubmitter(srv.URL, transport.NamespaceExpert, "")
	err := sub.SubmitQuestion(context.Background(), "conv-1", "", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "question is empty")
}
