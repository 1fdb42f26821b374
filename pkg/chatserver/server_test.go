package chatserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/events"
	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/transport"
)

func newTestServer(t *testing.T, streamer Streamer) (*Server, *httptest.Server) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	srv, err := NewServer(context.Background(), Config{
		Publisher:   pubSub,
		Subscriber:  pubSub,
		Streamer:    streamer,
		IdleTimeout: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Manager().CloseAll)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return srv, httpSrv
}

// joinRoom dials the websocket endpoint and performs the join handshake.
func joinRoom(t *testing.T, httpSrv *httptest.Server, ns, convID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/" + ns + "/" + convID
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	join, err := events.Encode(events.NewEventJoin(convID))
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, join))
	return ws
}

func submitQuestion(t *testing.T, httpSrv *httptest.Server, convID, question string) submitResponse {
	t.Helper()
	body, err := json.Marshal(map[string]string{"question": question})
	require.NoError(t, err)
	resp, err := http.Post(
		httpSrv.URL+"/api/conversations/"+convID+"/messages",
		"application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out submitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.RunID)
	return out
}

// readEvents reads frames until a stream-end arrives, returning the deltas
// and the final text.
func readEvents(t *testing.T, ws *websocket.Conn) ([]string, string) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var deltas []string
	for {
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		ev, err := events.NewEventFromJSON(data)
		require.NoError(t, err)
		switch e := ev.(type) {
		case *events.EventDelta:
			deltas = append(deltas, e.Text)
		case *events.EventStreamEnd:
			return deltas, e.Text
		default:
			t.Fatalf("unexpected event type %q", ev.Type())
		}
	}
}

func TestSubmitStreamsReplyToRoom(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})
	ws := joinRoom(t, httpSrv, "expert", "conv-1")

	submitQuestion(t, httpSrv, "conv-1", "hello world")

	deltas, final := readEvents(t, ws)
	require.Equal(t, "You said: hello world", final)
	require.Equal(t, final, strings.Join(deltas, ""))
}

func TestEventsStayInsideTheirRoom(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})
	wsA := joinRoom(t, httpSrv, "expert", "conv-a")
	wsB := joinRoom(t, httpSrv, "expert", "conv-b")

	submitQuestion(t, httpSrv, "conv-a", "only for a")
	_, final := readEvents(t, wsA)
	require.Equal(t, "You said: only for a", final)

	// conv-b's room must stay silent.
	require.NoError(t, wsB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := wsB.ReadMessage()
	require.Error(t, err)
}

func TestEveryRoomMemberReceivesBroadcast(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})
	ws1 := joinRoom(t, httpSrv, "expert", "conv-1")
	ws2 := joinRoom(t, httpSrv, "expert", "conv-1")

	submitQuestion(t, httpSrv, "conv-1", "fan out")

	_, final1 := readEvents(t, ws1)
	_, final2 := readEvents(t, ws2)
	require.Equal(t, "You said: fan out", final1)
	require.Equal(t, final1, final2)
}

func TestStaleRunEventsAreNotForwarded(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	manager := NewConvManager(context.Background(), pubSub, time.Minute)
	t.Cleanup(manager.CloseAll)

	conv, err := manager.GetOrCreate(transport.NamespaceExpert, "conv-1")
	require.NoError(t, err)
	_, runID := conv.BeginRun(context.Background())

	srvHTTP := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		ws, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		conv.Pool.Add(ws)
	}))
	t.Cleanup(srvHTTP.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srvHTTP.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.Eventually(t, func() bool { return conv.Pool.Count() == 1 },
		time.Second, 10*time.Millisecond)

	topic := TopicForConversation(transport.NamespaceExpert, "conv-1")
	publish := func(runID, text string) {
		payload, err := events.Encode(events.NewEventDelta("conv-1", text))
		require.NoError(t, err)
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set(runIDMetadataKey, runID)
		require.NoError(t, pubSub.Publish(topic, msg))
	}

	publish("run-from-the-past", "stale")
	publish(runID, "fresh")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	ev, err := events.NewEventFromJSON(data)
	require.NoError(t, err)
	require.Equal(t, "fresh", ev.(*events.EventDelta).Text)
}

func TestNewRunSupersedesOldOne(t *testing.T) {
	conv := &Conversation{ID: "conv-1", Namespace: transport.NamespaceExpert}

	ctx1, run1 := conv.BeginRun(context.Background())
	ctx2, run2 := conv.BeginRun(context.Background())
	require.NotEqual(t, run1, run2)
	require.Error(t, ctx1.Err())
	require.NoError(t, ctx2.Err())
	require.Equal(t, run2, conv.RunID())
}

func TestSocketWithoutJoinFrameIsRefused(t *testing.T) {
	srv, httpSrv := newTestServer(t, &EchoStreamer{})

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/expert/conv-1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	// Not a join frame.
	bad, err := events.Encode(events.NewEventDelta("conv-1", "nope"))
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, bad))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)

	conv, err := srv.Manager().GetOrCreate(transport.NamespaceExpert, "conv-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conv.Pool.Count() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestSilentSocketIsDroppedAfterJoinTimeout(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	srv, err := NewServer(context.Background(), Config{
		Publisher:   pubSub,
		Subscriber:  pubSub,
		Streamer:    &EchoStreamer{},
		IdleTimeout: time.Minute,
		JoinTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Manager().CloseAll)

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/expert/conv-1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	// Never send the join frame. The server must drop the socket instead of
	// parking the handler on it forever.
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)

	conv, err := srv.Manager().GetOrCreate(transport.NamespaceExpert, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 0, conv.Pool.Count())
}

func TestSubmitValidation(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})

	resp, err := http.Post(httpSrv.URL+"/api/conversations/conv-1/messages",
		"application/json", strings.NewReader(`{"question":""}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(httpSrv.URL+"/api/conversations/conv-1/messages",
		"application/json", strings.NewReader(`{"question":"q","namespace":"billing"}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(httpSrv.URL+"/api/conversations/conv-1/messages",
		"application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthzReportsConversationCount(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})
	joinRoom(t, httpSrv, "expert", "conv-1")

	resp, err := http.Get(httpSrv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(1), body["conversations"])
}

func TestIdleRoomIsEvicted(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	manager := NewConvManager(context.Background(), pubSub, 50*time.Millisecond)
	t.Cleanup(manager.CloseAll)

	conv, err := manager.GetOrCreate(transport.NamespaceExpert, "conv-1")
	require.NoError(t, err)
	require.Equal(t, 1, manager.Count())

	// Membership comes and goes; eviction fires only once the room has
	// stayed empty past the timeout.
	srvHTTP := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		ws, err := up.Upgrade(w, r, nil)
		require.NoError(t, err)
		conv.Pool.Add(ws)
	}))
	t.Cleanup(srvHTTP.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srvHTTP.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return conv.Pool.Count() == 1 },
		time.Second, 10*time.Millisecond)

	conv.Pool.Remove(ws)
	require.Eventually(t, func() bool { return manager.Count() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestCompletedExchangesAppearInHistory(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})
	ws := joinRoom(t, httpSrv, "expert", "conv-1")

	out := submitQuestion(t, httpSrv, "conv-1", "remember me")
	_, final := readEvents(t, ws)
	require.Equal(t, "You said: remember me", final)

	var recs []map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(httpSrv.URL + "/api/conversations/conv-1/history")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		recs = nil
		if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
			return false
		}
		return len(recs) == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, "remember me", recs[0]["question"])
	require.Equal(t, final, recs[0]["answer"])
	require.Equal(t, out.RunID, recs[0]["run_id"])
}

func TestHistoryOfFreshConversationIsEmptyList(t *testing.T) {
	_, httpSrv := newTestServer(t, &EchoStreamer{})

	resp, err := http.Get(httpSrv.URL + "/api/conversations/never-seen/history")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recs))
	require.Empty(t, recs)
}
