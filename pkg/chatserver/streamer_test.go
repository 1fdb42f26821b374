package chatserver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func collectStream(t *testing.T, s Streamer, question string) (string, []string) {
	t.Helper()
	var deltas []string
	final, err := s.Stream(context.Background(), StreamRequest{
		ConversationID: "conv-1",
		Namespace:      "expert",
		Question:       question,
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)
	return final, deltas
}

func TestEchoStreamerDeltasConcatenateToFinal(t *testing.T) {
	final, deltas := collectStream(t, &EchoStreamer{}, "hello there")
	require.Equal(t, "You said: hello there", final)
	require.Equal(t, final, strings.Join(deltas, ""))
	require.Greater(t, len(deltas), 1)
}

func TestScriptedStreamerMatchesByKeyword(t *testing.T) {
	s, err := ParseScriptedStreamer([]byte(`
chunk_size: 4
default: "No idea."
replies:
  - match: canvas
    reply: "The canvas is a drawing surface."
  - match: layers
    reply: "Layers stack on top of each other."
`))
	require.NoError(t, err)

	final, deltas := collectStream(t, s, "Tell me about the CANVAS please")
	require.Equal(t, "The canvas is a drawing surface.", final)
	require.Equal(t, final, strings.Join(deltas, ""))
	for _, d := range deltas[:len(deltas)-1] {
		require.Len(t, []rune(d), 4)
	}

	final, _ = collectStream(t, s, "what is the weather")
	require.Equal(t, "No idea.", final)
}

func TestScriptedStreamerRejectsBadYAML(t *testing.T) {
	_, err := ParseScriptedStreamer([]byte("replies: [unclosed"))
	require.Error(t, err)
}

func TestStreamChunksStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var emitted int
	err := streamChunks(ctx, []string{"a", "b", "c"}, 0, func(string) { emitted++ })
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, emitted)
}

func TestSplitFixedCoversWholeInput(t *testing.T) {
	require.Equal(t, []string{"abcd", "efg"}, splitFixed("abcdefg", 4))
	require.Equal(t, []string{"héllo"}, splitFixed("héllo", 10))
	require.Nil(t, splitFixed("", 4))
}
