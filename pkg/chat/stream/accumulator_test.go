package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MaxKeable/sloane-test-sub000/pkg/chat/history"
)

type recordingProcessor struct {
	processed []*history.Message
}

func (p *recordingProcessor) Process(msg *history.Message) {
	p.processed = append(p.processed, msg)
}

type panickyProcessor struct{}

func (panickyProcessor) Process(*history.Message) {
	panic("sink exploded")
}

func TestDeltasAccumulateAndFinalWins(t *testing.T) {
	h := history.New("conv-1")
	proc := &recordingProcessor{}
	acc := NewAccumulator(h, proc)

	_, err := h.AppendQuestion("What is a lean canvas?", nil)
	require.NoError(t, err)

	expected := []string{"A lean", "A lean canvas is", "A lean canvas is a one-page plan."}
	for i, delta := range []string{"A lean", " canvas is", " a one-page plan."} {
		acc.OnDelta(delta)
		require.True(t, acc.IsStreaming())
		msgs := h.Messages()
		require.Equal(t, expected[i], msgs[len(msgs)-1].Answer)
	}

	acc.OnStreamEnd("A lean canvas is a one-page business plan.")
	require.False(t, acc.IsStreaming())

	msgs := h.Messages()
	require.Equal(t, "A lean canvas is a one-page business plan.", msgs[len(msgs)-1].Answer)
	require.False(t, msgs[len(msgs)-1].Draft())
}

func TestStreamEndIsIdempotent(t *testing.T) {
	h := history.New("conv-1")
	proc := &recordingProcessor{}
	acc := NewAccumulator(h, proc)

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)
	acc.OnDelta("partial")

	acc.OnStreamEnd("final")
	acc.OnStreamEnd("final")
	acc.OnStreamEnd("different")

	require.Len(t, proc.processed, 1)
	require.Equal(t, "final", h.Messages()[0].Answer)
}

func TestDeltaWithNoDraftIsNoOp(t *testing.T) {
	h := history.New("conv-1")
	acc := NewAccumulator(h, &recordingProcessor{})

	acc.OnDelta("stray delta after reconnect")
	require.False(t, acc.IsStreaming())
	require.Equal(t, 0, h.Len())
}

func TestStreamEndWithNoDraftIsNoOp(t *testing.T) {
	h := history.New("conv-1")
	proc := &recordingProcessor{}
	acc := NewAccumulator(h, proc)

	acc.OnStreamEnd("stray final")
	require.Empty(t, proc.processed)
	require.Equal(t, 0, h.Len())
}

func TestFenceWrappedDeltaIsCleanedBeforeStorage(t *testing.T) {
	h := history.New("conv-1")
	acc := NewAccumulator(h, &recordingProcessor{})

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)

	acc.OnDelta("```\nHello\n```")
	require.Equal(t, "Hello", h.Messages()[0].Answer)
}

func TestFinalTextIsCleanedIdentically(t *testing.T) {
	h := history.New("conv-1")
	acc := NewAccumulator(h, &recordingProcessor{})

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)
	acc.OnDelta("Hel")

	acc.OnStreamEnd("```\nHello there\n```")
	require.Equal(t, "Hello there", h.Messages()[0].Answer)
}

func TestEmptyFinalTextStillTerminatesTheStream(t *testing.T) {
	h := history.New("conv-1")
	proc := &recordingProcessor{}
	acc := NewAccumulator(h, proc)

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)
	acc.OnDelta("some text")
	require.True(t, acc.IsStreaming())

	acc.OnStreamEnd("")
	require.False(t, acc.IsStreaming())
	require.False(t, h.Messages()[0].Draft())
	require.Equal(t, "", h.Messages()[0].Answer)
	require.Len(t, proc.processed, 1)
}

func TestSinkPanicDoesNotEscapeOrCorruptState(t *testing.T) {
	h := history.New("conv-1")
	acc := NewAccumulator(h, panickyProcessor{})

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)
	acc.OnDelta("partial")

	require.NotPanics(t, func() { acc.OnStreamEnd("final answer") })

	msg := h.Messages()[0]
	require.False(t, msg.Draft())
	require.Equal(t, "final answer", msg.Answer)
	require.False(t, acc.IsStreaming())
}

func TestUpdateCallbackFiresOnAppliedEventsOnly(t *testing.T) {
	h := history.New("conv-1")
	updates := 0
	acc := NewAccumulator(h, &recordingProcessor{}, WithUpdateFunc(func() { updates++ }))

	acc.OnDelta("dropped")
	require.Equal(t, 0, updates)

	_, err := h.AppendQuestion("q", nil)
	require.NoError(t, err)
	acc.OnDelta("applied")
	acc.OnStreamEnd("final")
	require.Equal(t, 2, updates)
}
