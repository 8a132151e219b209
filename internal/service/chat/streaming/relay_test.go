package streaming

import (
	"testing"

	chatModels "forkchat/internal/domain/models/chat"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func chunk(text string) chatModels.Chunk {
	return chatModels.Chunk{Type: chatModels.ChunkTextDelta, Text: text}
}

func collect(sub *Subscription) []string {
	var out []string
	for c := range sub.C {
		out = append(out, c.Text)
	}
	return out
}

func TestHubFanOut(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := NewHub()
	a, _ := h.Subscribe("m1")
	b, _ := h.Subscribe("m1")
	other, unsubscribeOther := h.Subscribe("m2")
	defer unsubscribeOther()

	h.Publish("m1", chunk("The "))
	h.Publish("m1", chunk("French "))
	h.Close("m1")

	require.Equal(t, []string{"The ", "French "}, collect(a))
	require.Equal(t, []string{"The ", "French "}, collect(b))
	require.False(t, a.Lagged())
	require.Equal(t, 1, h.Connections()) // only m2 remains
	require.Empty(t, other.C)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub()
	h.buffer = 2
	slow, _ := h.Subscribe("m1")

	for _, s := range []string{"a", "b", "c", "d"} {
		h.Publish("m1", chunk(s))
	}

	require.Equal(t, []string{"a", "b"}, collect(slow))
	require.True(t, slow.Lagged())
	require.Zero(t, h.Connections())
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	sub, unsubscribe := h.Subscribe("m1")
	unsubscribe()
	unsubscribe()
	h.Close("m1")
	h.Publish("m1", chunk("late"))

	_, ok := <-sub.C
	require.False(t, ok)
	require.False(t, sub.Lagged())
}
