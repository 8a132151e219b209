package generation

import (
	"strings"
	"testing"

	chatModels "forkchat/internal/domain/models/chat"

	"github.com/stretchr/testify/require"
)

func TestBufferFlushRule(t *testing.T) {
	tests := []struct {
		name    string
		modulus int
		deltas  []string
		want    []bool
	}{
		{
			name:    "delimiter in delta",
			modulus: 50,
			deltas:  []string{"The ", "French ", "Revolution."},
			want:    []bool{false, false, true},
		},
		{
			name:    "newline and comma",
			modulus: 50,
			deltas:  []string{"a\n", "b", "c,"},
			want:    []bool{true, false, true},
		},
		{
			name:    "modulus crossing without delimiter",
			modulus: 5,
			deltas:  []string{"abc", "de", "f", "ghij"},
			want:    []bool{false, true, false, true},
		},
		{
			name:    "empty delta never flushes",
			modulus: 1,
			deltas:  []string{""},
			want:    []bool{false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b buffer
			for i, d := range tt.deltas {
				got := b.add(d, tt.modulus)
				require.Equal(t, tt.want[i], got, "delta %d %q", i, d)
				if got {
					b.flushed = b.Len()
				}
			}
		})
	}
}

func TestAccumulatorDelimiterOnlyCountsUnflushedTail(t *testing.T) {
	a := newAccumulator(100)
	require.True(t, a.addText("Hi."))
	a.markFlushed()
	require.False(t, a.addText(" there"))
}

func TestAccumulatorPartsOrder(t *testing.T) {
	a := newAccumulator(50)
	a.addText("answer")
	a.addReasoning("think")
	a.addToolCall(&chatModels.ToolCall{ID: "c1", Name: "search", Status: "complete"})

	parts := a.parts()
	require.Len(t, parts, 3)
	require.Equal(t, chatModels.PartReasoning, parts[0].Type)
	require.Equal(t, chatModels.PartText, parts[1].Type)
	require.Equal(t, chatModels.PartToolCall, parts[2].Type)
}

// Accumulation is a pure function of the ordered deltas.
func TestAccumulatorIsDeterministic(t *testing.T) {
	deltas := strings.Fields("The French Revolution was a period of political and societal change in France.")
	run := func() []chatModels.Part {
		a := newAccumulator(7)
		for _, d := range deltas {
			if a.addText(d + " ") {
				a.markFlushed()
			}
		}
		return a.parts()
	}
	require.Equal(t, run(), run())
}
