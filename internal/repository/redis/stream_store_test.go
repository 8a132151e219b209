package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"forkchat/internal/config"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*StreamStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStreamStore(client, "test_", slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func textChunk(s string) chatModels.Chunk {
	return chatModels.Chunk{Type: chatModels.ChunkTextDelta, Text: s}
}

func collect(t *testing.T, s *StreamStore, id string, from int) []chatModels.StreamPart {
	t.Helper()
	var parts []chatModels.StreamPart
	require.NoError(t, s.Replay(context.Background(), id, from, func(p chatModels.StreamPart) error {
		parts = append(parts, p)
		return nil
	}))
	return parts
}

func TestStreamStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "m1"))
	meta, err := s.Meta(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 0, meta.TotalParts)
	require.False(t, meta.IsComplete)
	require.Equal(t, config.StreamBeginTTL, mr.TTL(s.metaKey("m1")))

	for i, text := range []string{"The ", "French ", "Revolution..."} {
		require.NoError(t, s.Append(ctx, "m1", i, textChunk(text)))
	}
	require.Equal(t, config.StreamActiveTTL, mr.TTL(s.metaKey("m1")))
	require.Equal(t, config.StreamActiveTTL, mr.TTL(s.partKey("m1", 2)))

	meta, err = s.Meta(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 3, meta.TotalParts)

	require.NoError(t, s.Complete(ctx, "m1"))
	meta, err = s.Meta(ctx, "m1")
	require.NoError(t, err)
	require.True(t, meta.IsComplete)
	require.Equal(t, config.StreamCompleteTTL, mr.TTL(s.metaKey("m1")))
	require.Equal(t, config.StreamCompleteTTL, mr.TTL(s.partKey("m1", 0)))

	// Resume after the first chunk yields exactly the second and third
	parts := collect(t, s, "m1", 1)
	require.Len(t, parts, 2)
	require.Equal(t, "French ", parts[0].Chunk.Text)
	require.Equal(t, "Revolution...", parts[1].Chunk.Text)

	require.NoError(t, s.Purge(ctx, "m1"))
	_, err = s.Meta(ctx, "m1")
	require.ErrorIs(t, err, chatService.ErrStreamNotFound)
	require.False(t, mr.Exists(s.partKey("m1", 0)))

	// Purge is idempotent
	require.NoError(t, s.Purge(ctx, "m1"))
}

func TestStreamStoreContiguity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Begin(ctx, "m1"))
	require.NoError(t, s.Append(ctx, "m1", 0, textChunk("a")))

	tests := []struct {
		name  string
		index int
	}{
		{name: "gap", index: 2},
		{name: "overwrite", index: 0},
		{name: "negative", index: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(ctx, "m1", tt.index, textChunk("x"))
			require.ErrorIs(t, err, chatService.ErrIndexConflict)
		})
	}

	parts := collect(t, s, "m1", 0)
	require.Len(t, parts, 1)
	require.Equal(t, "a", parts[0].Chunk.Text)

	t.Run("unknown stream", func(t *testing.T) {
		err := s.Append(ctx, "nope", 0, textChunk("x"))
		require.ErrorIs(t, err, chatService.ErrStreamNotFound)
	})

	t.Run("after complete", func(t *testing.T) {
		require.NoError(t, s.Complete(ctx, "m1"))
		err := s.Append(ctx, "m1", 1, textChunk("late"))
		require.ErrorIs(t, err, chatService.ErrIndexConflict)
	})
}

func TestStreamStoreConcurrentAppendsStayContiguous(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Begin(ctx, "m1"))

	// Writers race for the next index; losers retry with the new total
	const writers, perWriter = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for n := 0; n < perWriter; {
				meta, err := s.Meta(ctx, "m1")
				if err != nil {
					t.Error(err)
					return
				}
				err = s.Append(ctx, "m1", meta.TotalParts, textChunk(fmt.Sprintf("%d-%d", w, n)))
				if errors.Is(err, chatService.ErrIndexConflict) {
					continue
				}
				if err != nil {
					t.Error(err)
					return
				}
				n++
			}
		}(w)
	}
	wg.Wait()

	parts := collect(t, s, "m1", 0)
	require.Len(t, parts, writers*perWriter)
	for i, p := range parts {
		require.Equal(t, i, p.Index)
	}
}

func TestStreamStoreReplaySuffixes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.Begin(ctx, "m1"))

	// More parts than one MGET batch
	const total = replayBatch + 25
	for i := 0; i < total; i++ {
		require.NoError(t, s.Append(ctx, "m1", i, textChunk(fmt.Sprint(i))))
	}

	for _, k := range []int{0, 1, replayBatch - 1, replayBatch, total - 1, total} {
		parts := collect(t, s, "m1", k)
		require.Len(t, parts, total-k, "suffix from %d", k)
		for j, p := range parts {
			require.Equal(t, k+j, p.Index)
			require.Equal(t, fmt.Sprint(k+j), p.Chunk.Text)
		}
	}

	t.Run("negative from replays everything", func(t *testing.T) {
		require.Len(t, collect(t, s, "m1", -1), total)
	})

	t.Run("unknown stream", func(t *testing.T) {
		err := s.Replay(ctx, "nope", 0, func(chatModels.StreamPart) error { return nil })
		require.ErrorIs(t, err, chatService.ErrStreamNotFound)
	})

	t.Run("callback error stops replay", func(t *testing.T) {
		stop := errors.New("client gone")
		calls := 0
		err := s.Replay(ctx, "m1", 0, func(chatModels.StreamPart) error {
			calls++
			return stop
		})
		require.ErrorIs(t, err, stop)
		require.Equal(t, 1, calls)
	})
}

func TestStreamStoreBeginIdempotent(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "m1"))
	require.NoError(t, s.Append(ctx, "m1", 0, textChunk("a")))
	require.NoError(t, s.Begin(ctx, "m1"))

	meta, err := s.Meta(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 1, meta.TotalParts, "re-begin keeps prior chunks")
	require.Equal(t, config.StreamActiveTTL, mr.TTL(s.metaKey("m1")), "re-begin never shortens an active TTL")

	// A completed entry starts over
	require.NoError(t, s.Complete(ctx, "m1"))
	require.NoError(t, s.Begin(ctx, "m1"))
	meta, err = s.Meta(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, 0, meta.TotalParts)
	require.False(t, meta.IsComplete)
	require.False(t, mr.Exists(s.partKey("m1", 0)))
}

func TestStreamStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "m1"))
	require.NoError(t, s.Append(ctx, "m1", 0, textChunk("a")))
	require.NoError(t, s.Complete(ctx, "m1"))

	mr.FastForward(config.StreamCompleteTTL + 1)

	_, err := s.Meta(ctx, "m1")
	require.ErrorIs(t, err, chatService.ErrStreamNotFound)
}

func TestStreamStorePurgeOrphanedParts(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.Begin(ctx, "m1"))
	require.NoError(t, s.Append(ctx, "m1", 0, textChunk("a")))
	require.NoError(t, s.Append(ctx, "m1", 1, textChunk("b")))
	mr.Del(s.metaKey("m1"))

	require.NoError(t, s.Purge(ctx, "m1"))
	require.False(t, mr.Exists(s.partKey("m1", 0)))
	require.False(t, mr.Exists(s.partKey("m1", 1)))
}
