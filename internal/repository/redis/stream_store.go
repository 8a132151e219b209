package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"forkchat/internal/config"
	chatModels "forkchat/internal/domain/models/chat"
	chatService "forkchat/internal/domain/services/chat"

	goredis "github.com/redis/go-redis/v9"
)

// replayBatch is the number of parts fetched per MGET during replay
const replayBatch = 100

// Keys of one stream share a {hash tag} so the scripts stay cluster safe.
//
//	<prefix>stream:{<id>}:meta    hash: totalParts, isComplete, startTime (unix ms)
//	<prefix>stream:{<id>}:part:N  JSON StreamPart
var (
	// Re-begin of an active entry is a no-op apart from keeping its TTL at least
	// the begin TTL. A completed entry is reset and its old parts dropped.
	beginScript = goredis.NewScript(`
local complete = redis.call('HGET', KEYS[1], 'isComplete')
if complete == '0' then
	if redis.call('TTL', KEYS[1]) < tonumber(ARGV[2]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return 0
end
if complete == '1' then
	local total = tonumber(redis.call('HGET', KEYS[1], 'totalParts') or '0')
	for i = 0, total - 1 do
		redis.call('DEL', ARGV[3] .. i)
	end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'totalParts', 0, 'isComplete', 0, 'startTime', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

	// Append accepts only index == totalParts, so indices stay contiguous and
	// written parts are never overwritten.
	appendScript = goredis.NewScript(`
local total = redis.call('HGET', KEYS[1], 'totalParts')
if not total then
	return -1
end
if redis.call('HGET', KEYS[1], 'isComplete') == '1' then
	return -3
end
if tonumber(total) ~= tonumber(ARGV[1]) then
	return -2
end
redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
redis.call('HSET', KEYS[1], 'totalParts', tonumber(ARGV[1]) + 1)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return tonumber(ARGV[1]) + 1
`)

	completeScript = goredis.NewScript(`
local total = redis.call('HGET', KEYS[1], 'totalParts')
if not total then
	return -1
end
redis.call('HSET', KEYS[1], 'isComplete', 1)
redis.call('EXPIRE', KEYS[1], ARGV[1])
for i = 0, tonumber(total) - 1 do
	redis.call('EXPIRE', ARGV[2] .. i, ARGV[1])
end
return tonumber(total)
`)
)

// StreamStore is the Redis-backed resumable stream log
type StreamStore struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewStreamStore creates a stream store; prefix namespaces keys per environment
func NewStreamStore(client goredis.UniversalClient, prefix string, logger *slog.Logger) *StreamStore {
	return &StreamStore{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

var _ chatService.StreamStore = (*StreamStore)(nil)

func (s *StreamStore) metaKey(id string) string {
	return fmt.Sprintf("%sstream:{%s}:meta", s.prefix, id)
}

func (s *StreamStore) partPrefix(id string) string {
	return fmt.Sprintf("%sstream:{%s}:part:", s.prefix, id)
}

func (s *StreamStore) partKey(id string, index int) string {
	return s.partPrefix(id) + strconv.Itoa(index)
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}

// Begin initializes the stream metadata with the short begin TTL
func (s *StreamStore) Begin(ctx context.Context, id string) error {
	err := beginScript.Run(ctx, s.client,
		[]string{s.metaKey(id)},
		s.now().UnixMilli(),
		seconds(config.StreamBeginTTL),
		s.partPrefix(id),
	).Err()
	if err != nil {
		return fmt.Errorf("begin stream %s: %w", id, err)
	}
	return nil
}

// Append writes chunk at index and extends the TTL to the active window
func (s *StreamStore) Append(ctx context.Context, id string, index int, chunk chatModels.Chunk) error {
	payload, err := json.Marshal(chatModels.StreamPart{
		Index:     index,
		Chunk:     chunk,
		Timestamp: s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode stream part: %w", err)
	}

	res, err := appendScript.Run(ctx, s.client,
		[]string{s.metaKey(id), s.partKey(id, index)},
		index,
		payload,
		seconds(config.StreamActiveTTL),
	).Int64()
	if err != nil {
		return fmt.Errorf("append stream %s[%d]: %w", id, index, err)
	}

	switch res {
	case -1:
		return fmt.Errorf("append stream %s: %w", id, chatService.ErrStreamNotFound)
	case -2:
		return fmt.Errorf("append stream %s[%d]: %w", id, index, chatService.ErrIndexConflict)
	case -3:
		return fmt.Errorf("append stream %s: already complete: %w", id, chatService.ErrIndexConflict)
	}
	return nil
}

// Complete marks the stream finished and shortens every key to the grace TTL
func (s *StreamStore) Complete(ctx context.Context, id string) error {
	res, err := completeScript.Run(ctx, s.client,
		[]string{s.metaKey(id)},
		seconds(config.StreamCompleteTTL),
		s.partPrefix(id),
	).Int64()
	if err != nil {
		return fmt.Errorf("complete stream %s: %w", id, err)
	}
	if res < 0 {
		return fmt.Errorf("complete stream %s: %w", id, chatService.ErrStreamNotFound)
	}
	return nil
}

// Meta returns the stream metadata or ErrStreamNotFound
func (s *StreamStore) Meta(ctx context.Context, id string) (*chatModels.StreamMeta, error) {
	fields, err := s.client.HGetAll(ctx, s.metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read stream meta %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("stream %s: %w", id, chatService.ErrStreamNotFound)
	}

	total, err := strconv.Atoi(fields["totalParts"])
	if err != nil {
		return nil, fmt.Errorf("stream %s: corrupt totalParts %q", id, fields["totalParts"])
	}
	startMs, _ := strconv.ParseInt(fields["startTime"], 10, 64)

	return &chatModels.StreamMeta{
		TotalParts: total,
		IsComplete: fields["isComplete"] == "1",
		StartTime:  time.UnixMilli(startMs),
	}, nil
}

// Replay streams parts [from, totalParts) as of the call. Parts that expired
// in the meantime are skipped.
func (s *StreamStore) Replay(ctx context.Context, id string, from int, fn func(chatModels.StreamPart) error) error {
	meta, err := s.Meta(ctx, id)
	if err != nil {
		return err
	}
	if from < 0 {
		from = 0
	}

	for start := from; start < meta.TotalParts; start += replayBatch {
		end := min(start+replayBatch, meta.TotalParts)
		keys := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			keys = append(keys, s.partKey(id, i))
		}

		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return fmt.Errorf("replay stream %s: %w", id, err)
		}

		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				s.logger.Warn("stream part missing during replay", "stream_id", id, "index", start+i)
				continue
			}
			var part chatModels.StreamPart
			if err := json.Unmarshal([]byte(raw), &part); err != nil {
				return fmt.Errorf("decode stream part %s[%d]: %w", id, start+i, err)
			}
			if err := fn(part); err != nil {
				return err
			}
		}
	}
	return nil
}

// Purge deletes the metadata and every part. Safe on unknown IDs.
func (s *StreamStore) Purge(ctx context.Context, id string) error {
	meta, err := s.Meta(ctx, id)
	if err != nil && !errors.Is(err, chatService.ErrStreamNotFound) {
		return err
	}

	if meta != nil {
		keys := []string{s.metaKey(id)}
		for i := 0; i < meta.TotalParts; i++ {
			keys = append(keys, s.partKey(id, i))
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("purge stream %s: %w", id, err)
		}
		return nil
	}

	// Metadata expired first; sweep orphaned parts
	iter := s.client.Scan(ctx, 0, s.partPrefix(id)+"*", replayBatch).Iterator()
	var orphans []string
	for iter.Next(ctx) {
		orphans = append(orphans, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan stream %s: %w", id, err)
	}
	if len(orphans) > 0 {
		if err := s.client.Del(ctx, orphans...).Err(); err != nil {
			return fmt.Errorf("purge stream %s: %w", id, err)
		}
	}
	return nil
}

// Ping checks the Redis connection
func (s *StreamStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
