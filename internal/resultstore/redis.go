package resultstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/face-blur/internal/domain"
	"github.com/go-redis/redis/v8"
)

const (
	defaultKeyPrefix = "faceblur:artifact:"
	sweepBatch       = 500
)

// RedisStore keeps one hash per artifact plus a sorted index by write time.
// Each mutation runs as a Lua script so put, take and sweep are atomic.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *RedisStore) keyArtifact(id string) string { return s.prefix + id }
func (s *RedisStore) keyIndex() string { return s.prefix + ".index" }

// KEYS[1] = artifact hash, KEYS[2] = index zset
// ARGV = id, data, filename, content_type, written_at (unix ms)
var putScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "data", ARGV[2], "filename", ARGV[3], "content_type", ARGV[4], "written_at", ARGV[5])
redis.call("ZADD", KEYS[2], ARGV[5], ARGV[1])
return 1
`)

// KEYS[1] = artifact hash, KEYS[2] = index zset; ARGV[1] = id
var takeScript = redis.NewScript(`
local v = redis.call("HMGET", KEYS[1], "data", "filename", "content_type", "written_at")
if not v[1] then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return v
`)

// KEYS[1] = index zset; ARGV = key prefix, cutoff (unix ms, exclusive), batch size
var sweepScript = redis.NewScript(`
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[2], "LIMIT", 0, tonumber(ARGV[3]))
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
  redis.call("ZREM", KEYS[1], id)
end
return #ids
`)

func (s *RedisStore) Put(ctx context.Context, a *domain.Artifact) error {
	if err := validateID(a.TaskID); err != nil {
		return err
	}

	written := a.WrittenAt
	if written.IsZero() {
		written = s.now().UTC()
	}

	res, err := putScript.Run(ctx, s.rdb,
		[]string{s.keyArtifact(a.TaskID), s.keyIndex()},
		a.TaskID, a.Data, a.Filename, a.ContentType, written.UnixMilli(),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to store artifact: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("%w: artifact %s already stored", domain.ErrConflict, a.TaskID)
	}

	a.WrittenAt = written
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*domain.Artifact, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}

	vals, err := s.rdb.HMGet(ctx, s.keyArtifact(taskID), "data", "filename", "content_type", "written_at").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return decodeFields(taskID, vals)
}

func (s *RedisStore) Take(ctx context.Context, taskID string) (*domain.Artifact, error) {
	if err := validateID(taskID); err != nil {
		return nil, err
	}

	res, err := takeScript.Run(ctx, s.rdb,
		[]string{s.keyArtifact(taskID), s.keyIndex()},
		taskID,
	).Slice()
	if err == redis.Nil {
		return nil, domain.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take artifact: %w", err)
	}
	return decodeFields(taskID, res)
}

func (s *RedisStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		n, err := sweepScript.Run(ctx, s.rdb,
			[]string{s.keyIndex()},
			s.prefix, cutoff.UnixMilli(), sweepBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("failed to sweep artifacts: %w", err)
		}
		total += n
		if n < sweepBatch {
			return total, nil
		}
	}
}

func decodeFields(taskID string, vals []interface{}) (*domain.Artifact, error) {
	if len(vals) < 4 || vals[0] == nil {
		return nil, domain.ErrArtifactNotFound
	}

	str := func(v interface{}) string {
		s, _ := v.(string)
		return s
	}

	a := &domain.Artifact{
		TaskID:      taskID,
		Data:        []byte(str(vals[0])),
		Filename:    str(vals[1]),
		ContentType: str(vals[2]),
	}
	if ms, err := strconv.ParseInt(str(vals[3]), 10, 64); err == nil {
		a.WrittenAt = time.UnixMilli(ms).UTC()
	}
	return a, nil
}
