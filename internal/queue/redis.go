package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Keys share a hash tag so every script touches a single cluster slot.
//
//	<prefix>:{<name>}:wait       list, LPUSH in / RPOP out
//	<prefix>:{<name>}:delayed    zset scored by run-at ms
//	<prefix>:{<name>}:active     zset scored by lease deadline ms
//	<prefix>:{<name>}:completed  list, newest first
//	<prefix>:{<name>}:failed     list, newest first
//	<prefix>:{<name>}:job:<id>   hash
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local jobPrefix = ARGV[3]

local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
  redis.call('HSET', jobPrefix .. id, 'state', 'waiting')
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('RPUSH', KEYS[1], id)
  redis.call('HSET', jobPrefix .. id, 'state', 'waiting')
end

while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local key = jobPrefix .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[3], now + tonumber(ARGV[2]), id)
    redis.call('HSET', key, 'state', 'active', 'processed_on', now)
    local f = redis.call('HMGET', key, 'name', 'body', 'created_on', 'run_at')
    return {id, f[1] or '', f[2] or '', f[3] or '0', f[4] or '0'}
  end
end
`)

var finishScript = redis.NewScript(`
local id = ARGV[1]
local key = ARGV[6] .. id
local keep = tonumber(ARGV[5])

redis.call('ZREM', KEYS[1], id)
if redis.call('EXISTS', key) == 0 then
  return 0
end
local state = redis.call('HGET', key, 'state')
if state == 'completed' or state == 'failed' then
  return 0
end
if state == 'waiting' then
  redis.call('LREM', KEYS[3], 0, id)
end

if keep <= 0 then
  redis.call('DEL', key)
  return 1
end

redis.call('HSET', key, 'state', ARGV[2], 'finished_on', ARGV[3], 'failed_reason', ARGV[4])
redis.call('LPUSH', KEYS[2], id)
local stale = redis.call('LRANGE', KEYS[2], keep, -1)
for _, old in ipairs(stale) do
  redis.call('DEL', ARGV[6] .. old)
end
redis.call('LTRIM', KEYS[2], 0, keep - 1)
return 1
`)

// RedisStore is a durable Store backed by Redis lists, sorted sets and hashes
type RedisStore struct {
	client redis.UniversalClient
	name   string
	base   string
	opts   storeOptions
}

func NewRedisStore(client redis.UniversalClient, prefix, name string, opts ...StoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, ErrStoreNil
	}
	if name == "" {
		return nil, errors.New("queue name is required")
	}
	o := defaultStoreOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if prefix == "" {
		prefix = "hookline"
	}
	return &RedisStore{
		client: client,
		name:   name,
		base:   fmt.Sprintf("%s:{%s}:", prefix, name),
		opts:   o,
	}, nil
}

func (s *RedisStore) Name() string { return s.name }

func (s *RedisStore) key(suffix string) string { return s.base + suffix }

func (s *RedisStore) jobPrefix() string { return s.base + "job:" }

func (s *RedisStore) jobKey(id string) string { return s.jobPrefix() + id }

func (s *RedisStore) Push(ctx context.Context, msg *Message, delay time.Duration) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("push: message id required")
	}
	state := StateWaiting
	if delay > 0 {
		state = StateDelayed
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(msg.ID),
		"name", msg.Name,
		"body", msg.Body,
		"created_on", msg.CreatedAt.UnixMilli(),
		"run_at", msg.RunAt.UnixMilli(),
		"state", string(state),
	)
	if delay > 0 {
		pipe.ZAdd(ctx, s.key("delayed"), redis.Z{
			Score:  float64(msg.RunAt.UnixMilli()),
			Member: msg.ID,
		})
	} else {
		pipe.LPush(ctx, s.key("wait"), msg.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context) (*Message, error) {
	res, err := claimScript.Run(ctx, s.client,
		[]string{s.key("wait"), s.key("delayed"), s.key("active")},
		s.opts.now().UnixMilli(), s.opts.lease.Milliseconds(), s.jobPrefix(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("claim: unexpected reply length %d", len(res))
	}
	return &Message{
		ID:        asString(res[0]),
		Name:      asString(res[1]),
		Body:      []byte(asString(res[2])),
		CreatedAt: fromMillis(asString(res[3])),
		RunAt:     fromMillis(asString(res[4])),
	}, nil
}

func (s *RedisStore) Complete(ctx context.Context, msg *Message) error {
	return s.finish(ctx, msg, StateCompleted, "", s.opts.keepCompleted)
}

func (s *RedisStore) Fail(ctx context.Context, msg *Message, reason string) error {
	return s.finish(ctx, msg, StateFailed, reason, s.opts.keepFailed)
}

func (s *RedisStore) finish(ctx context.Context, msg *Message, state State, reason string, keep int) error {
	err := finishScript.Run(ctx, s.client,
		[]string{s.key("active"), s.key(string(state)), s.key("wait")},
		msg.ID, string(state), s.opts.now().UnixMilli(), reason, keep, s.jobPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", msg.ID, state, err)
	}
	return nil
}

func (s *RedisStore) Stats(ctx context.Context) (Stats, error) {
	pipe := s.client.Pipeline()
	waiting := pipe.LLen(ctx, s.key("wait"))
	delayed := pipe.ZCard(ctx, s.key("delayed"))
	active := pipe.ZCard(ctx, s.key("active"))
	completed := pipe.LLen(ctx, s.key("completed"))
	failed := pipe.LLen(ctx, s.key("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return Stats{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Records lists up to limit jobs in state; limit <= 0 means all.
// Finished states are newest first, waiting is claim order, delayed is by run time.
func (s *RedisStore) Records(ctx context.Context, state State, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	var (
		ids []string
		err error
	)
	switch state {
	case StateWaiting:
		// RPOP side is the head, so read the list back to front
		ids, err = s.client.LRange(ctx, s.key("wait"), 0, -1).Result()
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
		if limit > 0 && len(ids) > limit {
			ids = ids[:limit]
		}
	case StateDelayed:
		ids, err = s.client.ZRange(ctx, s.key("delayed"), 0, stop).Result()
	case StateActive:
		ids, err = s.client.ZRange(ctx, s.key("active"), 0, stop).Result()
	case StateCompleted, StateFailed:
		ids, err = s.client.LRange(ctx, s.key(string(state)), 0, stop).Result()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownState, state)
	}
	if err != nil {
		return nil, fmt.Errorf("records %s: %w", state, err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.jobKey(id))
	}
	if len(ids) > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("records %s: %w", state, err)
		}
	}

	out := make([]Record, 0, len(ids))
	for i, id := range ids {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		rec := Record{
			Message: Message{
				ID:        id,
				Name:      h["name"],
				Body:      []byte(h["body"]),
				CreatedAt: fromMillis(h["created_on"]),
				RunAt:     fromMillis(h["run_at"]),
			},
			State:        State(h["state"]),
			FailedReason: h["failed_reason"],
		}
		if fin := h["finished_on"]; fin != "" {
			rec.FinishedAt = fromMillis(fin)
		}
		out = append(out, rec)
	}
	return out, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return ""
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
