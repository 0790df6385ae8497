// Package store persists accepted operations to Redis: an append-only log per
// target and a hash holding the latest value of every field.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/collabhub/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// Attempts bounds the tries per operation, Backoff is the first delay and doubles.
	Attempts int
	Backoff  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:6379",
		Prefix:   "collab:",
		Attempts: 4,
		Backoff:  100 * time.Millisecond,
	}
}

// record is the log entry stored per accepted operation.
type record struct {
	ID         string          `json:"id"`
	Target     string          `json:"targetId"`
	UserID     string          `json:"userId"`
	FieldPath  string          `json:"fieldPath"`
	Kind       string          `json:"kind"`
	Value      json.RawMessage `json:"value,omitempty"`
	Version    int64           `json:"version"`
	AcceptedAt time.Time       `json:"acceptedAt"`
}

// RedisRecorder implements core.Recorder.
type RedisRecorder struct {
	client   *redis.Client
	prefix   string
	attempts int
	backoff  time.Duration
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewRedisRecorder(client *redis.Client, cfg Config) *RedisRecorder {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &RedisRecorder{
		client:   client,
		prefix:   cfg.Prefix,
		attempts: cfg.Attempts,
		backoff:  cfg.Backoff,
	}
}

func (r *RedisRecorder) opsKey(t domain.TargetID) string      { return r.prefix + "ops:" + string(t) }
func (r *RedisRecorder) fieldsKey(t domain.TargetID) string   { return r.prefix + "fields:" + string(t) }
func (r *RedisRecorder) versionsKey(t domain.TargetID) string { return r.prefix + "versions:" + string(t) }

func (r *RedisRecorder) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Record appends op to the target's log and updates the field hash, retrying
// transient failures with exponential backoff.
func (r *RedisRecorder) Record(ctx context.Context, op domain.Operation) error {
	if op.Version <= 0 {
		return fmt.Errorf("record %s: operation was never accepted", op.ID)
	}
	entry, err := json.Marshal(record{
		ID:         op.ID,
		Target:     string(op.Target),
		UserID:     string(op.Origin.ID),
		FieldPath:  op.FieldPath,
		Kind:       string(op.Kind),
		Value:      op.Value,
		Version:    op.Version,
		AcceptedAt: op.AcceptedAt,
	})
	if err != nil {
		return fmt.Errorf("record marshal: %w", err)
	}

	delay := r.backoff
	for attempt := 1; ; attempt++ {
		err = r.write(ctx, op, entry)
		if err == nil {
			return nil
		}
		if attempt >= r.attempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("record %s v%d after %d attempts: %w", op.Target, op.Version, attempt, err)
		}
		log.Warn().Err(err).Str("module", "store").Str("target", string(op.Target)).Int("attempt", attempt).Msg("record failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// writeScript logs the entry and applies it to the field hash only if it is
// newer than what the hash already holds for the field and its ancestors.
// Subtree writes drop descendants older than themselves. The versions hash
// keeps the version of every written path, tombstones included.
//
// KEYS: ops, fields, versions
// ARGV: version, entry, path, value, delete flag, subtree flag, ancestors...
var writeScript = redis.NewScript(`
	local ops, fields, versions = KEYS[1], KEYS[2], KEYS[3]
	local version = tonumber(ARGV[1])
	local path = ARGV[3]

	redis.call('ZADD', ops, version, ARGV[2])

	local cur = tonumber(redis.call('HGET', versions, path) or '0')
	if cur >= version then
		return 0
	end
	for i = 7, #ARGV do
		local v = tonumber(redis.call('HGET', versions, ARGV[i]) or '0')
		if v > version then
			return 0
		end
	end

	if ARGV[6] == '1' then
		local n = #path
		for _, k in ipairs(redis.call('HKEYS', versions)) do
			local c = string.sub(k, n + 1, n + 1)
			if #k > n and string.sub(k, 1, n) == path and (c == '.' or c == '[') then
				if tonumber(redis.call('HGET', versions, k)) < version then
					redis.call('HDEL', versions, k)
					redis.call('HDEL', fields, k)
				end
			end
		end
	end

	redis.call('HSET', versions, path, version)
	if ARGV[5] == '1' then
		redis.call('HDEL', fields, path)
	else
		redis.call('HSET', fields, path, ARGV[4])
	end
	return 1
`)

func (r *RedisRecorder) write(ctx context.Context, op domain.Operation, entry []byte) error {
	keys := []string{r.opsKey(op.Target), r.fieldsKey(op.Target), r.versionsKey(op.Target)}
	args := []interface{}{
		op.Version,
		entry,
		op.FieldPath,
		[]byte(op.Value),
		flag(op.Kind == domain.OpDeleteItem),
		flag(op.Kind == domain.OpUpsertItem || op.Kind == domain.OpDeleteItem),
	}
	for _, a := range domain.FieldAncestors(op.FieldPath) {
		args = append(args, a)
	}

	applied, err := writeScript.Run(ctx, r.client, keys, args...).Int()
	if err != nil {
		return err
	}
	if applied == 0 {
		log.Debug().Str("module", "store").Str("target", string(op.Target)).Str("field", op.FieldPath).
			Int64("version", op.Version).Msg("older than stored field, logged only")
	}
	return nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Fields returns the persisted latest value of every field of t.
func (r *RedisRecorder) Fields(ctx context.Context, t domain.TargetID) (map[string]json.RawMessage, error) {
	raw, err := r.client.HGetAll(ctx, r.fieldsKey(t)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

// History returns the logged operations of t with version above after, oldest first.
func (r *RedisRecorder) History(ctx context.Context, t domain.TargetID, after int64) ([]domain.Operation, error) {
	raw, err := r.client.ZRangeByScore(ctx, r.opsKey(t), &redis.ZRangeBy{
		Min: fmt.Sprintf("(%d", after),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	ops := make([]domain.Operation, 0, len(raw))
	for _, s := range raw {
		var rec record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("history decode: %w", err)
		}
		ops = append(ops, domain.Operation{
			ID:         rec.ID,
			Target:     domain.TargetID(rec.Target),
			Origin:     domain.Identity{ID: domain.UserID(rec.UserID)},
			FieldPath:  rec.FieldPath,
			Kind:       domain.OpKind(rec.Kind),
			Value:      rec.Value,
			Version:    rec.Version,
			AcceptedAt: rec.AcceptedAt,
		})
	}
	return ops, nil
}

func (r *RedisRecorder) Close() error {
	return r.client.Close()
}
