package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/menta2k/image-marker/internal/config"
	"github.com/menta2k/image-marker/pkg/types"
)

const (
	keyPrefix  = "image_marker:"
	indexKey   = keyPrefix + "targets"
	pollPeriod = time.Second
)

// RedisStore shares pending requests through redis, so the request that
// waits for a result and the handler receiving it may run in different
// processes.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		ContextTimeoutEnabled: true,
	})
	return &RedisStore{client: client, ttl: cfg.TTL}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func pendingKey(targetID string) string { return keyPrefix + "pending:" + targetID }
func resultKey(targetID string) string  { return keyPrefix + "result:" + targetID }

func (s *RedisStore) Register(ctx context.Context, trigger types.Trigger) error {
	data, err := json.Marshal(trigger)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, pendingKey(trigger.TargetID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("register %s: %w", trigger.TargetID, err)
	}
	if !ok {
		return ErrPending
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, resultKey(trigger.TargetID))
	pipe.SAdd(ctx, indexKey, trigger.TargetID)
	_, err = pipe.Exec(ctx)
	return err
}

// Pending lists live requests and prunes index entries whose key expired.
func (s *RedisStore) Pending(ctx context.Context) ([]types.Trigger, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]types.Trigger, 0, len(ids))
	for _, id := range ids {
		data, err := s.client.Get(ctx, pendingKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			s.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var t types.Trigger
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("decode pending %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) Deliver(ctx context.Context, targetID string, res Result) error {
	n, err := s.client.Exists(ctx, pendingKey(targetID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, resultKey(targetID), data)
	if s.ttl > 0 {
		pipe.Expire(ctx, resultKey(targetID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Wait polls with short BLPOP calls so ctx cancellation is honored between
// them.
func (s *RedisStore) Wait(ctx context.Context, targetID string) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		vals, err := s.client.BLPop(ctx, pollPeriod, resultKey(targetID)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, err
		}
		// vals is [key, value].
		var res Result
		if err := json.Unmarshal([]byte(vals[1]), &res); err != nil {
			return Result{}, fmt.Errorf("decode result %s: %w", targetID, err)
		}
		return res, nil
	}
}

func (s *RedisStore) Remove(ctx context.Context, targetID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, pendingKey(targetID), resultKey(targetID))
	pipe.SRem(ctx, indexKey, targetID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
