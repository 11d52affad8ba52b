package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailguard/internal/domain"
)

const jobStateKeyPrefix = "job_state:"

// RedisJobStateStore implements JobStateStore over Redis hashes, one key
// per job (job_state:<job_id>), with the hash's TTL refreshed on every
// write per spec.md §4.4.
type RedisJobStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisJobStateStore builds a store with the given TTL (default 600s,
// STATE_TTL_SECONDS).
func NewRedisJobStateStore(client *redis.Client, ttl time.Duration) *RedisJobStateStore {
	return &RedisJobStateStore{client: client, ttl: ttl}
}

func jobStateKey(jobID string) string { return jobStateKeyPrefix + jobID }

func (s *RedisJobStateStore) Create(ctx context.Context, js *domain.JobState) error {
	key := jobStateKey(js.JobID)
	fields := map[string]interface{}{
		"job_id":           js.JobID,
		"requiresB":        strconv.FormatBool(js.RequiresB),
		"created_at":       js.CreatedAt.UTC().Format(time.RFC3339),
		"intent_received":  strconv.FormatBool(js.IntentReceived),
		"sandbox_received": strconv.FormatBool(js.SandboxReceived),
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("create job state: %w", err)
	}
	return nil
}

func (s *RedisJobStateStore) Get(ctx context.Context, jobID string) (*domain.JobState, error) {
	key := jobStateKey(jobID)
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("get job state: %w", err)
	}
	if len(vals) == 0 {
		return nil, ErrJobStateNotFound
	}
	return parseJobState(jobID, vals)
}

func parseJobState(jobID string, vals map[string]string) (*domain.JobState, error) {
	js := &domain.JobState{JobID: jobID}
	js.RequiresB, _ = strconv.ParseBool(vals["requiresB"])
	js.IntentReceived, _ = strconv.ParseBool(vals["intent_received"])
	js.SandboxReceived, _ = strconv.ParseBool(vals["sandbox_received"])
	if raw := vals["created_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		js.CreatedAt = t
	}
	if raw := vals["intent"]; raw != "" {
		js.Intent = []byte(raw)
	}
	if raw := vals["sandbox"]; raw != "" {
		js.Sandbox = []byte(raw)
	}
	return js, nil
}

func (s *RedisJobStateStore) SetIntentReceived(ctx context.Context, jobID string, payload []byte) error {
	key := jobStateKey(jobID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check job state existence: %w", err)
	}
	if exists == 0 {
		return ErrJobStateNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"intent_received": "true",
		"intent":          string(payload),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set intent received: %w", err)
	}
	return nil
}

func (s *RedisJobStateStore) SetSandboxReceived(ctx context.Context, jobID string, payload []byte) error {
	key := jobStateKey(jobID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check job state existence: %w", err)
	}
	if exists == 0 {
		return ErrJobStateNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"sandbox_received": "true",
		"sandbox":          string(payload),
	})
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set sandbox received: %w", err)
	}
	return nil
}

// EnsureCreated creates a synthetic JobState for out-of-order arrival (a
// done message reaching the aggregator before its control message), or
// returns the existing one untouched.
func (s *RedisJobStateStore) EnsureCreated(ctx context.Context, jobID string, requiresB bool) (*domain.JobState, error) {
	existing, err := s.Get(ctx, jobID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrJobStateNotFound) {
		return nil, err
	}
	js := &domain.JobState{
		JobID:     jobID,
		RequiresB: requiresB,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Create(ctx, js); err != nil {
		return nil, err
	}
	return js, nil
}

func (s *RedisJobStateStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, jobStateKey(jobID)).Err(); err != nil {
		return fmt.Errorf("delete job state: %w", err)
	}
	return nil
}

// ScanExpired walks job_state:* keys, parsing each entry's created_at and
// collecting job IDs older than the store's TTL. Redis's own EXPIRE
// normally removes a stale key before this ever observes it; this sweep is
// the application-level backstop spec.md's reaper performs explicitly
// rather than relying solely on passive key expiry.
func (s *RedisJobStateStore) ScanExpired(ctx context.Context) ([]string, error) {
	var expired []string
	var cursor uint64
	cutoff := time.Now().Add(-s.ttl)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, jobStateKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan job state keys: %w", err)
		}
		for _, key := range keys {
			jobID := key[len(jobStateKeyPrefix):]
			createdAtRaw, err := s.client.HGet(ctx, key, "created_at").Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return nil, fmt.Errorf("read created_at for %s: %w", key, err)
			}
			createdAt, err := time.Parse(time.RFC3339, createdAtRaw)
			if err != nil {
				continue
			}
			if createdAt.Before(cutoff) {
				expired = append(expired, jobID)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return expired, nil
}
