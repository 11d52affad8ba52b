package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis Streams (XADD/XREADGROUP/XACK).
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing go-redis client. The caller owns the
// client's lifecycle (one shared client per process, per SPEC_FULL.md §5).
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

// EnsureGroup creates the consumer group at the stream's current tail if the
// stream doesn't exist yet (MKSTREAM), or is a no-op if the group already
// exists.
func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish appends fields as a new stream entry.
func (b *RedisBroker) Publish(ctx context.Context, stream string, fields Fields) (string, error) {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
	if err != nil {
		return "", err
	}
	return id, nil
}

// ReadGroup reads new entries for consumer across streams, blocking for up
// to block if nothing is immediately deliverable.
func (b *RedisBroker) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]StreamMessages, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  args,
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]StreamMessages, 0, len(res))
	for _, stream := range res {
		msgs := make([]Message, 0, len(stream.Messages))
		for _, m := range stream.Messages {
			fields := make(Fields, len(m.Values))
			for k, v := range m.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				}
			}
			msgs = append(msgs, Message{ID: m.ID, Stream: stream.Stream, Values: fields})
		}
		out = append(out, StreamMessages{Stream: stream.Stream, Messages: msgs})
	}
	return out, nil
}

// Ack acknowledges ids on stream within group.
func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return b.client.XAck(ctx, stream, group, ids...).Err()
}

// Healthy pings the underlying Redis connection.
func (b *RedisBroker) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}
