// Package broker abstracts the durable, append-only, consumer-group-capable
// message stream the pipeline is built on. The production implementation is
// Redis Streams; this package's own tests run RedisBroker against a
// miniredis instance.
package broker

import (
	"context"
	"time"
)

// Fields is the flat string-keyed payload carried by a Message. Stream wire
// formats stay flat and string-keyed even though in-process callers work
// with typed message structs (see internal/broker/messages.go).
type Fields map[string]string

// Message is one broker-delivered stream entry.
type Message struct {
	// ID is the broker-assigned ordered identifier used for acknowledgement
	// (a Redis Stream entry ID such as "1700000000000-0").
	ID     string
	Stream string
	Values Fields
}

// Broker is the append/read/ack/group-management contract every component
// depends on. Nothing in this module reaches for a concrete Redis type
// directly outside of this package's implementation.
type Broker interface {
	// EnsureGroup creates the consumer group on stream if it does not
	// already exist. Idempotent.
	EnsureGroup(ctx context.Context, stream, group string) error

	// Publish appends fields to stream and returns the assigned entry ID.
	Publish(ctx context.Context, stream string, fields Fields) (string, error)

	// ReadGroup reads up to count new (">") entries for consumer within
	// group across one or more streams, blocking up to block for new
	// entries if none are pending. Returns one result set per stream that
	// had deliverable entries.
	ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]StreamMessages, error)

	// Ack acknowledges ids on stream within group, removing them from the
	// group's pending-entries list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Healthy reports whether the broker connection is usable.
	Healthy(ctx context.Context) bool
}

// StreamMessages groups the messages ReadGroup delivered for one stream.
type StreamMessages struct {
	Stream   string
	Messages []Message
}
