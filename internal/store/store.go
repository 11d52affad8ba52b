// Package store persists the two long-lived shapes the pipeline depends on:
// EmailEvent (durable, PostgreSQL) and JobState (ephemeral, TTL-keyed Redis
// hash). Both are exposed as narrow interfaces so workers never reach for a
// concrete driver type directly.
package store

import (
	"context"

	"github.com/ignite/mailguard/internal/domain"
)

// EmailEventStore persists EmailEvent rows and enforces message_id
// uniqueness at the ingest boundary.
type EmailEventStore interface {
	// Create inserts a new EmailEvent. Returns ErrDuplicateMessageID if
	// message_id already exists.
	Create(ctx context.Context, e *domain.EmailEvent) error

	// Get loads an EmailEvent by id. Returns ErrEmailEventNotFound if absent.
	Get(ctx context.Context, id string) (*domain.EmailEvent, error)

	// FindByMessageID looks up an EmailEvent by its envelope message_id,
	// used by the Ingest Producer's dedup check. Returns
	// ErrEmailEventNotFound if absent (a normal, expected outcome here, not
	// a failure).
	FindByMessageID(ctx context.Context, messageID string) (*domain.EmailEvent, error)

	// UpdateIntent persists the Intent Worker's classification result.
	UpdateIntent(ctx context.Context, id string, intent domain.Intent, confidence float64, indicators []string, riskScore int, riskTier domain.RiskTier) error

	// UpdateSandbox persists the Analysis Worker's normalized sandbox
	// result.
	UpdateSandbox(ctx context.Context, id string, result domain.SandboxResult) error

	// Finalize marks an EmailEvent COMPLETED once the aggregator's
	// completion predicate is satisfied.
	Finalize(ctx context.Context, id string) error

	// MarkFailed marks an EmailEvent FAILED (used by the Intent Worker when
	// its analyzer fails; the reaper does not call it).
	MarkFailed(ctx context.Context, id string) error
}

// JobStateStore persists ephemeral per-job aggregation state with a
// refresh-on-write TTL.
type JobStateStore interface {
	// Create writes a brand new JobState, setting its TTL.
	Create(ctx context.Context, s *domain.JobState) error

	// Get loads a JobState by job ID. Returns ErrJobStateNotFound if absent
	// or expired.
	Get(ctx context.Context, jobID string) (*domain.JobState, error)

	// SetIntentReceived marks the intent branch complete, stores the
	// intent-done payload, and refreshes the TTL.
	SetIntentReceived(ctx context.Context, jobID string, payload []byte) error

	// SetSandboxReceived marks the sandbox branch complete, stores the
	// analysis-done payload, and refreshes the TTL.
	SetSandboxReceived(ctx context.Context, jobID string, payload []byte) error

	// EnsureCreated creates a synthetic JobState if one doesn't already
	// exist, for out-of-order message arrival (spec.md §4.4).
	EnsureCreated(ctx context.Context, jobID string, requiresB bool) (*domain.JobState, error)

	// Delete removes a JobState after finalization.
	Delete(ctx context.Context, jobID string) error

	// ScanExpired returns job IDs whose JobState has exceeded its TTL
	// without being deleted (used by the reaper's diagnostic sweep; Redis
	// key expiry normally removes these on its own, so in steady state this
	// returns an empty slice).
	ScanExpired(ctx context.Context) ([]string, error)
}
