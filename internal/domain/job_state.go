package domain

import "time"

// JobState is the ephemeral, TTL-bounded aggregator state for one job.
// It is stored as a Redis hash keyed "job_state:<job_id>" and is deleted on
// finalization or by the reaper once it exceeds its TTL.
type JobState struct {
	JobID     string
	RequiresB bool
	CreatedAt time.Time

	IntentReceived   bool
	SandboxReceived  bool

	// Intent and Sandbox hold the raw done-payload JSON as received, kept
	// around only long enough for finalization to parse them.
	Intent  []byte
	Sandbox []byte
}

// Complete reports whether the job has satisfied the completion predicate:
// intent_received ∧ (¬requiresB ∨ sandbox_received).
func (s *JobState) Complete() bool {
	return s.IntentReceived && (!s.RequiresB || s.SandboxReceived)
}
