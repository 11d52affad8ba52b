// Package analysisworker implements the Analysis Worker of spec.md §4.3: it
// consumes analysis-request messages, runs a pluggable dynamic analyzer
// over URLs and/or attachment metadata, normalizes the verdict, persists
// it, and publishes analysis-done.
package analysisworker

import (
	"context"
	"encoding/json"

	"github.com/ignite/mailguard/internal/domain"
)

// AnalysisTarget is the deserialized analysis-request payload handed to a
// DynamicAnalyzer. AttachmentContent is populated only when the worker's
// mailbox.Provider supports FetchAttachmentContent and returned bytes for
// the selected attachment (encodes as base64 in JSON, per encoding/json's
// []byte convention).
type AnalysisTarget struct {
	MessageID         string
	URLs              []string
	Attachments       []domain.Attachment
	AttachmentContent []byte
	// StagedObjectKey is the S3 key an AttachmentFetcher staged the
	// selected attachment's bytes under, when staging (rather than inline
	// content) was used.
	StagedObjectKey string
}

// AnalysisOutcome is a DynamicAnalyzer's normalized result, matching
// SPEC_FULL.md §6's {verdict, score, details, provider, timed_out}
// contract.
type AnalysisOutcome struct {
	Verdict  domain.Verdict
	Score    int
	Details  string
	Provider string
	TimedOut bool
}

// DynamicAnalyzer is the pluggable analysis collaborator (spec.md §6):
// analyze({urls, attachments, message_id}) -> {verdict, score, details,
// provider, timed_out}.
type DynamicAnalyzer interface {
	Analyze(ctx context.Context, target AnalysisTarget) (AnalysisOutcome, error)
}

func (o AnalysisOutcome) toSandboxResult() domain.SandboxResult {
	return domain.SandboxResult{
		Verdict:  string(o.Verdict),
		Score:    o.Score,
		Details:  o.Details,
		Provider: o.Provider,
		TimedOut: o.TimedOut,
	}
}

func (o AnalysisOutcome) marshalSandboxResult() (json.RawMessage, error) {
	return json.Marshal(o.toSandboxResult())
}
