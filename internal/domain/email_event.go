// Package domain holds the core entity and value types shared across the
// ingest, intent, analysis, aggregator, and action components.
package domain

import (
	"encoding/json"
	"time"
)

// AuthStatus is the result of an SPF/DKIM/DMARC check on an inbound message.
type AuthStatus string

const (
	AuthPass    AuthStatus = "PASS"
	AuthFail    AuthStatus = "FAIL"
	AuthNeutral AuthStatus = "NEUTRAL"
	AuthNone    AuthStatus = "NONE"
)

// EmailStatus is the lifecycle status of an EmailEvent row.
type EmailStatus string

const (
	StatusProcessing EmailStatus = "PROCESSING"
	StatusCompleted  EmailStatus = "COMPLETED"
	StatusFailed     EmailStatus = "FAILED"
	// StatusSpam is reserved for a bulk/newsletter reclassification flow
	// that original_source's risk.py hinted at. No operation in this module
	// produces it; it exists so the column/enum is forward-compatible.
	StatusSpam EmailStatus = "SPAM"
)

// RiskTier is the coarse public classification derived from RiskScore.
type RiskTier string

const (
	RiskSafe     RiskTier = "SAFE"
	RiskCautious RiskTier = "CAUTIOUS"
	RiskThreat   RiskTier = "THREAT"
)

// TierForScore derives a RiskTier from a risk score in [0,100].
// SAFE if <30, CAUTIOUS if <80, THREAT otherwise.
func TierForScore(score int) RiskTier {
	switch {
	case score < 30:
		return RiskSafe
	case score < 80:
		return RiskCautious
	default:
		return RiskThreat
	}
}

// Attachment is attachment metadata as extracted by the (out-of-scope)
// mailbox provider layer.
type Attachment struct {
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Size         int64  `json:"size"`
	AttachmentID string `json:"attachment_id,omitempty"`
}

// StructuredEmail is the already-parsed envelope the Ingest Producer
// consumes. Building one from a raw mailbox fetch is out of this module's
// scope; this is the seam that layer fills.
type StructuredEmail struct {
	Sender      string
	Recipient   string
	Subject     string
	MessageID   string
	Body        string
	BodyPreview string
	ReceivedAt  time.Time

	SPFStatus   AuthStatus
	DKIMStatus  AuthStatus
	DMARCStatus AuthStatus
	SenderIP    string

	Attachments []Attachment
	URLs        []string
}

// SandboxResult is the normalized output of a DynamicAnalyzer, persisted as
// EmailEvent.SandboxResult.
type SandboxResult struct {
	Verdict  string `json:"verdict"` // malicious | suspicious | clean | unknown
	Score    int    `json:"score"`
	Details  string `json:"details"`
	Provider string `json:"provider"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// EmailEvent is the durable row tracking one email's analysis job.
type EmailEvent struct {
	ID     string
	UserID string

	Sender      string
	Recipient   string
	Subject     string
	MessageID   string
	BodyPreview string
	ReceivedAt  time.Time

	SPFStatus   AuthStatus
	DKIMStatus  AuthStatus
	DMARCStatus AuthStatus
	SenderIP    string

	Attachments []Attachment
	URLs        []string

	Status EmailStatus

	Intent            Intent
	IntentConfidence  float64
	IntentIndicators  []string
	IntentProcessedAt *time.Time

	RiskScore int
	RiskTier  RiskTier

	Sandboxed     bool
	SandboxResult *SandboxResult

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MarshalSandboxResult serializes the sandbox result for the final-report
// message, producing the JSON literal "null" when absent — the Open
// Question in SPEC_FULL.md is resolved this way consistently.
func (e *EmailEvent) MarshalSandboxResult() (json.RawMessage, error) {
	if e.SandboxResult == nil {
		return json.RawMessage("null"), nil
	}
	b, err := json.Marshal(e.SandboxResult)
	if err != nil {
		return nil, err
	}
	return b, nil
}
