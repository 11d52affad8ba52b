// Package ingest implements the entry point of the pipeline: dedup,
// persistence, static risk-gate evaluation, and the fixed-order three
// message publish that hands an email off to the intent and (optionally)
// analysis tracks.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/riskgate"
	"github.com/ignite/mailguard/internal/store"
)

// ErrDuplicate is returned when the email's message_id has already been
// ingested. Not a failure — callers should treat it as "already queued."
var ErrDuplicate = errors.New("ingest: duplicate message_id")

const bodyPreviewLen = 280

// Producer is the Ingest Producer of spec.md §4.1.
type Producer struct {
	events store.EmailEventStore
	broker broker.Broker
}

// NewProducer wires a Producer to its store and broker dependencies.
func NewProducer(events store.EmailEventStore, b broker.Broker) *Producer {
	return &Producer{events: events, broker: b}
}

// Ingest runs the full producer algorithm for one already-parsed email on
// behalf of userID. Returns ErrDuplicate (wrapped) if the message was
// already ingested.
func (p *Producer) Ingest(ctx context.Context, userID string, email domain.StructuredEmail) (*domain.EmailEvent, error) {
	if existing, err := p.events.FindByMessageID(ctx, email.MessageID); err == nil {
		return existing, fmt.Errorf("%w: %s", ErrDuplicate, email.MessageID)
	} else if !errors.Is(err, store.ErrEmailEventNotFound) {
		return nil, fmt.Errorf("dedup check: %w", err)
	}

	jobID := uuid.New().String()
	gate := riskgate.Evaluate(email.Attachments, email.URLs)

	preview := email.BodyPreview
	if preview == "" {
		preview = truncate(email.Body, bodyPreviewLen)
	}

	event := &domain.EmailEvent{
		ID:          jobID,
		UserID:      userID,
		Sender:      email.Sender,
		Recipient:   email.Recipient,
		Subject:     email.Subject,
		MessageID:   email.MessageID,
		BodyPreview: preview,
		ReceivedAt:  email.ReceivedAt,
		SPFStatus:   email.SPFStatus,
		DKIMStatus:  email.DKIMStatus,
		DMARCStatus: email.DMARCStatus,
		SenderIP:    email.SenderIP,
		Attachments: email.Attachments,
		URLs:        email.URLs,
		Status:      domain.StatusProcessing,
		Sandboxed:   gate.RequiresSandbox,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := p.events.Create(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicateMessageID) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, email.MessageID)
		}
		return nil, fmt.Errorf("persist email event: %w", err)
	}

	log := logger.ForJob(jobID)
	log.Info("email event ingested", "requires_sandbox", gate.RequiresSandbox, "risk_gate_score", gate.Score, "risk_gate_reason", gate.Reason)

	if err := p.publishControl(ctx, jobID, gate.RequiresSandbox, event.CreatedAt); err != nil {
		return event, fmt.Errorf("publish control: %w", err)
	}
	if err := p.publishIntentRequest(ctx, jobID, email); err != nil {
		return event, fmt.Errorf("publish intent-request: %w", err)
	}
	if gate.RequiresSandbox {
		if err := p.publishAnalysisRequest(ctx, jobID, email); err != nil {
			return event, fmt.Errorf("publish analysis-request: %w", err)
		}
	}

	return event, nil
}

func (p *Producer) publishControl(ctx context.Context, jobID string, requiresB bool, createdAt time.Time) error {
	msg := broker.ControlMessage{JobID: jobID, RequiresB: requiresB, CreatedAt: createdAt}
	_, err := p.broker.Publish(ctx, broker.StreamJobControl, msg.ToFields())
	return err
}

func (p *Producer) publishIntentRequest(ctx context.Context, jobID string, email domain.StructuredEmail) error {
	msg := broker.IntentRequestMessage{EmailID: jobID, Subject: email.Subject, Body: email.Body}
	_, err := p.broker.Publish(ctx, broker.StreamIntentRequest, msg.ToFields())
	return err
}

func (p *Producer) publishAnalysisRequest(ctx context.Context, jobID string, email domain.StructuredEmail) error {
	attachments, err := json.Marshal(email.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachment metadata: %w", err)
	}
	msg := broker.AnalysisRequestMessage{
		EmailID:            jobID,
		MessageID:          email.MessageID,
		ExtractedURLs:      email.URLs,
		AttachmentMetadata: attachments,
	}
	fields, err := msg.ToFields()
	if err != nil {
		return err
	}
	_, err = p.broker.Publish(ctx, broker.StreamAnalysisRequest, fields)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
