package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/ignite/mailguard/internal/domain"
)

// PostgresEmailEventStore implements EmailEventStore against the
// email_events table via database/sql + lib/pq.
type PostgresEmailEventStore struct{ db *sql.DB }

// NewPostgresEmailEventStore wraps an existing *sql.DB pool.
func NewPostgresEmailEventStore(db *sql.DB) *PostgresEmailEventStore {
	return &PostgresEmailEventStore{db: db}
}

func (r *PostgresEmailEventStore) Create(ctx context.Context, e *domain.EmailEvent) error {
	attachments, err := json.Marshal(e.Attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	urls, err := json.Marshal(e.URLs)
	if err != nil {
		return fmt.Errorf("marshal urls: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO email_events
			(id, user_id, sender, recipient, subject, message_id, body_preview,
			 received_at, spf_status, dkim_status, dmarc_status, sender_ip,
			 attachments, urls, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
	`, e.ID, e.UserID, e.Sender, e.Recipient, e.Subject, e.MessageID, e.BodyPreview,
		e.ReceivedAt, e.SPFStatus, e.DKIMStatus, e.DMARCStatus, e.SenderIP,
		attachments, urls, e.Status)
	if err != nil {
		if isUniqueViolation(err, "email_events_message_id_key") {
			return ErrDuplicateMessageID
		}
		return fmt.Errorf("create email event: %w", err)
	}
	return nil
}

func (r *PostgresEmailEventStore) Get(ctx context.Context, id string) (*domain.EmailEvent, error) {
	return r.scanOne(ctx, `
		SELECT id, user_id, sender, recipient, subject, message_id, body_preview,
		       received_at, spf_status, dkim_status, dmarc_status, sender_ip,
		       attachments, urls, status,
		       COALESCE(intent, ''), intent_confidence, intent_indicators, intent_processed_at,
		       risk_score, COALESCE(risk_tier, ''), sandboxed, sandbox_result,
		       created_at, updated_at
		FROM email_events WHERE id = $1
	`, id)
}

func (r *PostgresEmailEventStore) FindByMessageID(ctx context.Context, messageID string) (*domain.EmailEvent, error) {
	return r.scanOne(ctx, `
		SELECT id, user_id, sender, recipient, subject, message_id, body_preview,
		       received_at, spf_status, dkim_status, dmarc_status, sender_ip,
		       attachments, urls, status,
		       COALESCE(intent, ''), intent_confidence, intent_indicators, intent_processed_at,
		       risk_score, COALESCE(risk_tier, ''), sandboxed, sandbox_result,
		       created_at, updated_at
		FROM email_events WHERE message_id = $1
	`, messageID)
}

func (r *PostgresEmailEventStore) scanOne(ctx context.Context, query string, arg string) (*domain.EmailEvent, error) {
	e := &domain.EmailEvent{}
	var attachments, urls, indicators []byte
	var sandboxResult []byte
	var intent string

	row := r.db.QueryRowContext(ctx, query, arg)
	err := row.Scan(
		&e.ID, &e.UserID, &e.Sender, &e.Recipient, &e.Subject, &e.MessageID, &e.BodyPreview,
		&e.ReceivedAt, &e.SPFStatus, &e.DKIMStatus, &e.DMARCStatus, &e.SenderIP,
		&attachments, &urls, &e.Status,
		&intent, &e.IntentConfidence, &indicators, &e.IntentProcessedAt,
		&e.RiskScore, &e.RiskTier, &e.Sandboxed, &sandboxResult,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrEmailEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan email event: %w", err)
	}

	if intent != "" {
		e.Intent = domain.Intent(intent)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &e.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &e.URLs); err != nil {
			return nil, fmt.Errorf("unmarshal urls: %w", err)
		}
	}
	if len(indicators) > 0 {
		if err := json.Unmarshal(indicators, &e.IntentIndicators); err != nil {
			return nil, fmt.Errorf("unmarshal intent indicators: %w", err)
		}
	}
	if len(sandboxResult) > 0 {
		var sr domain.SandboxResult
		if err := json.Unmarshal(sandboxResult, &sr); err != nil {
			return nil, fmt.Errorf("unmarshal sandbox result: %w", err)
		}
		e.SandboxResult = &sr
	}
	return e, nil
}

func (r *PostgresEmailEventStore) UpdateIntent(ctx context.Context, id string, intent domain.Intent, confidence float64, indicators []string, riskScore int, riskTier domain.RiskTier) error {
	raw, err := json.Marshal(indicators)
	if err != nil {
		return fmt.Errorf("marshal intent indicators: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_events
		SET intent = $1, intent_confidence = $2, intent_indicators = $3,
		    intent_processed_at = NOW(), risk_score = $4, risk_tier = $5, updated_at = NOW()
		WHERE id = $6
	`, string(intent), confidence, raw, riskScore, string(riskTier), id)
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	return requireRowsAffected(res, ErrEmailEventNotFound)
}

func (r *PostgresEmailEventStore) UpdateSandbox(ctx context.Context, id string, result domain.SandboxResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal sandbox result: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_events
		SET sandboxed = true, sandbox_result = $1, updated_at = NOW()
		WHERE id = $2
	`, raw, id)
	if err != nil {
		return fmt.Errorf("update sandbox: %w", err)
	}
	return requireRowsAffected(res, ErrEmailEventNotFound)
}

func (r *PostgresEmailEventStore) Finalize(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_events SET status = $1, updated_at = NOW() WHERE id = $2
	`, domain.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("finalize email event: %w", err)
	}
	return requireRowsAffected(res, ErrEmailEventNotFound)
}

func (r *PostgresEmailEventStore) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_events SET status = $1, updated_at = NOW() WHERE id = $2
	`, domain.StatusFailed, id)
	if err != nil {
		return fmt.Errorf("mark email event failed: %w", err)
	}
	return requireRowsAffected(res, ErrEmailEventNotFound)
}

func requireRowsAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !asPQError(err, &pqErr) {
		return false
	}
	return pqErr.Code == "23505" && strings.Contains(pqErr.Constraint, constraint)
}

func asPQError(err error, target **pq.Error) bool {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return false
	}
	*target = pqErr
	return true
}
