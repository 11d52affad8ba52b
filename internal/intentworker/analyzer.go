// Package intentworker implements the Intent Worker of spec.md §4.2: it
// consumes intent-request messages, classifies subject+body into the
// taxonomy, derives a risk score, persists the result, and publishes
// intent-done.
package intentworker

import (
	"context"

	"github.com/ignite/mailguard/internal/domain"
)

// Analyzer classifies an email's subject and body into the taxonomy, per
// SPEC_FULL.md §6's classify(subject, body) -> {intent, confidence,
// indicators} contract. confidence is in [0,1]; indicators are free-form
// tags explaining the classification.
type Analyzer interface {
	Classify(ctx context.Context, subject, body string) (intent domain.Intent, confidence float64, indicators []string, err error)
}
