package intentworker

import (
	"context"
	"strings"

	"github.com/ignite/mailguard/internal/domain"
)

// MockAnalyzer is a deterministic keyword-rule Analyzer. It is the default
// when no Bedrock model is configured and is covered by its own table tests
// in mock_analyzer_test.go; the worker tests use their own stub analyzers.
type MockAnalyzer struct{}

// NewMockAnalyzer returns a ready-to-use MockAnalyzer.
func NewMockAnalyzer() *MockAnalyzer { return &MockAnalyzer{} }

type keywordRule struct {
	intent     domain.Intent
	confidence float64
	indicator  string
	keywords   []string
}

// rules are checked in order; the first match wins. The threat intents come
// before the business ones, so an email touching both kinds of keyword set
// is classified conservatively.
var rules = []keywordRule{
	{domain.IntentPhishing, 0.82, "credential-harvest-language", []string{"verify your account", "suspended", "reset your password", "click here to confirm", "unusual sign-in activity"}},
	{domain.IntentMalware, 0.8, "executable-lure", []string{"enable macros", "run the attached", "open the attachment to view"}},
	{domain.IntentBECFraud, 0.78, "wire-transfer-request", []string{"wire transfer", "urgent payment", "update banking details", "change of bank account"}},
	{domain.IntentSocialEngineering, 0.7, "urgency-authority-pressure", []string{"ceo", "confidential request", "do not tell anyone", "gift cards"}},
	{domain.IntentReconnaissance, 0.65, "org-probing-language", []string{"org chart", "who handles", "direct phone number for"}},
	{domain.IntentInvoice, 0.75, "invoice-keywords", []string{"invoice", "past due", "remittance"}},
	{domain.IntentPayment, 0.7, "payment-keywords", []string{"payment confirmation", "receipt attached", "purchase order"}},
	{domain.IntentMeetingRequest, 0.75, "calendar-keywords", []string{"schedule a call", "calendar invite", "are you available"}},
	{domain.IntentSupport, 0.7, "support-keywords", []string{"ticket #", "support request", "help desk"}},
	{domain.IntentNewsletter, 0.7, "newsletter-keywords", []string{"unsubscribe", "view in browser", "weekly digest"}},
	{domain.IntentSales, 0.6, "sales-keywords", []string{"book a demo", "special offer", "limited time discount"}},
	{domain.IntentFollowUp, 0.6, "follow-up-keywords", []string{"following up", "just checking in", "any update"}},
}

// Classify implements Analyzer. It lowercases subject+body and matches the
// first rule whose keyword set appears in the combined text; with no match
// it returns IntentUnknown at low confidence.
func (a *MockAnalyzer) Classify(_ context.Context, subject, body string) (domain.Intent, float64, []string, error) {
	text := strings.ToLower(subject + " " + body)

	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(text, kw) {
				return rule.intent, rule.confidence, []string{rule.indicator}, nil
			}
		}
	}

	return domain.IntentUnknown, 0.3, []string{"no-keyword-match"}, nil
}
