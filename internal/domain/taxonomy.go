package domain

// Intent is a taxonomy tag assigned by the intent analyzer.
type Intent string

const (
	IntentPhishing         Intent = "phishing"
	IntentMalware          Intent = "malware"
	IntentSocialEngineering Intent = "social-engineering"
	IntentBECFraud         Intent = "bec-fraud"
	IntentReconnaissance   Intent = "reconnaissance"
	IntentSpam             Intent = "spam"
	IntentInvoice          Intent = "invoice"
	IntentPayment          Intent = "payment"
	IntentSales            Intent = "sales"
	IntentMeetingRequest   Intent = "meeting-request"
	IntentTaskRequest      Intent = "task-request"
	IntentFollowUp         Intent = "follow-up"
	IntentSupport          Intent = "support"
	IntentNewsletter       Intent = "newsletter"
	IntentPersonal         Intent = "personal"
	IntentUnknown          Intent = "unknown"
)

// baseRisk maps each taxonomy tag to its base risk contribution, per
// spec.md §4.2.
var baseRisk = map[Intent]int{
	IntentPhishing:          95,
	IntentMalware:           98,
	IntentSocialEngineering: 90,
	IntentBECFraud:          95,
	IntentReconnaissance:    75,
	IntentSpam:              60,
	IntentInvoice:           40,
	IntentPayment:           45,
	IntentSales:             30,
	IntentMeetingRequest:    15,
	IntentTaskRequest:       15,
	IntentFollowUp:          10,
	IntentSupport:           20,
	IntentNewsletter:        25,
	IntentPersonal:          10,
	IntentUnknown:           50,
}

// BaseRisk returns the base risk contribution for an intent tag. Unknown or
// malformed tags fall back to IntentUnknown's base (50), matching the
// analyzer's own fallback behavior.
func BaseRisk(intent Intent) int {
	if v, ok := baseRisk[intent]; ok {
		return v
	}
	return baseRisk[IntentUnknown]
}

// ValidIntent reports whether s names a taxonomy tag.
func ValidIntent(s string) bool {
	_, ok := baseRisk[Intent(s)]
	return ok
}
