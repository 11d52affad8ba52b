package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Typed per-stream message structs with flat-string (de)serializers. The
// wire format stays flat and string-keyed to remain broker-native; only the
// in-process boundary is typed (SPEC_FULL.md §9, "dynamic dict payloads").

// ControlMessage is published to StreamJobControl by the Ingest Producer.
type ControlMessage struct {
	JobID     string
	RequiresB bool
	CreatedAt time.Time
}

func (m ControlMessage) ToFields() Fields {
	return Fields{
		"job_id":     m.JobID,
		"requiresB":  strconv.FormatBool(m.RequiresB),
		"created_at": m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ControlFromFields(f Fields) (ControlMessage, error) {
	var m ControlMessage
	m.JobID = f["job_id"]
	if m.JobID == "" {
		return m, fmt.Errorf("control message missing job_id")
	}
	m.RequiresB, _ = strconv.ParseBool(f["requiresB"])
	if ts := f["created_at"]; ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return m, fmt.Errorf("parse created_at: %w", err)
		}
		m.CreatedAt = t
	} else {
		m.CreatedAt = time.Now().UTC()
	}
	return m, nil
}

// IntentRequestMessage is published to StreamIntentRequest.
type IntentRequestMessage struct {
	EmailID string
	Subject string
	Body    string
}

func (m IntentRequestMessage) ToFields() Fields {
	return Fields{"email_id": m.EmailID, "subject": m.Subject, "body": m.Body}
}

func IntentRequestFromFields(f Fields) (IntentRequestMessage, error) {
	m := IntentRequestMessage{EmailID: f["email_id"], Subject: f["subject"], Body: f["body"]}
	if m.EmailID == "" {
		return m, fmt.Errorf("intent-request missing email_id")
	}
	return m, nil
}

// IntentDoneMessage is published to StreamIntentDone by the Intent Worker.
type IntentDoneMessage struct {
	JobID            string
	Intent           string
	RiskScore        int
	RiskTier         string
	IntentConfidence float64
	IntentIndicators []string
}

func (m IntentDoneMessage) ToFields() (Fields, error) {
	indicators, err := json.Marshal(m.IntentIndicators)
	if err != nil {
		return nil, err
	}
	return Fields{
		"job_id":             m.JobID,
		"intent":             m.Intent,
		"risk_score":         strconv.Itoa(m.RiskScore),
		"risk_tier":          m.RiskTier,
		"intent_confidence":  strconv.FormatFloat(m.IntentConfidence, 'f', -1, 64),
		"intent_indicators":  string(indicators),
	}, nil
}

func IntentDoneFromFields(f Fields) (IntentDoneMessage, error) {
	var m IntentDoneMessage
	m.JobID = f["job_id"]
	if m.JobID == "" {
		return m, fmt.Errorf("intent-done missing job_id")
	}
	m.Intent = f["intent"]
	m.RiskScore, _ = strconv.Atoi(f["risk_score"])
	m.RiskTier = f["risk_tier"]
	m.IntentConfidence, _ = strconv.ParseFloat(f["intent_confidence"], 64)
	if raw := f["intent_indicators"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.IntentIndicators); err != nil {
			return m, fmt.Errorf("parse intent_indicators: %w", err)
		}
	}
	return m, nil
}

// AnalysisRequestMessage is published to StreamAnalysisRequest.
type AnalysisRequestMessage struct {
	EmailID              string
	MessageID            string
	ExtractedURLs        []string
	AttachmentMetadata   json.RawMessage
}

func (m AnalysisRequestMessage) ToFields() (Fields, error) {
	urls, err := json.Marshal(m.ExtractedURLs)
	if err != nil {
		return nil, err
	}
	attachments := m.AttachmentMetadata
	if attachments == nil {
		attachments = json.RawMessage("[]")
	}
	return Fields{
		"email_id":            m.EmailID,
		"message_id":          m.MessageID,
		"extracted_urls":      string(urls),
		"attachment_metadata": string(attachments),
	}, nil
}

func AnalysisRequestFromFields(f Fields) (AnalysisRequestMessage, error) {
	var m AnalysisRequestMessage
	m.EmailID = f["email_id"]
	if m.EmailID == "" {
		return m, fmt.Errorf("analysis-request missing email_id")
	}
	m.MessageID = f["message_id"]
	if raw := f["extracted_urls"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.ExtractedURLs); err != nil {
			return m, fmt.Errorf("parse extracted_urls: %w", err)
		}
	}
	m.AttachmentMetadata = json.RawMessage(f["attachment_metadata"])
	return m, nil
}

// AnalysisDoneMessage is published to StreamAnalysisDone by the Analysis
// Worker.
type AnalysisDoneMessage struct {
	JobID         string
	Verdict       string
	SandboxScore  int
	SandboxResult json.RawMessage
}

func (m AnalysisDoneMessage) ToFields() Fields {
	return Fields{
		"job_id":         m.JobID,
		"verdict":        m.Verdict,
		"sandbox_score":  strconv.Itoa(m.SandboxScore),
		"sandbox_result": string(m.SandboxResult),
	}
}

func AnalysisDoneFromFields(f Fields) (AnalysisDoneMessage, error) {
	var m AnalysisDoneMessage
	m.JobID = f["job_id"]
	if m.JobID == "" {
		return m, fmt.Errorf("analysis-done missing job_id")
	}
	m.Verdict = f["verdict"]
	m.SandboxScore, _ = strconv.Atoi(f["sandbox_score"])
	m.SandboxResult = json.RawMessage(f["sandbox_result"])
	return m, nil
}

// FinalReportMessage is published to StreamJobCompleted by the Aggregator.
type FinalReportMessage struct {
	JobID     string
	MessageID string
	Intent    json.RawMessage
	Sandbox   json.RawMessage
}

func (m FinalReportMessage) ToFields() Fields {
	sandbox := m.Sandbox
	if sandbox == nil {
		sandbox = json.RawMessage("null")
	}
	return Fields{
		"job_id":     m.JobID,
		"message_id": m.MessageID,
		"intent":     string(m.Intent),
		"sandbox":    string(sandbox),
	}
}

func FinalReportFromFields(f Fields) (FinalReportMessage, error) {
	var m FinalReportMessage
	m.JobID = f["job_id"]
	if m.JobID == "" {
		return m, fmt.Errorf("final-report missing job_id")
	}
	m.MessageID = f["message_id"]
	m.Intent = json.RawMessage(f["intent"])
	m.Sandbox = json.RawMessage(f["sandbox"])
	return m, nil
}
