package analysisworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/pkg/httpretry"
)

// sandbox polling schedule per spec.md §4.3: 30s, then 60s up to 9 more
// times, bounded to ~10 minutes total.
var pollSchedule = buildPollSchedule()

func buildPollSchedule() []time.Duration {
	sched := []time.Duration{30 * time.Second}
	for i := 0; i < 9; i++ {
		sched = append(sched, 60*time.Second)
	}
	return sched
}

type sandboxSubmitResponse struct {
	ReportID string `json:"report_id"`
}

type sandboxReportResponse struct {
	Status   string `json:"status"` // "pending" | "completed"
	Verdict  string `json:"verdict"`
	Score    int    `json:"score"`
	Details  string `json:"details"`
}

// SandboxAnalyzer submits an attachment or URL to an external sandbox
// service and polls for its report, per spec.md §4.3's external-sandbox
// flavor.
type SandboxAnalyzer struct {
	client  *httpretry.RetryClient
	baseURL string
}

// NewSandboxAnalyzer wires a SandboxAnalyzer against baseURL, which must
// expose POST /submit and GET /report/{id}.
func NewSandboxAnalyzer(client httpretry.HTTPDoer, baseURL string) *SandboxAnalyzer {
	return &SandboxAnalyzer{client: httpretry.NewRetryClient(client, 3), baseURL: baseURL}
}

// Analyze implements DynamicAnalyzer.
func (a *SandboxAnalyzer) Analyze(ctx context.Context, target AnalysisTarget) (AnalysisOutcome, error) {
	reportID, err := a.submit(ctx, target)
	if err != nil {
		return AnalysisOutcome{}, fmt.Errorf("sandbox submit: %w", err)
	}

	deadline := time.Now().Add(10 * time.Minute)
	for _, wait := range pollSchedule {
		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return AnalysisOutcome{}, ctx.Err()
		case <-time.After(wait):
		}

		report, err := a.poll(ctx, reportID)
		if err != nil {
			return AnalysisOutcome{}, fmt.Errorf("sandbox poll: %w", err)
		}
		if report.Status == "completed" {
			return AnalysisOutcome{
				Verdict:  normalizeVerdict(report.Verdict),
				Score:    report.Score,
				Details:  report.Details,
				Provider: "sandbox",
			}, nil
		}
	}

	return AnalysisOutcome{Verdict: domain.VerdictUnknown, Score: 50, Details: "sandbox report did not complete within the polling window", Provider: "sandbox", TimedOut: true}, nil
}

func (a *SandboxAnalyzer) submit(ctx context.Context, target AnalysisTarget) (string, error) {
	body, err := json.Marshal(target)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/submit", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sandbox submit returned status %d", resp.StatusCode)
	}

	var submitResp sandboxSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return "", err
	}
	return submitResp.ReportID, nil
}

func (a *SandboxAnalyzer) poll(ctx context.Context, reportID string) (sandboxReportResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/report/"+reportID, nil)
	if err != nil {
		return sandboxReportResponse{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return sandboxReportResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return sandboxReportResponse{}, fmt.Errorf("sandbox report returned status %d", resp.StatusCode)
	}

	var report sandboxReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return sandboxReportResponse{}, err
	}
	return report, nil
}

// normalizeVerdict maps a provider's raw verdict string onto the taxonomy.
// An unrecognized value is treated as unknown rather than silently clean.
func normalizeVerdict(raw string) domain.Verdict {
	switch domain.Verdict(raw) {
	case domain.VerdictMalicious, domain.VerdictSuspicious, domain.VerdictClean:
		return domain.Verdict(raw)
	default:
		return domain.VerdictUnknown
	}
}
