package analysisworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ignite/mailguard/internal/domain"
)

type urlReputationRequest struct {
	URLs []string `json:"urls"`
}

type urlReputationResponse struct {
	Verdict string `json:"verdict"` // malicious | safe | unknown
	Reason  string `json:"reason"`
}

// URLReputationAnalyzer calls a single-shot URL reputation/generative LLM
// endpoint, per spec.md §4.3's second built-in flavor. Concurrency is
// bounded by a semaphore (default size 2) and each call makes up to 3
// attempts with exponential backoff between them (1s, then 2s).
type URLReputationAnalyzer struct {
	client  *http.Client
	baseURL string
	sem     *semaphore.Weighted
}

// NewURLReputationAnalyzer wires a URLReputationAnalyzer against baseURL,
// which must expose POST /reputation. concurrency is the semaphore size
// (ANALYZER_SEMAPHORE in config; defaults to 2 if <= 0).
func NewURLReputationAnalyzer(client *http.Client, baseURL string, concurrency int64) *URLReputationAnalyzer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &URLReputationAnalyzer{client: client, baseURL: baseURL, sem: semaphore.NewWeighted(concurrency)}
}

// Analyze implements DynamicAnalyzer.
func (a *URLReputationAnalyzer) Analyze(ctx context.Context, target AnalysisTarget) (AnalysisOutcome, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return AnalysisOutcome{}, fmt.Errorf("acquire url-reputation semaphore: %w", err)
	}
	defer a.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return AnalysisOutcome{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := a.call(ctx, target.URLs)
		if err == nil {
			return AnalysisOutcome{
				Verdict:  normalizeURLVerdict(resp.Verdict),
				Score:    scoreForURLVerdict(resp.Verdict),
				Details:  resp.Reason,
				Provider: "url-reputation",
			}, nil
		}
		lastErr = err
	}

	return AnalysisOutcome{}, fmt.Errorf("url reputation call failed after 3 attempts: %w", lastErr)
}

func (a *URLReputationAnalyzer) call(ctx context.Context, urls []string) (urlReputationResponse, error) {
	body, err := json.Marshal(urlReputationRequest{URLs: urls})
	if err != nil {
		return urlReputationResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/reputation", bytes.NewReader(body))
	if err != nil {
		return urlReputationResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return urlReputationResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return urlReputationResponse{}, fmt.Errorf("url reputation endpoint returned status %d", resp.StatusCode)
	}

	var result urlReputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return urlReputationResponse{}, err
	}
	return result, nil
}

// normalizeURLVerdict maps the analyzer's own three-value vocabulary onto
// the shared taxonomy, per spec.md §4.3: "safe -> clean".
func normalizeURLVerdict(raw string) domain.Verdict {
	switch raw {
	case "malicious":
		return domain.VerdictMalicious
	case "safe":
		return domain.VerdictClean
	default:
		return domain.VerdictUnknown
	}
}

func scoreForURLVerdict(raw string) int {
	switch raw {
	case "malicious":
		return 90
	case "safe":
		return 0
	default:
		return 50
	}
}
