// Package riskgate implements the static, deterministic risk gate the
// Ingest Producer runs over an email's attachments and URLs before
// deciding whether a job needs dynamic (sandbox) analysis.
package riskgate

import (
	"fmt"
	"strings"

	"github.com/ignite/mailguard/internal/domain"
)

// dangerousExtensions are file extensions that, on their own, force dynamic
// analysis.
var dangerousExtensions = map[string]bool{
	"exe": true, "scr": true, "vbs": true, "js": true,
	"bat": true, "iso": true, "dll": true, "ps1": true,
}

const zipMimeType = "application/zip"

// Result is the outcome of evaluating one email's static risk gate.
type Result struct {
	RequiresSandbox bool
	Reason          string
	Score           int
}

// Evaluate is a pure function over an email's attachments and URLs. It
// never performs I/O and never errors; any unrecognized extension/MIME
// simply contributes nothing to the score.
func Evaluate(attachments []domain.Attachment, urls []string) Result {
	score := 0
	var reasons []string

	for _, a := range attachments {
		ext := strings.ToLower(strings.TrimPrefix(extOf(a.Filename), "."))
		if dangerousExtensions[ext] {
			score += 70
			reasons = append(reasons, fmt.Sprintf("dangerous attachment extension .%s", ext))
		}
		if strings.EqualFold(a.MimeType, zipMimeType) {
			score += 30
			reasons = append(reasons, "zip attachment")
		}
	}

	if len(urls) > 0 {
		score += 5
		reasons = append(reasons, "contains URLs")
		if len(urls) > 3 {
			score += 20
			reasons = append(reasons, fmt.Sprintf("%d URLs exceeds threshold", len(urls)))
		}
	}

	if score > 100 {
		score = 100
	}

	requiresSandbox := false
	for _, a := range attachments {
		ext := strings.ToLower(strings.TrimPrefix(extOf(a.Filename), "."))
		if dangerousExtensions[ext] || strings.EqualFold(a.MimeType, zipMimeType) {
			requiresSandbox = true
		}
	}
	if len(urls) > 3 {
		requiresSandbox = true
	}
	if score > 50 {
		requiresSandbox = true
		reasons = append(reasons, "score exceeds safety-net threshold")
	}

	reason := "no risk signals"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}

	return Result{RequiresSandbox: requiresSandbox, Reason: reason, Score: score}
}

func extOf(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return filename[idx+1:]
}
