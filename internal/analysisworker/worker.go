package analysisworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/mailbox"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/store"
)

const (
	readCount  = 10
	readBlock  = 5 * time.Second
	maxURLScan = 10
)

// dangerousExtensions mirrors internal/riskgate's set: these are the
// attachments worth fetching and scanning over the (cheaper) URL fallback.
var dangerousExtensions = map[string]bool{
	"exe": true, "scr": true, "vbs": true, "js": true,
	"bat": true, "iso": true, "dll": true, "ps1": true,
}

// Worker runs the consumer group GroupAnalysisWorkers over
// StreamAnalysisRequest, implementing spec.md §4.3's per-message algorithm.
type Worker struct {
	broker   broker.Broker
	events   store.EmailEventStore
	analyzer DynamicAnalyzer
	provider mailbox.Provider   // optional: nil means URL-only fallback
	fetcher  *AttachmentFetcher // optional: when set, stages to S3 instead of inlining bytes
	consumer string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires a Worker. provider may be nil, in which case the worker
// always falls back to URL analysis (spec.md §4.3 step 2).
func NewWorker(b broker.Broker, events store.EmailEventStore, analyzer DynamicAnalyzer, provider mailbox.Provider, consumer string) *Worker {
	if consumer == "" {
		consumer = "analysis-worker-" + uuid.New().String()[:8]
	}
	return &Worker{broker: b, events: events, analyzer: analyzer, provider: provider, consumer: consumer}
}

// WithAttachmentFetcher enables S3 staging of risky attachments instead of
// inlining their bytes into the AnalysisTarget passed to the analyzer.
func (w *Worker) WithAttachmentFetcher(f *AttachmentFetcher) *Worker {
	w.fetcher = f
	return w
}

// Start creates the consumer group if needed and begins consuming.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.broker.EnsureGroup(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop cancels the consumer loop and waits for the in-flight message.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		sets, err := w.broker.ReadGroup(w.ctx, broker.GroupAnalysisWorkers, w.consumer, []string{broker.StreamAnalysisRequest}, readCount, readBlock)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			logger.Error("analysis worker read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, set := range sets {
			for _, msg := range set.Messages {
				w.handle(w.ctx, msg)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg broker.Message) {
	req, err := broker.AnalysisRequestFromFields(msg.Values)
	if err != nil {
		logger.Error("analysis-request payload malformed, dropping", "error", err)
		_ = w.broker.Ack(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers, msg.ID)
		return
	}

	jobID := req.EmailID
	if _, err := uuid.Parse(jobID); err != nil {
		logger.Error("analysis-request job_id is not a valid uuid, dropping", "job_id", jobID)
		_ = w.broker.Ack(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers, msg.ID)
		return
	}

	log := logger.ForJob(jobID)

	if _, err := w.events.Get(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrEmailEventNotFound) {
			log.Error("email event not found for analysis-request, dropping")
			_ = w.broker.Ack(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers, msg.ID)
			return
		}
		log.Error("load email event failed, will redeliver", "error", err)
		return
	}

	var attachments []domain.Attachment
	if len(req.AttachmentMetadata) > 0 {
		if err := json.Unmarshal(req.AttachmentMetadata, &attachments); err != nil {
			log.Error("attachment metadata malformed, dropping", "error", err)
			_ = w.broker.Ack(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers, msg.ID)
			return
		}
	}

	outcome := w.analyze(ctx, log, req.MessageID, attachments, req.ExtractedURLs)

	if err := w.events.UpdateSandbox(ctx, jobID, outcome.toSandboxResult()); err != nil {
		log.Error("persist sandbox result failed, will redeliver", "error", err)
		return
	}

	resultJSON, err := outcome.marshalSandboxResult()
	if err != nil {
		log.Error("marshal sandbox result failed, will redeliver", "error", err)
		return
	}
	done := broker.AnalysisDoneMessage{
		JobID:         jobID,
		Verdict:       string(outcome.Verdict),
		SandboxScore:  outcome.Score,
		SandboxResult: resultJSON,
	}
	if _, err := w.broker.Publish(ctx, broker.StreamAnalysisDone, done.ToFields()); err != nil {
		log.Error("publish analysis-done failed, will redeliver", "error", err)
		return
	}

	if err := w.broker.Ack(ctx, broker.StreamAnalysisRequest, broker.GroupAnalysisWorkers, msg.ID); err != nil {
		log.Error("ack analysis-request failed", "error", err)
		return
	}

	log.Info("analysis complete", "verdict", outcome.Verdict, "score", outcome.Score, "provider", outcome.Provider, "timed_out", outcome.TimedOut)
}

// analyze implements spec.md §4.3 step 2-4: prefer a fetchable risky
// attachment, fall back to URL analysis over the first maxURLScan URLs, and
// fall back further to a "no scannable content" clean verdict if neither
// target exists. Analyzer errors/timeouts are normalized conservatively
// rather than propagated, since the worker must always persist and publish
// something for the aggregator to join against.
func (w *Worker) analyze(ctx context.Context, log *logger.JobLogger, messageID string, attachments []domain.Attachment, urls []string) AnalysisOutcome {
	target, ok := w.selectTarget(ctx, log, messageID, attachments, urls)
	if !ok {
		return AnalysisOutcome{Verdict: domain.VerdictClean, Score: 0, Details: "No scannable content", Provider: "none"}
	}

	outcome, err := w.analyzer.Analyze(ctx, target)
	if err != nil {
		log.Warn("dynamic analyzer failed, emitting conservative verdict", "error", err)
		return AnalysisOutcome{Verdict: domain.VerdictUnknown, Score: 50, Details: err.Error(), Provider: "unknown", TimedOut: errors.Is(err, context.DeadlineExceeded)}
	}
	return outcome
}

// selectTarget picks what to hand to the DynamicAnalyzer. Attachment scan
// wins when the worker has a provider that can fetch attachment content and
// at least one attachment is risky (a dangerous extension or an
// application/zip MIME type); otherwise URL
// analysis runs over the first maxURLScan URLs.
func (w *Worker) selectTarget(ctx context.Context, log *logger.JobLogger, messageID string, attachments []domain.Attachment, urls []string) (AnalysisTarget, bool) {
	if w.provider != nil {
		for _, a := range attachments {
			if !isRiskyAttachment(a) {
				continue
			}

			if w.fetcher != nil {
				key, err := w.fetcher.Stage(ctx, messageID, a.AttachmentID)
				if err != nil {
					if !errors.Is(err, mailbox.ErrNotSupported) {
						log.Warn("attachment stage failed, falling back", "attachment_id", a.AttachmentID, "error", err)
					}
					continue
				}
				return AnalysisTarget{MessageID: messageID, Attachments: []domain.Attachment{a}, StagedObjectKey: key}, true
			}

			content, err := w.provider.FetchAttachmentContent(ctx, messageID, a.AttachmentID)
			if err != nil {
				if !errors.Is(err, mailbox.ErrNotSupported) {
					log.Warn("attachment fetch failed, falling back", "attachment_id", a.AttachmentID, "error", err)
				}
				continue
			}
			return AnalysisTarget{MessageID: messageID, Attachments: []domain.Attachment{a}, AttachmentContent: content}, true
		}
	}

	if len(urls) > 0 {
		scan := urls
		if len(scan) > maxURLScan {
			scan = scan[:maxURLScan]
		}
		return AnalysisTarget{MessageID: messageID, URLs: scan}, true
	}

	return AnalysisTarget{}, false
}

func isRiskyAttachment(a domain.Attachment) bool {
	ext := extOf(a.Filename)
	return dangerousExtensions[ext] || a.MimeType == "application/zip"
}

func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
