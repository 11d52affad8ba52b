// Package actionworker implements the Action Worker of spec.md §4.5: it
// consumes final-report, derives the action-layer verdict, and applies the
// corresponding provider label (optionally quarantining malicious mail).
package actionworker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/mailbox"
	"github.com/ignite/mailguard/internal/pkg/logger"
)

const (
	readCount           = 10
	readBlock           = 5 * time.Second
	defaultSemaphoreCap = 5
)

// Worker runs GroupActionWorkers over StreamJobCompleted.
type Worker struct {
	broker              broker.Broker
	provider            mailbox.Provider
	idem                Idempotency
	sem                 *semaphore.Weighted
	brand               string
	quarantineMalicious bool
	labelsEnsured       bool
	consumer            string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires a Worker. brand defaults to "Aegis" if empty;
// concurrency <= 0 defaults to defaultSemaphoreCap.
func NewWorker(b broker.Broker, provider mailbox.Provider, idem Idempotency, brand string, quarantineMalicious bool, concurrency int64, consumer string) *Worker {
	if brand == "" {
		brand = "Aegis"
	}
	if concurrency <= 0 {
		concurrency = defaultSemaphoreCap
	}
	if consumer == "" {
		consumer = "action-worker-" + uuid.New().String()[:8]
	}
	if idem == nil {
		idem = NewLRUIdempotency(0)
	}
	return &Worker{
		broker:              b,
		provider:            provider,
		idem:                idem,
		sem:                 semaphore.NewWeighted(concurrency),
		brand:               brand,
		quarantineMalicious: quarantineMalicious,
		consumer:            consumer,
	}
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.broker.EnsureGroup(ctx, broker.StreamJobCompleted, broker.GroupActionWorkers); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
	return nil
}

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

		sets, err := w.broker.ReadGroup(w.ctx, broker.GroupActionWorkers, w.consumer, []string{broker.StreamJobCompleted}, readCount, readBlock)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			logger.Error("action worker read failed", "error", err)
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
	report, err := broker.FinalReportFromFields(msg.Values)
	if err != nil {
		logger.Error("final-report payload malformed, dropping", "error", err)
		w.ack(ctx, msg.ID)
		return
	}

	jobID := report.JobID
	log := logger.ForJob(jobID)

	if w.idem.Seen(jobID) {
		log.Info("final-report already processed, acking duplicate delivery")
		w.ack(ctx, msg.ID)
		return
	}

	if err := w.sem.Acquire(ctx, 1); err != nil {
		log.Error("acquire provider semaphore failed", "error", err)
		return
	}
	defer w.sem.Release(1)

	if !w.labelsEnsured {
		if err := ensureBrandLabels(ctx, w.provider, w.brand); err != nil {
			log.Error("ensure brand labels failed, will redeliver", "error", err)
			return
		}
		w.labelsEnsured = true
	}

	verdict, err := verdictFromSandbox(report.Sandbox)
	if err != nil {
		log.Error("parse sandbox payload failed, dropping", "error", err)
		w.ack(ctx, msg.ID)
		return
	}

	if err := applyVerdictLabel(ctx, w.provider, report.MessageID, verdict, w.brand, w.quarantineMalicious); err != nil {
		if errors.Is(err, mailbox.ErrNotSupported) {
			log.Warn("provider does not support quarantine move, label still applied", "error", err)
		} else {
			log.Error("apply verdict label failed, will redeliver", "error", err)
			return
		}
	}

	w.idem.MarkSeen(jobID)
	w.ack(ctx, msg.ID)

	log.Info("action applied", "verdict", verdict, "message_id", report.MessageID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.broker.Ack(ctx, broker.StreamJobCompleted, broker.GroupActionWorkers, id); err != nil {
		logger.Error("ack final-report failed", "error", err)
	}
}

// verdictFromSandbox implements spec.md §4.5's verdict derivation: a "null"
// sandbox promotes to SAFE; otherwise the sandbox's own verdict is promoted
// (unknown -> suspicious -> CAUTIOUS) via domain.PromoteVerdict.
func verdictFromSandbox(sandbox json.RawMessage) (domain.ActionVerdict, error) {
	if len(sandbox) == 0 || string(sandbox) == "null" {
		return domain.PromoteVerdict(nil), nil
	}
	var result domain.SandboxResult
	if err := json.Unmarshal(sandbox, &result); err != nil {
		return "", fmt.Errorf("unmarshal sandbox result: %w", err)
	}
	v := domain.Verdict(result.Verdict)
	return domain.PromoteVerdict(&v), nil
}
