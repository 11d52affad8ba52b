package intentworker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/store"
)

const (
	readCount = 10
	readBlock = 5 * time.Second
)

// Worker runs the consumer group GroupIntentWorkers over StreamIntentRequest,
// implementing spec.md §4.2's per-message algorithm.
type Worker struct {
	broker   broker.Broker
	events   store.EmailEventStore
	analyzer Analyzer
	consumer string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires a Worker. consumer must be unique per running process
// instance within GroupIntentWorkers (spec.md §4.2: "unique consumer names
// at startup").
func NewWorker(b broker.Broker, events store.EmailEventStore, analyzer Analyzer, consumer string) *Worker {
	if consumer == "" {
		consumer = "intent-worker-" + uuid.New().String()[:8]
	}
	return &Worker{broker: b, events: events, analyzer: analyzer, consumer: consumer}
}

// Start creates the consumer group if needed and begins consuming in a
// background goroutine. Call Stop to shut down gracefully.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.broker.EnsureGroup(ctx, broker.StreamIntentRequest, broker.GroupIntentWorkers); err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop cancels the consumer loop and waits for the in-flight message, if
// any, to finish.
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

		sets, err := w.broker.ReadGroup(w.ctx, broker.GroupIntentWorkers, w.consumer, []string{broker.StreamIntentRequest}, readCount, readBlock)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			logger.Error("intent worker read failed", "error", err)
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

// handle runs one message through spec.md §4.2 steps 3-8. It never returns
// an error to the caller: every outcome is either an ack (success) or a
// deliberate non-ack (so the broker redelivers until the TTL reaper cleans
// the job), matching the documented failure semantics.
func (w *Worker) handle(ctx context.Context, msg broker.Message) {
	req, err := broker.IntentRequestFromFields(msg.Values)
	if err != nil {
		// Poison payload: unparseable, and redelivery will never fix that.
		// Log and ack so it doesn't loop forever (spec.md §7).
		logger.Error("intent-request payload malformed, dropping", "error", err)
		_ = w.broker.Ack(ctx, broker.StreamIntentRequest, broker.GroupIntentWorkers, msg.ID)
		return
	}

	jobID := req.EmailID
	if _, err := uuid.Parse(jobID); err != nil {
		logger.Error("intent-request job_id is not a valid uuid, dropping", "job_id", jobID)
		_ = w.broker.Ack(ctx, broker.StreamIntentRequest, broker.GroupIntentWorkers, msg.ID)
		return
	}

	log := logger.ForJob(jobID)

	event, err := w.events.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrEmailEventNotFound) {
			// Persistence row missing: ack and log per spec.md §7, nothing
			// to retry against.
			log.Error("email event not found for intent-request, dropping")
			_ = w.broker.Ack(ctx, broker.StreamIntentRequest, broker.GroupIntentWorkers, msg.ID)
			return
		}
		log.Error("load email event failed, will redeliver", "error", err)
		return
	}

	intent, confidence, indicators, err := w.analyzer.Classify(ctx, req.Subject, req.Body)
	if err != nil {
		log.Error("intent analyzer failed, marking event failed", "error", err)
		if markErr := w.events.MarkFailed(ctx, jobID); markErr != nil {
			log.Error("mark event failed also failed", "error", markErr)
		}
		// Do not publish intent-done, do not ack.
		return
	}

	riskScore := DeriveRiskScore(intent, confidence)
	riskTier := domain.TierForScore(riskScore)

	if err := w.events.UpdateIntent(ctx, jobID, intent, confidence, indicators, riskScore, riskTier); err != nil {
		log.Error("persist intent classification failed, will redeliver", "error", err)
		return
	}

	done := broker.IntentDoneMessage{
		JobID:            jobID,
		Intent:           string(intent),
		RiskScore:        riskScore,
		RiskTier:         string(riskTier),
		IntentConfidence: confidence,
		IntentIndicators: indicators,
	}
	fields, err := done.ToFields()
	if err != nil {
		log.Error("marshal intent-done failed, will redeliver", "error", err)
		return
	}
	if _, err := w.broker.Publish(ctx, broker.StreamIntentDone, fields); err != nil {
		log.Error("publish intent-done failed, will redeliver", "error", err)
		return
	}

	if err := w.broker.Ack(ctx, broker.StreamIntentRequest, broker.GroupIntentWorkers, msg.ID); err != nil {
		log.Error("ack intent-request failed", "error", err)
		return
	}

	log.Info("intent classified", "intent", intent, "risk_score", riskScore, "risk_tier", riskTier, "event_status", event.Status)
}

// DeriveRiskScore implements spec.md §4.2's formula:
// round(base(intent) * confidence + 50 * (1 - confidence)).
func DeriveRiskScore(intent domain.Intent, confidence float64) int {
	base := float64(domain.BaseRisk(intent))
	raw := base*confidence + 50*(1-confidence)
	return int(raw + 0.5)
}
