// Package aggregator is the join point of the pipeline: it consumes the
// control, intent-done, and analysis-done streams under one consumer group,
// tracks per-job completion in a TTL-bounded state, and emits exactly one
// final-report per job (spec.md §4.4).
package aggregator

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/store"
)

var jsonNull = json.RawMessage("null")

// handleControl implements spec.md §4.4's control handler: create state if
// absent, otherwise leave existing fields untouched (idempotent beyond TTL
// refresh).
func (w *Worker) handleControl(ctx context.Context, msg broker.Message) {
	ctrl, err := broker.ControlFromFields(msg.Values)
	if err != nil {
		logger.Error("control payload malformed, dropping", "error", err)
		w.ackOwn(ctx, msg)
		return
	}

	log := logger.ForJob(ctrl.JobID)
	if _, err := w.states.EnsureCreated(ctx, ctrl.JobID, ctrl.RequiresB); err != nil {
		log.Error("create job state from control failed, will redeliver", "error", err)
		return
	}
	w.ackOwn(ctx, msg)
}

// handleIntentDone implements the intent-done branch: synthesize state with
// requiresB=false on out-of-order arrival, store the payload, mark the
// branch received, and finalize if the completion predicate now holds.
func (w *Worker) handleIntentDone(ctx context.Context, msg broker.Message) {
	done, err := broker.IntentDoneFromFields(msg.Values)
	if err != nil {
		logger.Error("intent-done payload malformed, dropping", "error", err)
		w.ackOwn(ctx, msg)
		return
	}

	log := logger.ForJob(done.JobID)
	if _, err := w.states.EnsureCreated(ctx, done.JobID, false); err != nil {
		log.Error("ensure job state for intent-done failed, will redeliver", "error", err)
		return
	}

	payload, err := json.Marshal(msg.Values)
	if err != nil {
		log.Error("marshal intent-done payload failed, will redeliver", "error", err)
		return
	}
	if err := w.states.SetIntentReceived(ctx, done.JobID, payload); err != nil {
		log.Error("set intent received failed, will redeliver", "error", err)
		return
	}
	w.ackOwn(ctx, msg)

	w.checkCompletion(ctx, log, done.JobID)
}

// handleAnalysisDone is the symmetric sandbox branch; out-of-order
// synthesis defaults requiresB=true, since the analyzer having run at all
// means sandboxing was required.
func (w *Worker) handleAnalysisDone(ctx context.Context, msg broker.Message) {
	done, err := broker.AnalysisDoneFromFields(msg.Values)
	if err != nil {
		logger.Error("analysis-done payload malformed, dropping", "error", err)
		w.ackOwn(ctx, msg)
		return
	}

	log := logger.ForJob(done.JobID)
	if _, err := w.states.EnsureCreated(ctx, done.JobID, true); err != nil {
		log.Error("ensure job state for analysis-done failed, will redeliver", "error", err)
		return
	}

	payload, err := json.Marshal(msg.Values)
	if err != nil {
		log.Error("marshal analysis-done payload failed, will redeliver", "error", err)
		return
	}
	if err := w.states.SetSandboxReceived(ctx, done.JobID, payload); err != nil {
		log.Error("set sandbox received failed, will redeliver", "error", err)
		return
	}
	w.ackOwn(ctx, msg)

	w.checkCompletion(ctx, log, done.JobID)
}

// checkCompletion reloads state after a branch update and finalizes the job
// if intent_received ∧ (¬requiresB ∨ sandbox_received).
func (w *Worker) checkCompletion(ctx context.Context, log *logger.JobLogger, jobID string) {
	state, err := w.states.Get(ctx, jobID)
	if err != nil {
		log.Error("reload job state for completion check failed", "error", err)
		return
	}
	if !state.Complete() {
		return
	}
	w.finalize(ctx, log, jobID, state)
}

// finalize implements spec.md §4.4's finalization: load the EmailEvent,
// mark it COMPLETED, publish final-report, and delete the ephemeral state.
// A missing EmailEvent aborts finalization without deleting state, so an
// operator can investigate; state is left for the reaper otherwise.
func (w *Worker) finalize(ctx context.Context, log *logger.JobLogger, jobID string, state *domain.JobState) {
	event, err := w.events.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrEmailEventNotFound) {
			log.Error("finalization row missing, leaving state for investigation")
			return
		}
		log.Error("load email event for finalization failed", "error", err)
		return
	}

	if err := w.events.Finalize(ctx, jobID); err != nil {
		log.Error("finalize email event failed, will retry on next completion check", "error", err)
		return
	}

	sandbox := state.Sandbox
	if sandbox == nil {
		sandbox = jsonNull
	}
	report := broker.FinalReportMessage{
		JobID:     jobID,
		MessageID: event.MessageID,
		Intent:    state.Intent,
		Sandbox:   sandbox,
	}
	if _, err := w.broker.Publish(ctx, broker.StreamJobCompleted, report.ToFields()); err != nil {
		log.Error("publish final-report failed, will retry on next completion check", "error", err)
		return
	}

	if err := w.states.Delete(ctx, jobID); err != nil {
		log.Error("delete job state after finalization failed", "error", err)
		return
	}

	log.Info("job finalized", "message_id", event.MessageID)
}

// ackOwn acknowledges msg on its own stream within GroupAggregatorWorkers.
func (w *Worker) ackOwn(ctx context.Context, msg broker.Message) {
	if err := w.broker.Ack(ctx, msg.Stream, broker.GroupAggregatorWorkers, msg.ID); err != nil {
		logger.Error("ack failed", "stream", msg.Stream, "error", err)
	}
}
