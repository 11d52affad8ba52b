package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/pkg/logger"
	"github.com/ignite/mailguard/internal/store"
)

const (
	readCount = 10
	readBlock = 5 * time.Second
)

var aggregatedStreams = []string{broker.StreamJobControl, broker.StreamIntentDone, broker.StreamAnalysisDone}

// Worker runs GroupAggregatorWorkers over the three streams spec.md §4.4
// joins: control, intent-done, and analysis-done. It is the sole writer of
// EmailEvent.status=COMPLETED and the sole publisher of final-report.
type Worker struct {
	broker   broker.Broker
	events   store.EmailEventStore
	states   store.JobStateStore
	consumer string
	reaper   *Reaper

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker wires a Worker. reaper may be nil to disable the periodic TTL
// sweep (tests exercise handlers directly without one).
func NewWorker(b broker.Broker, events store.EmailEventStore, states store.JobStateStore, reaper *Reaper, consumer string) *Worker {
	if consumer == "" {
		consumer = "aggregator-" + uuid.New().String()[:8]
	}
	return &Worker{broker: b, events: events, states: states, reaper: reaper, consumer: consumer}
}

// Start creates the consumer group on each of the three streams, then begins
// consuming and (if configured) sweeping in background goroutines.
func (w *Worker) Start(ctx context.Context) error {
	for _, stream := range aggregatedStreams {
		if err := w.broker.EnsureGroup(ctx, stream, broker.GroupAggregatorWorkers); err != nil {
			return fmt.Errorf("ensure group on %s: %w", stream, err)
		}
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop()

	if w.reaper != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.reaper.Run(w.ctx)
		}()
	}
	return nil
}

// Stop cancels the consumer and reaper loops and waits for both to exit.
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

		sets, err := w.broker.ReadGroup(w.ctx, broker.GroupAggregatorWorkers, w.consumer, aggregatedStreams, readCount, readBlock)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			logger.Error("aggregator read failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, set := range sets {
			for _, msg := range set.Messages {
				w.dispatch(w.ctx, msg)
			}
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, msg broker.Message) {
	switch msg.Stream {
	case broker.StreamJobControl:
		w.handleControl(ctx, msg)
	case broker.StreamIntentDone:
		w.handleIntentDone(ctx, msg)
	case broker.StreamAnalysisDone:
		w.handleAnalysisDone(ctx, msg)
	default:
		logger.Error("aggregator received message on unexpected stream, dropping", "stream", msg.Stream)
		w.ackOwn(ctx, msg)
	}
}
