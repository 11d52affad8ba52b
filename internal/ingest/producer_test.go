package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/store"
)

type fakeEventStore struct {
	mu       sync.Mutex
	byID     map[string]*domain.EmailEvent
	byMsgID  map[string]*domain.EmailEvent
	createFn func(*domain.EmailEvent) error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{byID: map[string]*domain.EmailEvent{}, byMsgID: map[string]*domain.EmailEvent{}}
}

func (f *fakeEventStore) Create(_ context.Context, e *domain.EmailEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createFn != nil {
		if err := f.createFn(e); err != nil {
			return err
		}
	}
	if _, exists := f.byMsgID[e.MessageID]; exists {
		return store.ErrDuplicateMessageID
	}
	cp := *e
	f.byID[e.ID] = &cp
	f.byMsgID[e.MessageID] = &cp
	return nil
}

func (f *fakeEventStore) Get(_ context.Context, id string) (*domain.EmailEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, store.ErrEmailEventNotFound
	}
	return e, nil
}

func (f *fakeEventStore) FindByMessageID(_ context.Context, messageID string) (*domain.EmailEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byMsgID[messageID]
	if !ok {
		return nil, store.ErrEmailEventNotFound
	}
	return e, nil
}

func (f *fakeEventStore) UpdateIntent(context.Context, string, domain.Intent, float64, []string, int, domain.RiskTier) error {
	return nil
}
func (f *fakeEventStore) UpdateSandbox(context.Context, string, domain.SandboxResult) error { return nil }
func (f *fakeEventStore) Finalize(context.Context, string) error                           { return nil }
func (f *fakeEventStore) MarkFailed(context.Context, string) error                         { return nil }

type fakeBroker struct {
	mu        sync.Mutex
	published []publishedMsg
	failOn    string
}

type publishedMsg struct {
	stream string
	fields broker.Fields
}

func (b *fakeBroker) EnsureGroup(context.Context, string, string) error { return nil }

func (b *fakeBroker) Publish(_ context.Context, stream string, fields broker.Fields) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stream == b.failOn {
		return "", errors.New("simulated publish failure")
	}
	b.published = append(b.published, publishedMsg{stream: stream, fields: fields})
	return "1-0", nil
}

func (b *fakeBroker) ReadGroup(context.Context, string, string, []string, int64, time.Duration) ([]broker.StreamMessages, error) {
	return nil, nil
}
func (b *fakeBroker) Ack(context.Context, string, string, ...string) error { return nil }
func (b *fakeBroker) Healthy(context.Context) bool                        { return true }

func TestProducer_Ingest_NoRiskSignals(t *testing.T) {
	events := newFakeEventStore()
	b := &fakeBroker{}
	p := NewProducer(events, b)

	email := domain.StructuredEmail{
		Sender: "a@example.com", Recipient: "b@example.com",
		Subject: "hi", MessageID: "msg-1", Body: "hello there",
	}

	event, err := p.Ingest(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if event.Sandboxed {
		t.Errorf("Sandboxed = true, want false")
	}
	if event.Status != domain.StatusProcessing {
		t.Errorf("Status = %v, want PROCESSING", event.Status)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) != 2 {
		t.Fatalf("published %d messages, want 2 (no analysis-request without risk)", len(b.published))
	}
	if b.published[0].stream != broker.StreamJobControl {
		t.Errorf("first publish stream = %s, want %s", b.published[0].stream, broker.StreamJobControl)
	}
	if b.published[1].stream != broker.StreamIntentRequest {
		t.Errorf("second publish stream = %s, want %s", b.published[1].stream, broker.StreamIntentRequest)
	}
}

func TestProducer_Ingest_RiskySignalsPublishesAnalysisRequest(t *testing.T) {
	events := newFakeEventStore()
	b := &fakeBroker{}
	p := NewProducer(events, b)

	email := domain.StructuredEmail{
		MessageID:   "msg-2",
		Attachments: []domain.Attachment{{Filename: "invoice.exe"}},
	}

	event, err := p.Ingest(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if !event.Sandboxed {
		t.Errorf("Sandboxed = false, want true")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) != 3 {
		t.Fatalf("published %d messages, want 3", len(b.published))
	}
	if b.published[2].stream != broker.StreamAnalysisRequest {
		t.Errorf("third publish stream = %s, want %s", b.published[2].stream, broker.StreamAnalysisRequest)
	}
}

func TestProducer_Ingest_FixedPublishOrder(t *testing.T) {
	events := newFakeEventStore()
	b := &fakeBroker{}
	p := NewProducer(events, b)

	email := domain.StructuredEmail{
		MessageID: "msg-3",
		URLs:      []string{"https://a.example", "https://b.example", "https://c.example", "https://d.example"},
	}
	if _, err := p.Ingest(context.Background(), "user-1", email); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	wantOrder := []string{broker.StreamJobControl, broker.StreamIntentRequest, broker.StreamAnalysisRequest}
	if len(b.published) != len(wantOrder) {
		t.Fatalf("published %d messages, want %d", len(b.published), len(wantOrder))
	}
	for i, want := range wantOrder {
		if b.published[i].stream != want {
			t.Errorf("publish[%d].stream = %s, want %s", i, b.published[i].stream, want)
		}
	}
}

func TestProducer_Ingest_DuplicateMessageIDSkips(t *testing.T) {
	events := newFakeEventStore()
	b := &fakeBroker{}
	p := NewProducer(events, b)

	email := domain.StructuredEmail{MessageID: "msg-dup"}
	_, err := p.Ingest(context.Background(), "user-1", email)
	if err != nil {
		t.Fatalf("first Ingest() error = %v", err)
	}

	_, err = p.Ingest(context.Background(), "user-1", email)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Ingest() error = %v, want ErrDuplicate", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) != 2 {
		t.Errorf("published %d messages after duplicate, want 2 (none from the skipped ingest)", len(b.published))
	}
}

func TestProducer_Ingest_PersistenceFailureAbortsBeforePublish(t *testing.T) {
	events := newFakeEventStore()
	events.createFn = func(*domain.EmailEvent) error { return errors.New("db down") }
	b := &fakeBroker{}
	p := NewProducer(events, b)

	_, err := p.Ingest(context.Background(), "user-1", domain.StructuredEmail{MessageID: "msg-4"})
	if err == nil {
		t.Fatal("Ingest() error = nil, want persistence error")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.published) != 0 {
		t.Errorf("published %d messages, want 0 (persistence failed before any publish)", len(b.published))
	}
}
