package actionworker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailguard/internal/broker"
	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/mailbox"
)

type fakeBroker struct {
	mu    sync.Mutex
	acked []string
}

func (b *fakeBroker) EnsureGroup(context.Context, string, string) error { return nil }
func (b *fakeBroker) Publish(context.Context, string, broker.Fields) (string, error) {
	return "1-0", nil
}
func (b *fakeBroker) ReadGroup(context.Context, string, string, []string, int64, time.Duration) ([]broker.StreamMessages, error) {
	return nil, nil
}
func (b *fakeBroker) Ack(_ context.Context, _, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, ids...)
	return nil
}
func (b *fakeBroker) Healthy(context.Context) bool { return true }

func finalReportFields(t *testing.T, jobID, messageID string, sandbox interface{}) broker.Fields {
	t.Helper()
	var raw json.RawMessage
	if sandbox == nil {
		raw = json.RawMessage("null")
	} else {
		b, err := json.Marshal(sandbox)
		if err != nil {
			t.Fatalf("marshal sandbox: %v", err)
		}
		raw = b
	}
	msg := broker.FinalReportMessage{JobID: jobID, MessageID: messageID, Intent: json.RawMessage(`{}`), Sandbox: raw}
	return msg.ToFields()
}

func TestWorker_Handle_NilSandboxAppliesSafeLabel(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	w := NewWorker(b, provider, nil, "Aegis", false, 0, "test-consumer")

	fields := finalReportFields(t, "00000000-0000-0000-0000-000000000001", "msg-1", nil)
	w.handle(context.Background(), broker.Message{ID: "1-0", Values: fields})

	labels := provider.LabelsFor("msg-1")
	if len(labels) != 1 || labels[0] != "Aegis/SAFE" {
		t.Fatalf("labels = %v, want [Aegis/SAFE]", labels)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.acked) != 1 {
		t.Errorf("acked %d messages, want 1", len(b.acked))
	}
}

func TestWorker_Handle_UnknownSandboxPromotesToCautious(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	w := NewWorker(b, provider, nil, "Aegis", false, 0, "test-consumer")

	fields := finalReportFields(t, "00000000-0000-0000-0000-000000000002", "msg-2", domain.SandboxResult{Verdict: "unknown", Score: 50, TimedOut: true})
	w.handle(context.Background(), broker.Message{ID: "2-0", Values: fields})

	labels := provider.LabelsFor("msg-2")
	if len(labels) != 1 || labels[0] != "Aegis/CAUTIOUS" {
		t.Fatalf("labels = %v, want [Aegis/CAUTIOUS] (unknown promotes to suspicious/CAUTIOUS)", labels)
	}
}

func TestWorker_Handle_MaliciousWithQuarantineMovesToSpam(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	w := NewWorker(b, provider, nil, "Aegis", true, 0, "test-consumer")

	fields := finalReportFields(t, "00000000-0000-0000-0000-000000000003", "msg-3", domain.SandboxResult{Verdict: "malicious", Score: 95})
	w.handle(context.Background(), broker.Message{ID: "3-0", Values: fields})

	labels := provider.LabelsFor("msg-3")
	if len(labels) != 1 || labels[0] != "Aegis/MALICIOUS" {
		t.Fatalf("labels = %v, want [Aegis/MALICIOUS]", labels)
	}
	found := false
	for _, id := range provider.SpammedIDs {
		if id == "msg-3" {
			found = true
		}
	}
	if !found {
		t.Errorf("msg-3 not moved to spam, want quarantine on malicious verdict")
	}
}

func TestWorker_Handle_DuplicateFinalReportAppliesLabelOnce(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	w := NewWorker(b, provider, nil, "Aegis", false, 0, "test-consumer")

	fields := finalReportFields(t, "00000000-0000-0000-0000-000000000004", "msg-4", domain.SandboxResult{Verdict: "malicious", Score: 95})
	w.handle(context.Background(), broker.Message{ID: "4-0", Values: fields})
	w.handle(context.Background(), broker.Message{ID: "4-1", Values: fields})

	labels := provider.LabelsFor("msg-4")
	if len(labels) != 1 {
		t.Fatalf("labels = %v, want exactly 1 application despite duplicate delivery", labels)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.acked) != 2 {
		t.Errorf("acked %d messages, want 2 (both deliveries acked, only one side effect)", len(b.acked))
	}
}

func TestWorker_Handle_MalformedPayloadAcksWithoutProcessing(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	w := NewWorker(b, provider, nil, "Aegis", false, 0, "test-consumer")

	w.handle(context.Background(), broker.Message{ID: "5-0", Values: broker.Fields{}})

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.acked) != 1 {
		t.Fatalf("acked %d messages, want 1 (poison payload dropped)", len(b.acked))
	}
}

func TestWorker_Handle_ProviderNotSupportingSpamMoveStillActs(t *testing.T) {
	b := &fakeBroker{}
	provider := mailbox.NewMockProvider()
	provider.SupportsSpam = false
	w := NewWorker(b, provider, nil, "Aegis", true, 0, "test-consumer")

	fields := finalReportFields(t, "00000000-0000-0000-0000-000000000006", "msg-6", domain.SandboxResult{Verdict: "malicious", Score: 95})
	w.handle(context.Background(), broker.Message{ID: "6-0", Values: fields})

	labels := provider.LabelsFor("msg-6")
	if len(labels) != 1 || labels[0] != "Aegis/MALICIOUS" {
		t.Fatalf("labels = %v, want [Aegis/MALICIOUS] even when quarantine move isn't supported", labels)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.acked) != 1 {
		t.Errorf("acked %d messages, want 1 (ErrNotSupported on quarantine shouldn't block the ack)", len(b.acked))
	}
}
