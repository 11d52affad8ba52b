package mailbox

import (
	"context"
	"sync"
)

// MockProvider is a test double recording every call it receives, and the
// default used wherever this module needs a Provider in tests.
type MockProvider struct {
	mu sync.Mutex

	EnsuredLabels []string
	AppliedLabels map[string][]string // messageID -> labels applied, in order
	SpammedIDs    []string
	Attachments   map[string][]byte // attachmentID -> bytes

	SupportsSpam       bool
	SupportsAttachment bool
	EnsureLabelErr     error
	ApplyLabelErr      error
}

// NewMockProvider returns a MockProvider with spam and attachment fetch
// support enabled.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		AppliedLabels:      map[string][]string{},
		Attachments:        map[string][]byte{},
		SupportsSpam:       true,
		SupportsAttachment: true,
	}
}

func (m *MockProvider) EnsureLabel(_ context.Context, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnsureLabelErr != nil {
		return m.EnsureLabelErr
	}
	for _, l := range m.EnsuredLabels {
		if l == label {
			return nil
		}
	}
	m.EnsuredLabels = append(m.EnsuredLabels, label)
	return nil
}

func (m *MockProvider) ApplyLabel(_ context.Context, messageID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ApplyLabelErr != nil {
		return m.ApplyLabelErr
	}
	m.AppliedLabels[messageID] = append(m.AppliedLabels[messageID], label)
	return nil
}

func (m *MockProvider) MoveToSpam(_ context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.SupportsSpam {
		return ErrNotSupported
	}
	m.SpammedIDs = append(m.SpammedIDs, messageID)
	return nil
}

func (m *MockProvider) FetchAttachmentContent(_ context.Context, _, attachmentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.SupportsAttachment {
		return nil, ErrNotSupported
	}
	b, ok := m.Attachments[attachmentID]
	if !ok {
		return nil, ErrNotSupported
	}
	return b, nil
}

// LabelsFor returns the labels applied to messageID, for test assertions.
func (m *MockProvider) LabelsFor(messageID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.AppliedLabels[messageID]...)
}
