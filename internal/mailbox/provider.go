// Package mailbox holds the out-of-scope mailbox-provider collaborator
// interface (spec.md §6) — fetching raw messages, MIME parsing, and OAuth
// refresh live outside this module. Only the interface the pipeline calls
// against lives here, plus a test double.
package mailbox

import (
	"context"

	"golang.org/x/oauth2"
)

// Provider is the mailbox-side capability the Action Worker and the
// Analysis Worker's optional attachment fetch depend on.
type Provider interface {
	// EnsureLabel creates the given label if the provider doesn't already
	// have one by that name. Idempotent.
	EnsureLabel(ctx context.Context, label string) error

	// ApplyLabel attaches label to messageID. Idempotent — applying an
	// already-present label is a no-op on the provider side.
	ApplyLabel(ctx context.Context, messageID, label string) error

	// MoveToSpam quarantines messageID. Optional: providers that don't
	// support it return ErrNotSupported.
	MoveToSpam(ctx context.Context, messageID string) error

	// FetchAttachmentContent returns the raw bytes of one attachment, when
	// the provider supports content fetch. Optional: providers that don't
	// return ErrNotSupported, and the Analysis Worker falls back to URL
	// analysis per spec.md §4.3 step 2.
	FetchAttachmentContent(ctx context.Context, messageID, attachmentID string) ([]byte, error)
}

// TokenAuthenticated is embedded by concrete Provider implementations that
// authenticate via OAuth2 (Gmail, Outlook). It is not part of the Provider
// contract itself — the pipeline never refreshes tokens on a provider's
// behalf — but it gives every such implementation a uniform way to expose
// its token source for diagnostics and manual refresh tooling.
type TokenAuthenticated interface {
	TokenSource() oauth2.TokenSource
}
