package actionworker

import (
	"context"
	"fmt"

	"github.com/ignite/mailguard/internal/domain"
	"github.com/ignite/mailguard/internal/mailbox"
)

// brandLabels returns the three labels a provider must carry for brand,
// matching every domain.ActionVerdict.
func brandLabels(brand string) []string {
	return []string{
		domain.ActionMalicious.Label(brand),
		domain.ActionCautious.Label(brand),
		domain.ActionSafe.Label(brand),
	}
}

// ensureBrandLabels ensures all three brand labels exist on the provider
// (spec.md §4.5 step 3). There's no ID to cache against mailbox.Provider's
// narrow interface, so this is a plain existence check run once per label.
func ensureBrandLabels(ctx context.Context, provider mailbox.Provider, brand string) error {
	for _, label := range brandLabels(brand) {
		if err := provider.EnsureLabel(ctx, label); err != nil {
			return fmt.Errorf("ensure label %q: %w", label, err)
		}
	}
	return nil
}

// applyVerdictLabel applies the label for verdict and, when malicious and
// quarantine is enabled, also moves the message to spam (spec.md §4.5 step
// 4: "add the provider's spam label and remove the inbox label").
func applyVerdictLabel(ctx context.Context, provider mailbox.Provider, messageID string, verdict domain.ActionVerdict, brand string, quarantineMalicious bool) error {
	label := verdict.Label(brand)
	if err := provider.ApplyLabel(ctx, messageID, label); err != nil {
		return fmt.Errorf("apply label %q: %w", label, err)
	}

	if verdict == domain.ActionMalicious && quarantineMalicious {
		if err := provider.MoveToSpam(ctx, messageID); err != nil {
			return fmt.Errorf("move to spam: %w", err)
		}
	}
	return nil
}
