package ledger

import (
	"sync"

	"github.com/goliatone/go-masker"

	"github.com/goliatone/go-tenancy/pkg/types"
)

var defaultMaskerOnce sync.Once

// DefaultMasker returns the shared masker with the ledger denylist
// registered.
func DefaultMasker() *masker.Masker {
	defaultMaskerOnce.Do(func() {
		if masker.Default == nil {
			return
		}
		registerDefaultMaskFields(masker.Default)
	})
	return masker.Default
}

// SanitizeEntry masks sensitive values in snapshots and metadata. The
// checksum covers neither, so masked copies still verify.
func SanitizeEntry(mask *masker.Masker, entry types.AuditEntry) types.AuditEntry {
	if mask == nil {
		mask = DefaultMasker()
	}
	entry.Before = maskMap(mask, entry.Before)
	entry.After = maskMap(mask, entry.After)
	entry.Metadata = maskMap(mask, entry.Metadata)
	return entry
}

func maskMap(mask *masker.Masker, data map[string]any) map[string]any {
	if len(data) == 0 {
		return data
	}
	if mask == nil {
		return map[string]any{}
	}
	masked, err := mask.Mask(cloneMap(data))
	if err != nil {
		return map[string]any{}
	}
	if out, ok := masked.(map[string]any); ok {
		return out
	}
	return map[string]any{}
}

func registerDefaultMaskFields(mask *masker.Masker) {
	if mask == nil {
		return
	}
	for _, field := range []string{"secret", "Secret", "password", "token", "api_key", "card_number", "iban"} {
		mask.RegisterMaskField(field, "filled4")
	}
}
