package document

import (
	"fmt"
	"strings"
	"time"
)

// Rules holds the limits applied to drafts before they are written.
type Rules struct {
	// MinExpiry is how far in the future an expiry date must be. Zero disables
	// the check.
	MinExpiry time.Duration
	// MaxContentBytes caps the payload size. Zero means no limit.
	MaxContentBytes int
	// OwnerPrefix requires names to start with the owner's user name.
	OwnerPrefix bool
}

// DefaultRules mirrors the v0 service: expiry at least 60 days out, 8 MiB cap.
func DefaultRules() Rules {
	return Rules{MinExpiry: 60 * 24 * time.Hour, MaxContentBytes: 8 << 20}
}

// Check validates content and metadata at time now.
func (r Rules) Check(content []byte, meta Metadata, now time.Time) error {
	if r.MaxContentBytes > 0 && len(content) > r.MaxContentBytes {
		return &ValidationError{Field: "content", Reason: fmt.Sprintf("%d bytes exceeds limit of %d", len(content), r.MaxContentBytes)}
	}
	if !meta.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown document type " + string(meta.Type)}
	}
	if r.OwnerPrefix && meta.Owner != "" && !strings.HasPrefix(meta.Name, meta.Owner) {
		return &ValidationError{Field: "name", Reason: "must start with the owner's user name " + meta.Owner}
	}
	if meta.ExpiryDate != nil && r.MinExpiry > 0 {
		if meta.ExpiryDate.Before(now.Add(r.MinExpiry)) {
			days := int(r.MinExpiry / (24 * time.Hour))
			return &ValidationError{Field: "expiryDate", Reason: fmt.Sprintf("must be at least %d days in the future", days)}
		}
	}
	return nil
}
