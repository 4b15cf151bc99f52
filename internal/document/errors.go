package document

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("document not found")
	ErrConflict               = errors.New("revision already exists")
	ErrConcurrentModification = errors.New("document was modified concurrently")
	ErrNotReady               = errors.New("revision index not ready")
	ErrValidation             = errors.New("invalid document")
)

// NotFoundError reports a missing document or revision. Revision is 0 when the
// whole document is missing.
type NotFoundError struct {
	DocumentID string
	Revision   int
}

func (e *NotFoundError) Error() string {
	if e.Revision > 0 {
		return fmt.Sprintf("document %q revision %d not found", e.DocumentID, e.Revision)
	}
	return fmt.Sprintf("document %q not found", e.DocumentID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError is a write-once violation in the store.
type ConflictError struct {
	DocumentID string
	Revision   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("document %q revision %d already exists", e.DocumentID, e.Revision)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConcurrentModificationError is returned when the caller's expected revision
// is stale. Callers re-read and retry.
type ConcurrentModificationError struct {
	DocumentID string
	Expected   int
	Actual     int
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("document %q: expected revision %d, current is %d", e.DocumentID, e.Expected, e.Actual)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

// NotReadyError is returned until the revision index has been rebuilt.
type NotReadyError struct{}

func (e *NotReadyError) Error() string { return ErrNotReady.Error() }

func (e *NotReadyError) Is(target error) bool { return target == ErrNotReady }

// ValidationError rejects a draft before anything is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
