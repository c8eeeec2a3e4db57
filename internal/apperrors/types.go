// Package apperrors implements the error taxonomy of spec.md §7: Config,
// Storage, InvalidInput, NotFound, Conflict, Transient external, Quota,
// Permanent external, and InternalInvariant. It generalizes the teacher's
// internal/errors package (TransientError/PermanentError/DegradedError,
// IsTransient/IsPermanent, exponential-backoff Retry) to the extra kinds the
// publication engine needs: quota-with-cooldown and optimistic-lock conflict.
package apperrors

import (
	"errors"
	"fmt"
)

// TransientError is retryable: network failures, 5xx, generic timeouts.
type TransientError struct {
	Err     error
	Message string
}

func (e *TransientError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is never retried: auth failures, 4xx other than rate
// limiting, invalid media.
type PermanentError struct {
	Err     error
	Message string
}

func (e *PermanentError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("permanent error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// QuotaError signals the publisher's or generator's rate-limit response.
// AdviseCooldown, if non-zero, is the external API's advised wait before
// retrying (spec.md §4.6's "advised_cooldown_seconds").
type QuotaError struct {
	Err            error
	Message        string
	AdviseCooldown int64 // seconds; 0 means "use governor default"
}

func (e *QuotaError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("quota exhausted: %v", e.Err)
}

func (e *QuotaError) Unwrap() error { return e.Err }

// ConflictError reports an optimistic-lock version mismatch or a
// unique-constraint violation on (project_id, media_path). Per spec.md §7,
// the duplicate-key case is "expected and benign" — callers typically treat
// it as a no-op rather than surfacing it to an end user.
type ConflictError struct {
	Err     error
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("conflict: %v", e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError reports a referenced entity absent from the store.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// ValidationError reports input rejected at an operation boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

// StorageError wraps a database/I-O failure. Fatal at startup if persistent;
// otherwise the affected operation fails and is retried by its caller.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigError reports a missing or malformed startup option. Fatal.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Message)
}

// InvariantError reports a §3 invariant violation. Logged at highest
// severity; the affected task is marked failed; operator attention required.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var t *TransientError
	if errors.As(err, &t) {
		return true
	}
	var q *QuotaError
	if errors.As(err, &q) {
		return true
	}
	return false
}

// IsPermanent reports whether err must never be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *PermanentError
	if errors.As(err, &p) {
		return true
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return true
	}
	var n *NotFoundError
	if errors.As(err, &n) {
		return true
	}
	return false
}

// IsQuota reports whether err is a quota-exhaustion signal, and returns the
// advised cooldown in seconds (0 if the error did not advise one).
func IsQuota(err error) (adviseCooldown int64, ok bool) {
	var q *QuotaError
	if errors.As(err, &q) {
		return q.AdviseCooldown, true
	}
	return 0, false
}

// IsConflict reports whether err is an optimistic-lock or unique-constraint
// conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// NewTransient constructs a TransientError.
func NewTransient(err error, message string) *TransientError {
	return &TransientError{Err: err, Message: message}
}

// NewPermanent constructs a PermanentError.
func NewPermanent(err error, message string) *PermanentError {
	return &PermanentError{Err: err, Message: message}
}

// NewQuota constructs a QuotaError with an advised cooldown in seconds.
func NewQuota(err error, message string, adviseCooldownSeconds int64) *QuotaError {
	return &QuotaError{Err: err, Message: message, AdviseCooldown: adviseCooldownSeconds}
}

// NewConflict constructs a ConflictError.
func NewConflict(err error, message string) *ConflictError {
	return &ConflictError{Err: err, Message: message}
}
