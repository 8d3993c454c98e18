package cascade

import (
	"errors"
	"fmt"

	"github.com/kestrelnet/cascade/internal/models"
)

// Kind classifies an error surfaced by the cascade so callers can map it to
// an HTTP status or retry policy without string matching.
type Kind string

const (
	// KindBogonInput marks an unroutable address; not a failure, but some
	// callers want to distinguish it from an enriched public address.
	KindBogonInput Kind = "bogon_input"

	// KindSourceUnavailable covers a source that could not be consulted:
	// database missing, network error, budget exhausted. Recorded in
	// metadata; never fatal on its own.
	KindSourceUnavailable Kind = "source_unavailable"

	// KindRateLimited is the specific SourceUnavailable raised when the
	// upstream pushed back with a retry-after.
	KindRateLimited Kind = "rate_limited"

	// KindStorageConflict is a uniqueness or FK race during inventory
	// upsert, retried once before being surfaced.
	KindStorageConflict Kind = "storage_conflict"

	// KindStorageError is a non-retryable store failure; nothing was
	// partially written.
	KindStorageError Kind = "storage_error"

	// KindSecretResolution is a secrets-resolver failure, surfaced at
	// startup or first use of the source that needed the secret.
	KindSecretResolution Kind = "secret_resolution"

	// KindMalformedInput marks an address that failed to parse; the
	// cascade records it as a bogon rather than crashing.
	KindMalformedInput Kind = "malformed_input"
)

// Error is the typed error the cascade returns. Source is set when the
// error is attributable to one enrichment source.
type Error struct {
	Kind   Kind
	Source models.SourceName
	Err    error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("cascade: %s (%s): %v", e.Kind, e.Source, e.Err)
	}
	return fmt.Sprintf("cascade: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from any error produced by this package, or ""
// for foreign errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func storageError(err error) *Error {
	return &Error{Kind: KindStorageError, Err: err}
}

func storageConflict(err error) *Error {
	return &Error{Kind: KindStorageConflict, Err: err}
}
