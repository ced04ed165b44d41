package scrape

import (
	"errors"
	"fmt"
)

// TransientFetchError marks a fetch failure worth retrying: timeouts,
// connection resets, and retryable status codes (403, 429, 5xx).
type TransientFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *TransientFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transient fetch %s: %v", e.URL, e.Err)
}

func (e *TransientFetchError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientFetchError.
func IsTransient(err error) bool {
	var t *TransientFetchError
	return errors.As(err, &t)
}

// PolicyBlockedError marks an identifier disallowed by the crawl policy.
// It is never retried.
type PolicyBlockedError struct {
	URL string
}

func (e *PolicyBlockedError) Error() string {
	return fmt.Sprintf("blocked by crawl policy: %s", e.URL)
}

// ExtractionError marks a selector or parse failure. The raw document is
// preserved for offline debugging before this error is recorded.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// AuthError marks a credential acquisition or refresh failure.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("auth: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }
