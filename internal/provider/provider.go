// Package provider defines the catalog fetcher contract and its implementations.
// Each provider is registered under its providerId; the scheduler only ever
// sees the Fetcher interface.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/resilience"
)

// Fetcher retrieves the complete, deduplicated release list for one linked
// provider account.
type Fetcher interface {
	ID() string
	Fetch(ctx context.Context, credentialRef string) (*FetchResult, error)
}

// FetchResult is one full catalog read.
type FetchResult struct {
	Releases           []model.ReleaseRef
	FetchedAt          time.Time
	RateLimitRemaining *int
	Skipped            int // malformed items dropped during parsing
}

// FetchError is a network, timeout or upstream failure. It is retried by the
// scheduler's backoff schedule.
type FetchError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: fetch failed (status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("provider %s: fetch failed: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure may clear within the same fetch.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, resilience.ErrCircuitOpen)
	}
	return resilience.IsTransientHTTPStatus(e.StatusCode)
}

// AuthError means the credential is missing, invalid or revoked. Retrying
// cannot succeed until the creator reconnects.
type AuthError struct {
	Provider string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %s: authorization failed: %s", e.Provider, e.Reason)
}

// RateLimitError is returned when the provider rejects us with 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("provider %s: rate limited", e.Provider)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRateLimit reports whether err is a RateLimitError.
func IsRateLimit(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsFetch reports whether err is a FetchError.
func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// retryableFetch covers transient fetch failures and 429s. A 429 whose
// Retry-After exceeds the retry cap is handed back to the scheduler.
func retryableFetch(err error) bool {
	var fe *FetchError
	return (errors.As(err, &fe) && fe.Retryable()) || IsRateLimit(err)
}

func retryAfter(err error) time.Duration {
	var re *RateLimitError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}
