package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-monitor/internal/resilience"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewFileProvider("file", t.TempDir()), NewFileProvider("b", t.TempDir()))
	r.Register(NewFileProvider("file", t.TempDir()))

	assert.Equal(t, []string{"file", "b"}, r.IDs())

	f, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", f.ID())

	_, err = r.Get("nope")
	assert.Error(t, err)
}

func TestFetchError_Retryable(t *testing.T) {
	assert.True(t, (&FetchError{Err: errors.New("dial tcp: refused")}).Retryable())
	assert.True(t, (&FetchError{StatusCode: 503, Err: errors.New("x")}).Retryable())
	assert.False(t, (&FetchError{StatusCode: 404, Err: errors.New("x")}).Retryable())
	assert.False(t, (&FetchError{Err: context.Canceled}).Retryable())
	assert.False(t, (&FetchError{Err: resilience.ErrCircuitOpen}).Retryable())
}

func TestErrorClassification(t *testing.T) {
	auth := &AuthError{Provider: "dsp", Reason: "revoked"}
	rl := &RateLimitError{Provider: "dsp", RetryAfter: time.Second}
	fe := &FetchError{Provider: "dsp", Err: errors.New("boom")}

	assert.True(t, IsAuth(auth))
	assert.False(t, IsAuth(fe))
	assert.True(t, IsRateLimit(rl))
	assert.True(t, IsFetch(fe))
	assert.Contains(t, fe.Error(), "boom")
	assert.Contains(t, rl.Error(), "retry after 1s")
}

func TestParseReleaseDate(t *testing.T) {
	d, err := parseReleaseDate("")
	require.NoError(t, err)
	assert.Nil(t, d)

	d, err = parseReleaseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), *d)

	d, err = parseReleaseDate("2023-11-05T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 5, d.Day())

	d, err = parseReleaseDate("1999")
	require.NoError(t, err)
	assert.Equal(t, time.January, d.Month())

	_, err = parseReleaseDate("next tuesday")
	assert.Error(t, err)
}

func TestRetryableFetchAndHint(t *testing.T) {
	rl := &RateLimitError{Provider: "dsp", RetryAfter: 3 * time.Second}
	assert.True(t, retryableFetch(rl))
	assert.True(t, retryableFetch(&FetchError{StatusCode: 502, Err: errors.New("x")}))
	assert.False(t, retryableFetch(&AuthError{Provider: "dsp"}))

	assert.Equal(t, 3*time.Second, retryAfter(rl))
	assert.Equal(t, time.Duration(0), retryAfter(errors.New("x")))
}
