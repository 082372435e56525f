package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-monitor/internal/metrics"
	"github.com/sells-group/catalog-monitor/internal/model"
	"github.com/sells-group/catalog-monitor/internal/resilience"
	"github.com/sells-group/catalog-monitor/internal/store"
)

// CredentialSource looks up provider credentials. It is consulted on every
// fetch so that rotated or revoked tokens take effect immediately.
type CredentialSource interface {
	Credential(ctx context.Context, ref string) (*model.ProviderCredential, error)
}

// DSPOptions configures the HTTP catalog adapter.
type DSPOptions struct {
	ID         string
	BaseURL    string
	PageSize   int
	MaxPages   int
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	UserAgent  string
	Retry      resilience.RetryConfig
	Breaker    resilience.CircuitBreakerConfig
}

// DSPProvider reads a creator's catalog from a paginated JSON API:
//
//	GET {base}/v1/accounts/{account}/releases?limit=N&cursor=C
//	Authorization: Bearer {token}
//	200 {"items": [...], "next": "cursor-or-empty"}
type DSPProvider struct {
	opts    DSPOptions
	client  *http.Client
	creds   CredentialSource
	limiter *AdaptiveLimiter
	breaker *resilience.CircuitBreaker
}

type dspPage struct {
	Items []json.RawMessage `json:"items"`
	Next  string            `json:"next"`
}

type pageResult struct {
	page      dspPage
	items     []rawRelease
	skipped   int
	remaining *int
}

// NewDSPProvider builds the adapter. The circuit breaker is shared by every
// scan in this process and only counts FetchErrors.
func NewDSPProvider(opts DSPOptions, creds CredentialSource) *DSPProvider {
	if opts.ID == "" {
		opts.ID = "dsp"
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 200
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "catalog-monitor/1.0"
	}
	opts.Retry.ShouldRetry = retryableFetch
	opts.Retry.Hint = retryAfter
	opts.Retry.OnRetry = resilience.RetryLogger(opts.ID, "fetch_page")
	opts.Breaker.ShouldTrip = IsFetch

	id := opts.ID
	opts.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
		metrics.ProviderBreakerState.WithLabelValues(id).Set(float64(to))
		zap.L().Warn("provider circuit breaker state change",
			zap.String("provider_id", id),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &DSPProvider{
		opts:    opts,
		client:  &http.Client{Timeout: opts.Timeout},
		creds:   creds,
		limiter: NewAdaptiveLimiter(opts.ID, rate.Limit(opts.RatePerSec), opts.Burst),
		breaker: resilience.NewCircuitBreaker(opts.Breaker),
	}
}

// ID implements Fetcher.
func (p *DSPProvider) ID() string { return p.opts.ID }

// Fetch implements Fetcher.
func (p *DSPProvider) Fetch(ctx context.Context, credentialRef string) (*FetchResult, error) {
	cred, err := p.creds.Credential(ctx, credentialRef)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &AuthError{Provider: p.opts.ID, Reason: "credential not found"}
		}
		return nil, &FetchError{Provider: p.opts.ID, Err: eris.Wrap(err, "load credential")}
	}
	if cred.Revoked {
		return nil, &AuthError{Provider: p.opts.ID, Reason: "credential revoked"}
	}
	if cred.ProviderID != "" && cred.ProviderID != p.opts.ID {
		return nil, &AuthError{Provider: p.opts.ID, Reason: "credential belongs to provider " + cred.ProviderID}
	}

	var (
		items     []rawRelease
		skipped   int
		remaining *int
		cursor    string
	)
	for page := 0; ; page++ {
		if page >= p.opts.MaxPages {
			return nil, &FetchError{Provider: p.opts.ID, Err: eris.Errorf("pagination exceeded %d pages", p.opts.MaxPages)}
		}

		res, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*pageResult, error) {
			return resilience.DoVal(ctx, p.opts.Retry, func(ctx context.Context) (*pageResult, error) {
				return p.fetchPage(ctx, cred, cursor)
			})
		})
		if err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, &FetchError{Provider: p.opts.ID, Err: err}
			}
			return nil, err
		}

		items = append(items, res.items...)
		skipped += res.skipped
		if res.remaining != nil {
			remaining = res.remaining
		}
		if res.page.Next == "" || res.page.Next == cursor {
			break
		}
		cursor = res.page.Next
	}

	releases, invalid := toReleaseRefs(p.opts.ID, items)
	return &FetchResult{
		Releases:           releases,
		FetchedAt:          time.Now().UTC(),
		RateLimitRemaining: remaining,
		Skipped:            skipped + invalid,
	}, nil
}

func (p *DSPProvider) fetchPage(ctx context.Context, cred *model.ProviderCredential, cursor string) (*pageResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Provider: p.opts.ID, Err: eris.Wrap(err, "rate limiter wait")}
	}

	u, err := url.Parse(strings.TrimRight(p.opts.BaseURL, "/") + "/v1/accounts/" + url.PathEscape(cred.AccountID) + "/releases")
	if err != nil {
		return nil, &FetchError{Provider: p.opts.ID, Err: eris.Wrap(err, "build url")}
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.opts.PageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Provider: p.opts.ID, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: p.opts.ID, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Provider: p.opts.ID, Reason: "status " + strconv.Itoa(resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		p.limiter.OnRateLimit()
		return nil, &RateLimitError{Provider: p.opts.ID, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Provider:   p.opts.ID,
			StatusCode: resp.StatusCode,
			Err:        eris.Errorf("unexpected status: %s", strings.TrimSpace(string(body))),
		}
	}

	var page dspPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{Provider: p.opts.ID, StatusCode: resp.StatusCode, Err: eris.Wrap(err, "decode page")}
	}
	p.limiter.OnSuccess()

	items, skipped := decodeJSONItems(p.opts.ID, page.Items)
	return &pageResult{
		page:      page,
		items:     items,
		skipped:   skipped,
		remaining: parseRemaining(resp.Header.Get("X-RateLimit-Remaining")),
	}, nil
}

func parseRemaining(v string) *int {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
