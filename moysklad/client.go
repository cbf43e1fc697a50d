package moysklad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const defaultBaseURL = "https://api.moysklad.ru/api/remap/1.2"

// defaultThrottleWait is used when a 429 carries no usable wait hint.
const defaultThrottleWait = time.Second

// UpstreamError is a non-2xx response after the retry budget is exhausted
// (or a 4xx that is not worth retrying at all).
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("moysklad api error %d: %s", e.Status, e.Body)
}

// ErrRetryExhausted wraps the last transient error once the retry budget is spent.
var ErrRetryExhausted = errors.New("moysklad: retries exhausted")

// Client is a rate-limited MoySklad API client. Every call, including
// successful ones, waits on the limiter tick to stay under the steady-state
// rate limit. Throttling (429) is expected and never consumes the retry
// budget; transient 5xx/network failures are retried with exponential backoff
// through a single shared policy.
type Client struct {
	baseURL    string
	token      string
	limiter    <-chan time.Time
	maxRetries int
	baseDelay  time.Duration

	// HTTPClient is exported so tests can attach a mock transport.
	HTTPClient *http.Client
}

func NewClient(token string) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("moysklad token is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("MOYSKLAD_API_BASE_URL"))
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	ratePerSec := int64(5)
	if v := strings.TrimSpace(os.Getenv("MOYSKLAD_RATE_LIMIT_PER_SEC")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ratePerSec = n
		}
	}
	interval := time.Second / time.Duration(ratePerSec)

	maxRetries := 3
	if v := strings.TrimSpace(os.Getenv("MOYSKLAD_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxRetries = n
		}
	}
	baseDelayMs := 500
	if v := strings.TrimSpace(os.Getenv("MOYSKLAD_RETRY_BASE_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			baseDelayMs = n
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		limiter:    time.Tick(interval),
		maxRetries: maxRetries,
		baseDelay:  time.Duration(baseDelayMs) * time.Millisecond,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Get fetches pathOrHref (a path under the API base, or an absolute href as
// embedded in entity references) and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, pathOrHref string, params url.Values) ([]byte, error) {
	endpoint := pathOrHref
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	}
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.Multiplier = 2
	policy.MaxInterval = 30 * time.Second
	policy.RandomizationFactor = 0
	policy.Reset()

	attempt := 0
	var lastErr error
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.limiter:
		}

		body, status, header, err := c.do(ctx, endpoint)
		switch {
		case err == nil && status >= 200 && status < 300:
			return body, nil

		case err == nil && status == http.StatusTooManyRequests:
			// Throttling is expected, not a failure: wait the hinted
			// interval and go again without touching the retry budget.
			if werr := sleepCtx(ctx, throttleWait(header)); werr != nil {
				return nil, werr
			}
			continue

		case err != nil || status >= 500:
			if err != nil {
				lastErr = err
			} else {
				lastErr = &UpstreamError{Status: status, Body: truncateBody(body)}
			}
			attempt++
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt, lastErr)
			}
			if werr := sleepCtx(ctx, policy.NextBackOff()); werr != nil {
				return nil, werr
			}
			continue

		default:
			return nil, &UpstreamError{Status: status, Body: truncateBody(body)}
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint string) ([]byte, int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	// Accept-Encoding is left to the transport; setting it by hand would
	// turn off its transparent gzip decompression.

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return body, resp.StatusCode, resp.Header, nil
}

// throttleWait reads the server wait hint: X-Lognex-Retry-TimeInterval is
// milliseconds, Retry-After is seconds.
func throttleWait(header http.Header) time.Duration {
	if header == nil {
		return defaultThrottleWait
	}
	if v := strings.TrimSpace(header.Get("X-Lognex-Retry-TimeInterval")); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if s, err := strconv.ParseInt(v, 10, 64); err == nil && s > 0 {
			return time.Duration(s) * time.Second
		}
	}
	return defaultThrottleWait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}
