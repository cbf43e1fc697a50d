package moysklad

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	t.Setenv("MOYSKLAD_API_BASE_URL", "https://api.test.local/api/remap/1.2")
	t.Setenv("MOYSKLAD_RATE_LIMIT_PER_SEC", "1000")
	t.Setenv("MOYSKLAD_MAX_RETRIES", "3")
	t.Setenv("MOYSKLAD_RETRY_BASE_DELAY_MS", "1")

	client, err := NewClient("test-token")
	require.NoError(t, err)
	httpmock.ActivateNonDefault(client.HTTPClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	_, err := NewClient("  ")
	assert.Error(t, err)
}

func TestGetSendsAuthHeader(t *testing.T) {
	client := newTestClient(t)

	var gotAuth string
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			return httpmock.NewStringResponse(200, `{"rows":[]}`), nil
		})

	body, err := client.Get(context.Background(), "/entity/demand", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[]}`, string(body))
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestGetHonorsThrottleHint(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				resp := httpmock.NewStringResponse(429, "")
				resp.Header.Set("X-Lognex-Retry-TimeInterval", "50")
				return resp, nil
			}
			return httpmock.NewStringResponse(200, `{"rows":[]}`), nil
		})

	start := time.Now()
	_, err := client.Get(context.Background(), "/entity/demand", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGetRetriesServerErrorsUntilExhausted(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(500, "upstream down"), nil
		})

	_, err := client.Get(context.Background(), "/entity/demand", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetryExhausted))
	assert.Equal(t, 3, calls)
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(404, "not found"), nil
		})

	_, err := client.Get(context.Background(), "/entity/demand", nil)
	require.Error(t, err)

	var upstreamErr *UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, 404, upstreamErr.Status)
	assert.Equal(t, 1, calls)
}

func TestGetUsesAbsoluteHrefAsIs(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/counterparty/abc",
		httpmock.NewStringResponder(200, `{"name":"ACME"}`))

	body, err := client.Get(context.Background(),
		"https://api.test.local/api/remap/1.2/entity/counterparty/abc", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ACME"}`, string(body))
}

func TestGetDecompressesGzipResponses(t *testing.T) {
	payload := `{"rows":[{"name":"00042"}]}`

	var acceptEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		acceptEncoding = req.Header.Get("Accept-Encoding")
		if !strings.Contains(acceptEncoding, "gzip") {
			_, _ = w.Write([]byte(payload))
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(payload))
		_ = gz.Close()
	}))
	defer srv.Close()

	t.Setenv("MOYSKLAD_API_BASE_URL", srv.URL)
	t.Setenv("MOYSKLAD_RATE_LIMIT_PER_SEC", "1000")

	// Real server and real transport so the gzip negotiation actually happens.
	client, err := NewClient("test-token")
	require.NoError(t, err)

	body, err := client.Get(context.Background(), "/entity/demand", nil)
	require.NoError(t, err)
	assert.Contains(t, acceptEncoding, "gzip")
	assert.JSONEq(t, payload, string(body))
}

func TestGetStopsOnContextCancel(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder("GET", "https://api.test.local/api/remap/1.2/entity/demand",
		func(req *http.Request) (*http.Response, error) {
			resp := httpmock.NewStringResponse(429, "")
			resp.Header.Set("X-Lognex-Retry-TimeInterval", "60000")
			return resp, nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, "/entity/demand", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestThrottleWait(t *testing.T) {
	h := http.Header{}
	h.Set("X-Lognex-Retry-TimeInterval", "250")
	assert.Equal(t, 250*time.Millisecond, throttleWait(h))

	h = http.Header{}
	h.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, throttleWait(h))

	assert.Equal(t, defaultThrottleWait, throttleWait(http.Header{}))
	assert.Equal(t, defaultThrottleWait, throttleWait(nil))
}
