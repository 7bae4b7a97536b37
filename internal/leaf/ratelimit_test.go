package leaf

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func newRateLimitRequest(remoteAddr string) *ipg.Request {
	httpReq := httptest.NewRequest(http.MethodGet, "/doc.html", nil)
	httpReq.RemoteAddr = remoteAddr
	return &ipg.Request{HTTP: httpReq, Metadata: map[string]string{}}
}

func TestRateLimitAllowsUnderBurstCapacity(t *testing.T) {
	p := NewRateLimit(map[string]string{"requestsPerSecond": "5", "burstCapacity": "3"})

	for i := 0; i < 3; i++ {
		resp, err := p.HandleRequest(t.Context(), newRateLimitRequest("10.0.0.1:1111"), &ipg.Context{})
		require.NoError(t, err)
		assert.Nil(t, resp, "request %d should be allowed", i)
	}
}

func TestRateLimitRejectsOverBurstCapacity(t *testing.T) {
	p := NewRateLimit(map[string]string{"requestsPerSecond": "1", "burstCapacity": "1"})

	resp, err := p.HandleRequest(t.Context(), newRateLimitRequest("10.0.0.2:1111"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)

	resp, err = p.HandleRequest(t.Context(), newRateLimitRequest("10.0.0.2:1111"), &ipg.Context{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.HTTP.StatusCode)
	assert.Equal(t, "1", resp.HTTP.Header.Get("Retry-After"))
}

func TestRateLimitTracksKeysIndependently(t *testing.T) {
	p := NewRateLimit(map[string]string{"requestsPerSecond": "1", "burstCapacity": "1"})

	resp1, err := p.HandleRequest(t.Context(), newRateLimitRequest("10.0.0.3:1111"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp1)

	resp2, err := p.HandleRequest(t.Context(), newRateLimitRequest("10.0.0.4:1111"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp2, "a different key should have its own bucket")
}

func TestRateLimitExtractKeyPrefersXForwardedFor(t *testing.T) {
	p := NewRateLimit(map[string]string{})
	req := newRateLimitRequest("10.0.0.5:1111")
	req.HTTP.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")

	assert.Equal(t, "203.0.113.9", p.extractKey(req))
}

func TestRateLimitStampsKeyMetadata(t *testing.T) {
	p := NewRateLimit(map[string]string{})
	req := newRateLimitRequest("10.0.0.6:1111")

	_, err := p.HandleRequest(t.Context(), req, &ipg.Context{})
	require.NoError(t, err)
	key, ok := req.GetMetadata("rate_limit_key")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.6", key)
}
