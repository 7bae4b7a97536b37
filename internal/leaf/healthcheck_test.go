package leaf

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func newHealthCheckRequest(path string) *ipg.Request {
	httpReq := httptest.NewRequest(http.MethodGet, path, nil)
	return &ipg.Request{HTTP: httpReq, Path: path}
}

func TestHealthCheckLiveAlwaysHealthy(t *testing.T) {
	p := NewHealthCheck(map[string]string{})

	resp, err := p.HandleRequest(t.Context(), newHealthCheckRequest("/live"), &ipg.Context{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)
}

func TestHealthCheckReadyReflectsDocumentRoot(t *testing.T) {
	p := NewHealthCheck(map[string]string{})
	dir := t.TempDir()
	p.refreshReadiness(dir)

	resp, err := p.HandleRequest(t.Context(), newHealthCheckRequest("/ready"), &ipg.Context{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)

	var report healthReport
	require.NoError(t, json.NewDecoder(resp.HTTP.Body).Decode(&report))
	assert.Equal(t, healthHealthy, report.Status)
}

func TestHealthCheckReadyReportsUnhealthyWhenRootMissing(t *testing.T) {
	p := NewHealthCheck(map[string]string{})
	p.refreshReadiness(filepath.Join(t.TempDir(), "does-not-exist"))

	resp, err := p.HandleRequest(t.Context(), newHealthCheckRequest("/ready"), &ipg.Context{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.HTTP.StatusCode)
}

func TestHealthCheckPassesThroughOtherPaths(t *testing.T) {
	p := NewHealthCheck(map[string]string{})

	resp, err := p.HandleRequest(t.Context(), newHealthCheckRequest("/doc.html"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestHealthCheckStartBackgroundChecksRunsInitialCheck(t *testing.T) {
	p := NewHealthCheck(map[string]string{})
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644))

	c := p.StartBackgroundChecks(dir, "@every 1h")
	defer c.Stop()

	report := p.cachedReady.Load()
	assert.Equal(t, healthHealthy, report.Status)
}
