package leaf

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func newErrorHandlerRequest(path string) *ipg.Request {
	httpReq := httptest.NewRequest(http.MethodGet, path, nil)
	httpReq.Host = "example.com"
	return &ipg.Request{HTTP: httpReq, Path: path}
}

func TestErrorHandlerRendersDefaultTemplateFor404(t *testing.T) {
	p := NewErrorHandler(map[string]string{})
	resp := &http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}

	require.NoError(t, p.HandleResponse(t.Context(), newErrorHandlerRequest("/missing"), resp, &ipg.Context{}))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "404")
	assert.Contains(t, string(body), "/missing")
	assert.Contains(t, string(body), "example.com")
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
}

func TestErrorHandlerIgnoresSuccessResponses(t *testing.T) {
	p := NewErrorHandler(map[string]string{})
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: bodyFromBytes([]byte("ok"))}

	require.NoError(t, p.HandleResponse(t.Context(), newErrorHandlerRequest("/ok"), resp, &ipg.Context{}))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestErrorHandlerUsesCustomTemplateForStatusCode(t *testing.T) {
	dir := t.TempDir()
	customPath := filepath.Join(dir, "500.html")
	require.NoError(t, os.WriteFile(customPath, []byte("custom 500 page: {{status_code}}"), 0o644))

	p := NewErrorHandler(map[string]string{"errorPage500": customPath})
	resp := &http.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}}

	require.NoError(t, p.HandleResponse(t.Context(), newErrorHandlerRequest("/boom"), resp, &ipg.Context{}))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "custom 500 page: 500", string(body))
}
