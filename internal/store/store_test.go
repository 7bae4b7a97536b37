package store

import (
	"bytes"
	"context"
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

func newPutRequest(t *testing.T, path, rangeSelector, body string) *ipg.Request {
	t.Helper()
	httpReq := httptest.NewRequest(http.MethodPut, path, bytes.NewBufferString(body))
	if rangeSelector != "" {
		httpReq.Header.Set("Range", "selector="+rangeSelector)
	}
	return &ipg.Request{HTTP: httpReq, Path: path, Metadata: map[string]string{}}
}

func TestSelectorHandlerPutThenGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(docPath, []byte(`<html><body><p id="x">old</p></body></html>`), 0o644))

	h := NewSelectorHandler()
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	putReq := newPutRequest(t, "/a.html", "%23x", `<p id="x">new</p>`)
	resp, err := h.HandleRequest(context.Background(), putReq, pc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)

	putBody, _ := io.ReadAll(resp.HTTP.Body)
	assert.Contains(t, string(putBody), "new")
	assert.Equal(t, "#x", putReq.Metadata["applied_selector"])

	getReq := newPutRequest(t, "/a.html", "%23x", "")
	getReq.HTTP.Method = http.MethodGet
	getResp, err := h.HandleRequest(context.Background(), getReq, pc)
	require.NoError(t, err)
	getBody, _ := io.ReadAll(getResp.HTTP.Body)
	assert.Equal(t, string(putBody), string(getBody), "GET must return the same content PUT wrote")
}

func TestSelectorHandlerDeleteThenGetIsNotFound(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(docPath, []byte(`<html><body><p id="x">old</p></body></html>`), 0o644))

	h := NewSelectorHandler()
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	delReq := newPutRequest(t, "/a.html", "%23x", "")
	delReq.HTTP.Method = http.MethodDelete
	delResp, err := h.HandleRequest(context.Background(), delReq, pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, delResp.HTTP.StatusCode)

	getReq := newPutRequest(t, "/a.html", "%23x", "")
	getReq.HTTP.Method = http.MethodGet
	getResp, err := h.HandleRequest(context.Background(), getReq, pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, getResp.HTTP.StatusCode)
}

func TestSelectorHandlerTableSectionWorkaround(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "t.html")
	require.NoError(t, os.WriteFile(docPath, []byte(`<html><body><table><tr><td>A</td></tr></table></body></html>`), 0o644))

	h := NewSelectorHandler()
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	putReq := newPutRequest(t, "/t.html", "td", "<td>B</td>")
	resp, err := h.HandleRequest(context.Background(), putReq, pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)

	onDisk, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "<td>B</td>")
}

func TestConfinementRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	_, err := Confine(dir, "/../../etc/passwd")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConfinementRejectsSymlinkEscape(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("top secret"), 0o644))

	root := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	_, err := Confine(root, "/escape/secret.txt")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestConfinementAllowsSymlinkedDirectoryWithinRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")))

	p, err := Confine(root, "/alias/a.html")
	require.NoError(t, err)

	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "real", "a.html"), p)
}

func TestConfinementAllowsNonExistentTargetForPut(t *testing.T) {
	root := t.TempDir()
	p, err := Confine(root, "/new/nested/doc.html")
	require.NoError(t, err)

	realRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(realRoot, "new", "nested", "doc.html"), p)
}

func TestConfinementAllowsWithinRoot(t *testing.T) {
	dir := t.TempDir()
	p, err := Confine(dir, "/sub/a.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "sub", "a.html"), p)
}

func TestFileHandlerAndSelectorHandlerPluginsShareDocumentLocks(t *testing.T) {
	filePlugin, err := NewFileHandlerPlugin(map[string]string{})
	require.NoError(t, err)
	selectorPlugin, err := NewSelectorHandlerPlugin(map[string]string{})
	require.NoError(t, err)

	fh := filePlugin.(*FileHandler)
	sh := selectorPlugin.(*SelectorHandler)
	assert.Same(t, fh.locks, sh.locks, "file-handler and selector-handler builtins must share one lock table")
}

func TestSelectorHandlerSanitizesPutWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(docPath, []byte(`<html><body><p id="x">old</p></body></html>`), 0o644))

	plugin, err := NewSelectorHandlerPlugin(map[string]string{"sanitize": "true"})
	require.NoError(t, err)
	h := plugin.(*SelectorHandler)
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	putReq := newPutRequest(t, "/a.html", "%23x", `<p id="x"><script>alert(1)</script>safe</p>`)
	resp, err := h.HandleRequest(context.Background(), putReq, pc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)

	onDisk, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.NotContains(t, string(onDisk), "<script>")
	assert.Contains(t, string(onDisk), "safe")
}

func TestSelectorHandlerLeavesScriptWhenSanitizeDisabled(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(docPath, []byte(`<html><body><p id="x">old</p></body></html>`), 0o644))

	h := NewSelectorHandler()
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	putReq := newPutRequest(t, "/a.html", "%23x", `<p id="x"><script>alert(1)</script></p>`)
	resp, err := h.HandleRequest(context.Background(), putReq, pc)
	require.NoError(t, err)
	require.NotNil(t, resp)

	onDisk, err := os.ReadFile(docPath)
	require.NoError(t, err)
	assert.Contains(t, string(onDisk), "<script>")
}

func TestFileHandlerPutCreatesThenUpdates(t *testing.T) {
	dir := t.TempDir()
	h := NewFileHandler()
	pc := &ipg.Context{ServerConfig: map[string]string{"host_root": dir}}

	req := newPutRequest(t, "/b.txt", "", "hello")
	resp, err := h.HandleRequest(context.Background(), req, pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.HTTP.StatusCode)

	req2 := newPutRequest(t, "/b.txt", "", "world")
	resp2, err := h.HandleRequest(context.Background(), req2, pc)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.HTTP.StatusCode)

	data, err := os.ReadFile(filepath.Join(dir, "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))
}
