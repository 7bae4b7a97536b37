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

func newDirectoryRequest(path string) *ipg.Request {
	httpReq := httptest.NewRequest(http.MethodGet, path, nil)
	return &ipg.Request{HTTP: httpReq, Path: path}
}

func TestDirectoryListsEntriesWhenNoIndexExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "a.html"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "b.html"), []byte("b"), 0o644))

	p := NewDirectory("directory", root)
	resp, err := p.HandleRequest(t.Context(), newDirectoryRequest("/docs/"), &ipg.Context{})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.HTTP.StatusCode)

	body, err := io.ReadAll(resp.HTTP.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "a.html")
	assert.Contains(t, string(body), "b.html")
}

func TestDirectorySkipsWhenIndexHTMLExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "index.html"), []byte("home"), 0o644))

	p := NewDirectory("directory", root)
	resp, err := p.HandleRequest(t.Context(), newDirectoryRequest("/docs/"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDirectorySkipsNonTrailingSlashPaths(t *testing.T) {
	root := t.TempDir()
	p := NewDirectory("directory", root)
	resp, err := p.HandleRequest(t.Context(), newDirectoryRequest("/docs"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestDirectorySkipsMissingDirectory(t *testing.T) {
	root := t.TempDir()
	p := NewDirectory("directory", root)
	resp, err := p.HandleRequest(t.Context(), newDirectoryRequest("/missing/"), &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
}
