package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func writeAuthFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.html")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sampleRules = `
<div itemscope itemtype="http://rustybeam.net/User">
  <span itemprop="username">alice</span>
  <span itemprop="role">editor</span>
</div>
<div itemscope itemtype="http://rustybeam.net/AuthorizationRule">
  <span itemprop="username">alice</span>
  <span itemprop="path">/admin/*</span>
  <span itemprop="method">GET</span>
  <span itemprop="method">PUT</span>
  <span itemprop="action">allow</span>
</div>
<div itemscope itemtype="http://rustybeam.net/AuthorizationRule">
  <span itemprop="username">*</span>
  <span itemprop="path">/admin/*</span>
  <span itemprop="method">GET</span>
  <span itemprop="action">deny</span>
</div>
`

func TestExactUserMatchOutranksWildcard(t *testing.T) {
	path := writeAuthFile(t, sampleRules)
	p := New("authorization", path)

	req := &ipg.Request{
		HTTP:     httptest.NewRequest(http.MethodGet, "/admin/panel.html", nil),
		Path:     "/admin/panel.html",
		Metadata: map[string]string{"authenticated_user": "alice"},
	}
	pc := &ipg.Context{}

	resp, err := p.HandleRequest(context.Background(), req, pc)
	require.NoError(t, err)
	assert.Nil(t, resp, "alice's exact-match allow rule should win over the wildcard deny")
	assert.Equal(t, "true", req.Metadata["authorized"])
}

func TestAnonymousWildcardDeny(t *testing.T) {
	path := writeAuthFile(t, sampleRules)
	p := New("authorization", path)

	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/admin/panel.html", nil),
		Path: "/admin/panel.html",
	}
	pc := &ipg.Context{}

	resp, err := p.HandleRequest(context.Background(), req, pc)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.HTTP.StatusCode)
}

func TestOptionsAlwaysAllowed(t *testing.T) {
	path := writeAuthFile(t, sampleRules)
	p := New("authorization", path)

	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodOptions, "/admin/panel.html", nil),
		Path: "/admin/panel.html",
	}
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "true", req.Metadata["authorized"])
}

func TestPathMatchesWildcardAndParam(t *testing.T) {
	assert.True(t, pathMatches("/admin/x", "/admin/*"))
	assert.True(t, pathMatches("/users/bob/profile", "/users/:username/profile"))
	assert.False(t, pathMatches("/users/bob/settings", "/users/:username/profile"))
	assert.True(t, pathMatches("/", "/*"))
}

func TestPriorityOrdering(t *testing.T) {
	p, ok := priorityFor("alice", "alice", nil)
	require.True(t, ok)
	assert.Equal(t, 3, p)

	p, ok = priorityFor(":username", "alice", nil)
	require.True(t, ok)
	assert.Equal(t, 2, p)

	p, ok = priorityFor("editor", "alice", []string{"editor"})
	require.True(t, ok)
	assert.Equal(t, 1, p)

	p, ok = priorityFor("*", "alice", nil)
	require.True(t, ok)
	assert.Equal(t, 0, p)

	_, ok = priorityFor("bob", "alice", nil)
	assert.False(t, ok)
}
