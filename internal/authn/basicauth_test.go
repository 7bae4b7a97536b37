package authn

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func writeUserFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "users.html")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestBasicAuthAcceptsPlaintextCredentials(t *testing.T) {
	userFile := writeUserFile(t, `
<div itemscope itemtype="http://rustybeam.net/User">
  <span itemprop="username">alice</span>
  <span itemprop="password">hunter2</span>
  <span itemprop="role">editor</span>
</div>
`)
	p, err := NewBasicAuth("basic-auth", userFile)
	require.NoError(t, err)

	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil),
		Path: "/doc.html",
	}
	req.HTTP.Header.Set("Authorization", basicAuthHeader("alice", "hunter2"))

	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "alice", req.Metadata["authenticated_user"])
	assert.Equal(t, "editor", req.Metadata["authenticated_roles"])
}

func TestBasicAuthRejectsWrongPassword(t *testing.T) {
	userFile := writeUserFile(t, `
<div itemscope itemtype="http://rustybeam.net/User">
  <span itemprop="username">alice</span>
  <span itemprop="password">hunter2</span>
</div>
`)
	p, err := NewBasicAuth("basic-auth", userFile)
	require.NoError(t, err)

	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil),
		Path: "/doc.html",
	}
	req.HTTP.Header.Set("Authorization", basicAuthHeader("alice", "wrong"))

	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	_, ok := req.GetMetadata("authenticated_user")
	assert.False(t, ok)
}

func TestBasicAuthVerifiesBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.DefaultCost)
	require.NoError(t, err)

	userFile := writeUserFile(t, `
<div itemscope itemtype="http://rustybeam.net/User">
  <span itemprop="username">bob</span>
  <span itemprop="password">`+string(hash)+`</span>
  <span itemprop="encryption">bcrypt</span>
</div>
`)
	p, err := NewBasicAuth("basic-auth", userFile)
	require.NoError(t, err)

	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil),
		Path: "/doc.html",
	}
	req.HTTP.Header.Set("Authorization", basicAuthHeader("bob", "hunter2"))

	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "bob", req.Metadata["authenticated_user"])
}

func TestBasicAuthPassesThroughWithoutHeader(t *testing.T) {
	userFile := writeUserFile(t, `
<div itemscope itemtype="http://rustybeam.net/User">
  <span itemprop="username">alice</span>
  <span itemprop="password">hunter2</span>
</div>
`)
	p, err := NewBasicAuth("basic-auth", userFile)
	require.NoError(t, err)

	req := &ipg.Request{HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil), Path: "/doc.html"}
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Nil(t, req.Metadata)
}

func TestParseBasicAuthHeaderRejectsMalformed(t *testing.T) {
	_, _, ok := parseBasicAuthHeader("Bearer abc")
	assert.False(t, ok)

	_, _, ok = parseBasicAuthHeader("Basic not-base64!!")
	assert.False(t, ok)
}
