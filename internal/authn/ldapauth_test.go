package authn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func newLDAPTestRequest() *ipg.Request {
	return &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil),
		Path: "/doc.html",
	}
}

func TestNewLDAPAuthAppliesDefaults(t *testing.T) {
	p := NewLDAPAuth(LDAPConfig{URL: "ldap://directory.example.com"})
	assert.Equal(t, "ldap-auth", p.name)
	assert.Equal(t, "(uid=%s)", p.userFilter)
	assert.Equal(t, "memberOf", p.roleAttr)
}

func TestNewLDAPAuthPluginResolvesBindPasswordFromEnv(t *testing.T) {
	t.Setenv("LDAP_BIND_PASSWORD", "s3cret")

	plugin, err := NewLDAPAuthPlugin(map[string]string{
		"url":             "ldap://directory.example.com",
		"baseDN":          "dc=example,dc=com",
		"bindDN":          "cn=admin,dc=example,dc=com",
		"bindPasswordEnv": "LDAP_BIND_PASSWORD",
	})
	assert.NoError(t, err)

	ldapPlugin, ok := plugin.(*LDAPAuthPlugin)
	assert.True(t, ok)
	assert.Equal(t, "s3cret", ldapPlugin.bindPassword)
}

func TestLDAPAuthPassesThroughWithoutBasicHeader(t *testing.T) {
	p := NewLDAPAuth(LDAPConfig{URL: "ldap://directory.example.com"})

	req := newLDAPTestRequest()
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	assert.NoError(t, err)
	assert.Nil(t, resp)
	_, ok := req.GetMetadata("authenticated_user")
	assert.False(t, ok)
}

func TestLDAPAuthFailsClosedWhenDirectoryUnreachable(t *testing.T) {
	p := NewLDAPAuth(LDAPConfig{URL: "ldap://127.0.0.1:1", BaseDN: "dc=example,dc=com"})

	req := newLDAPTestRequest()
	req.HTTP.Header.Set("Authorization", basicAuthHeader("alice", "hunter2"))

	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	assert.NoError(t, err)
	assert.Nil(t, resp)
	_, ok := req.GetMetadata("authenticated_user")
	assert.False(t, ok)
}
