package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func signHMAC(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func newJWTTestRequest(bearer string) *ipg.Request {
	req := &ipg.Request{
		HTTP: httptest.NewRequest(http.MethodGet, "/doc.html", nil),
		Path: "/doc.html",
	}
	if bearer != "" {
		req.HTTP.Header.Set("Authorization", "Bearer "+bearer)
	}
	return req
}

func TestJWTAuthAcceptsValidHMACToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "sup3rsecret")
	p, err := NewJWTAuth(JWTConfig{SecretEnv: "JWT_SECRET"})
	require.NoError(t, err)

	token := signHMAC(t, []byte("sup3rsecret"), jwt.MapClaims{
		"sub":   "alice",
		"roles": []any{"editor", "reviewer"},
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	req := newJWTTestRequest(token)
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "alice", req.Metadata["authenticated_user"])
	assert.Equal(t, "editor,reviewer", req.Metadata["authenticated_roles"])
}

func TestJWTAuthRejectsTokenSignedWithWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "sup3rsecret")
	p, err := NewJWTAuth(JWTConfig{SecretEnv: "JWT_SECRET"})
	require.NoError(t, err)

	token := signHMAC(t, []byte("wrong-secret"), jwt.MapClaims{"sub": "alice"})

	req := newJWTTestRequest(token)
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	_, ok := req.GetMetadata("authenticated_user")
	assert.False(t, ok)
}

func TestJWTAuthRejectsExpiredToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "sup3rsecret")
	p, err := NewJWTAuth(JWTConfig{SecretEnv: "JWT_SECRET"})
	require.NoError(t, err)

	token := signHMAC(t, []byte("sup3rsecret"), jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	req := newJWTTestRequest(token)
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	_, ok := req.GetMetadata("authenticated_user")
	assert.False(t, ok)
}

func TestJWTAuthPassesThroughWithoutBearerHeader(t *testing.T) {
	t.Setenv("JWT_SECRET", "sup3rsecret")
	p, err := NewJWTAuth(JWTConfig{SecretEnv: "JWT_SECRET"})
	require.NoError(t, err)

	req := newJWTTestRequest("")
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Nil(t, req.Metadata)
}

func TestJWTAuthVerifiesRS256Token(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	p, err := NewJWTAuth(JWTConfig{Algorithm: "RS256", PublicKeyPEM: string(pubPEM)})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	req := newJWTTestRequest(signed)
	resp, err := p.HandleRequest(context.Background(), req, &ipg.Context{})
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, "alice", req.Metadata["authenticated_user"])
}

func TestRolesFromClaimIgnoresNonStringEntries(t *testing.T) {
	roles := rolesFromClaim([]any{"admin", 42, "ops"})
	assert.Equal(t, []string{"admin", "ops"}, roles)

	assert.Nil(t, rolesFromClaim("not-a-list"))
}
