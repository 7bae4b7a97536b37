package authn

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// JWTAuthPlugin verifies a Bearer token, the verification half of the
// token-issuing OAuth2 flow: it trusts whatever claims the token carries
// once the signature checks out, and copies the configured claim names
// into the same metadata keys basic-auth and ldap-auth use.
type JWTAuthPlugin struct {
	name        string
	secret      []byte         // HMAC key material, set when algorithm is HS*
	publicKey   *rsa.PublicKey // set when algorithm is RS*
	algorithm   string
	usernameKey string
	rolesKey    string
}

type JWTConfig struct {
	Name         string
	SecretEnv    string // env var naming the HMAC secret (HS* algorithms)
	PublicKeyPEM string // PEM-encoded RSA public key (RS* algorithms)
	Algorithm    string // e.g. HS256, RS256
	UsernameKey  string // claim holding the username, default "sub"
	RolesKey     string // claim holding a roles array, default "roles"
}

func NewJWTAuth(cfg JWTConfig) (*JWTAuthPlugin, error) {
	name := cfg.Name
	if name == "" {
		name = "jwt-auth"
	}
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = "HS256"
	}
	usernameKey := cfg.UsernameKey
	if usernameKey == "" {
		usernameKey = "sub"
	}
	rolesKey := cfg.RolesKey
	if rolesKey == "" {
		rolesKey = "roles"
	}

	p := &JWTAuthPlugin{name: name, algorithm: algorithm, usernameKey: usernameKey, rolesKey: rolesKey}
	if strings.HasPrefix(algorithm, "RS") {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("authn: parse RSA public key: %w", err)
		}
		p.publicKey = key
	} else {
		p.secret = []byte(resolveSecret(cfg.SecretEnv))
	}
	return p, nil
}

// NewJWTAuthPlugin is the registry constructor (builtin://jwt-auth). The
// HMAC secret is never a literal in configuration, only the name of an
// environment variable to read it from; an RSA public key, being public,
// is configured directly as PEM.
func NewJWTAuthPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewJWTAuth(JWTConfig{
		Name:         config["name"],
		SecretEnv:    config["secretEnv"],
		PublicKeyPEM: config["publicKey"],
		Algorithm:    config["algorithm"],
		UsernameKey:  config["usernameClaim"],
		RolesKey:     config["rolesClaim"],
	})
}

func (p *JWTAuthPlugin) Name() string { return p.name }

func (p *JWTAuthPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	token, ok := bearerToken(req.HTTP.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}

	claims, err := p.verify(token)
	if err != nil {
		pc.Logger().Debugf("jwt-auth: token rejected: %v", err)
		return nil, nil
	}

	username, _ := claims[p.usernameKey].(string)
	if username == "" {
		return nil, nil
	}
	req.SetMetadata("authenticated_user", username)

	if roles := rolesFromClaim(claims[p.rolesKey]); len(roles) > 0 {
		req.SetMetadata("authenticated_roles", strings.Join(roles, ","))
	}
	return nil, nil
}

func (p *JWTAuthPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}

func (p *JWTAuthPlugin) verify(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if p.publicKey != nil {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return p.publicKey, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithValidMethods([]string{p.algorithm}))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

func rolesFromClaim(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, r := range list {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
