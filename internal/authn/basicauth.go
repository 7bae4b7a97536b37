// Package authn implements the authentication plugins: HTTP Basic against
// an HTML microdata user file, LDAP bind, and bearer JWT verification. Each
// sets metadata["authenticated_user"] (and a synthetic role list) for the
// authorization plugin further down the pipeline; none of them decide
// whether the request is *allowed*, only who is asking.
package authn

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/goatkit/beamhost/internal/microdata"
	ipg "github.com/goatkit/beamhost/internal/plugin"
)

type basicUser struct {
	username   string
	password   string
	encryption string
	roles      []string
}

// BasicAuthPlugin checks HTTP Basic credentials against a User microdata
// file loaded once at construction time (consistent with the teacher's
// ahead-of-time auth-file parse rather than a per-request reload).
type BasicAuthPlugin struct {
	name  string
	users map[string]basicUser
}

func NewBasicAuth(name, authFile string) (*BasicAuthPlugin, error) {
	if name == "" {
		name = "basic-auth"
	}
	users, err := loadBasicUsers(authFile)
	if err != nil {
		return nil, fmt.Errorf("authn: load basic-auth users from %s: %w", authFile, err)
	}
	return &BasicAuthPlugin{name: name, users: users}, nil
}

// NewBasicAuthPlugin is the registry constructor (builtin://basic-auth).
func NewBasicAuthPlugin(config map[string]string) (ipg.Plugin, error) {
	authFile := config["authFile"]
	if authFile == "" {
		authFile = config["authfile"]
	}
	return NewBasicAuth(config["name"], authFile)
}

func loadBasicUsers(authFile string) (map[string]basicUser, error) {
	path := strings.TrimPrefix(authFile, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	items, err := microdata.New().Extract(data)
	if err != nil {
		return nil, err
	}

	users := make(map[string]basicUser)
	for _, it := range items {
		if it.ItemType() != "http://rustybeam.net/User" {
			continue
		}
		username, _ := it.GetProperty("username")
		password, _ := it.GetProperty("password")
		if username == "" || password == "" {
			continue
		}
		encryption, ok := it.GetProperty("encryption")
		if !ok || encryption == "" {
			encryption = "plaintext"
		}
		users[username] = basicUser{
			username:   username,
			password:   password,
			encryption: encryption,
			roles:      it.GetPropertyValues("role"),
		}
	}
	return users, nil
}

func (p *BasicAuthPlugin) Name() string { return p.name }

func (p *BasicAuthPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	username, password, ok := parseBasicAuthHeader(req.HTTP.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}

	user, known := p.users[username]
	if !known || !verifyPassword(password, user.password, user.encryption) {
		return nil, nil
	}

	req.SetMetadata("authenticated_user", user.username)
	if len(user.roles) > 0 {
		req.SetMetadata("authenticated_roles", strings.Join(user.roles, ","))
	}
	return nil, nil
}

func (p *BasicAuthPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}

func parseBasicAuthHeader(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func verifyPassword(provided, stored, encryption string) bool {
	switch encryption {
	case "plaintext":
		return provided == stored
	case "bcrypt":
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(provided)) == nil
	default:
		return false
	}
}
