package authn

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// LDAPAuthPlugin authenticates HTTP Basic credentials against a directory
// server: bind as the submitted user (or a configured service account
// followed by a search-and-rebind), then read the role attribute off the
// resulting entry.
type LDAPAuthPlugin struct {
	name         string
	url          string
	baseDN       string
	userFilter   string // e.g. "(uid=%s)"
	roleAttr     string
	bindDN       string // optional service-account DN for search-and-rebind
	bindPassword string
}

type LDAPConfig struct {
	Name         string
	URL          string
	BaseDN       string
	UserFilter   string
	RoleAttr     string
	BindDN       string
	BindPassword string
}

func NewLDAPAuth(cfg LDAPConfig) *LDAPAuthPlugin {
	name := cfg.Name
	if name == "" {
		name = "ldap-auth"
	}
	filter := cfg.UserFilter
	if filter == "" {
		filter = "(uid=%s)"
	}
	roleAttr := cfg.RoleAttr
	if roleAttr == "" {
		roleAttr = "memberOf"
	}
	return &LDAPAuthPlugin{
		name:         name,
		url:          cfg.URL,
		baseDN:       cfg.BaseDN,
		userFilter:   filter,
		roleAttr:     roleAttr,
		bindDN:       cfg.BindDN,
		bindPassword: cfg.BindPassword,
	}
}

// NewLDAPAuthPlugin is the registry constructor (builtin://ldap-auth).
func NewLDAPAuthPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewLDAPAuth(LDAPConfig{
		Name:         config["name"],
		URL:          config["url"],
		BaseDN:       config["baseDN"],
		UserFilter:   config["userFilter"],
		RoleAttr:     config["roleAttribute"],
		BindDN:       config["bindDN"],
		BindPassword: resolveSecret(config["bindPasswordEnv"]),
	}), nil
}

func (p *LDAPAuthPlugin) Name() string { return p.name }

func (p *LDAPAuthPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	username, password, ok := parseBasicAuthHeader(req.HTTP.Header.Get("Authorization"))
	if !ok {
		return nil, nil
	}

	roles, err := p.authenticate(username, password)
	if err != nil {
		pc.Logger().Debugf("ldap-auth: bind failed for %q: %v", username, err)
		return nil, nil
	}

	req.SetMetadata("authenticated_user", username)
	if len(roles) > 0 {
		req.SetMetadata("authenticated_roles", strings.Join(roles, ","))
	}
	return nil, nil
}

func (p *LDAPAuthPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}

// authenticate performs a search-and-rebind: bind with the service
// account (if configured, else anonymously), search for the user's DN,
// then rebind as that DN with the submitted password to verify it.
func (p *LDAPAuthPlugin) authenticate(username, password string) ([]string, error) {
	conn, err := ldap.DialURL(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.url, err)
	}
	defer conn.Close()

	if p.bindDN != "" {
		if err := conn.Bind(p.bindDN, p.bindPassword); err != nil {
			return nil, fmt.Errorf("service bind: %w", err)
		}
	}

	filter := strings.ReplaceAll(p.userFilter, "%s", ldap.EscapeFilter(username))
	searchReq := ldap.NewSearchRequest(
		p.baseDN, ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		filter, []string{p.roleAttr}, nil,
	)
	result, err := conn.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(result.Entries) != 1 {
		return nil, fmt.Errorf("user %q not found or ambiguous", username)
	}
	entry := result.Entries[0]

	if err := conn.Bind(entry.DN, password); err != nil {
		return nil, fmt.Errorf("user bind: %w", err)
	}

	return entry.GetAttributeValues(p.roleAttr), nil
}
