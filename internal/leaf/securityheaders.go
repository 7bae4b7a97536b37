package leaf

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// SecurityHeadersPlugin stamps a fixed set of hardening headers onto
// every response; it never terminates the request phase.
type SecurityHeadersPlugin struct {
	name                  string
	cspPolicy             string
	hstsMaxAge            string
	hstsIncludeSubdomains bool
	hstsPreload           bool
	frameOptions          string
	contentTypeOptions    bool
	referrerPolicy        string
	permissionsPolicy     string
	xssProtection         string
}

func NewSecurityHeaders(config map[string]string) *SecurityHeadersPlugin {
	p := &SecurityHeadersPlugin{
		name:              orDefault(config["name"], "security-headers"),
		cspPolicy:         orDefault(config["cspPolicy"], "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'"),
		hstsMaxAge:        orDefault(config["hstsMaxAge"], "31536000"),
		frameOptions:      orDefault(config["frameOptions"], "SAMEORIGIN"),
		referrerPolicy:    orDefault(config["referrerPolicy"], "strict-origin-when-cross-origin"),
		permissionsPolicy: config["permissionsPolicy"],
		xssProtection:     orDefault(config["xssProtection"], "1; mode=block"),
	}
	p.hstsIncludeSubdomains = parseBoolDefault(config["hstsIncludeSubdomains"], true)
	p.hstsPreload = parseBoolDefault(config["hstsPreload"], false)
	p.contentTypeOptions = parseBoolDefault(config["contentTypeOptions"], true)
	return p
}

// NewSecurityHeadersPlugin is the registry constructor (builtin://security-headers).
func NewSecurityHeadersPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewSecurityHeaders(config), nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func parseBoolDefault(v string, fallback bool) bool {
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (p *SecurityHeadersPlugin) Name() string { return p.name }

func (p *SecurityHeadersPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	return nil, nil
}

func isHTTPSRequest(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.EqualFold(proto, "https")
	}
	return r.URL != nil && r.URL.Scheme == "https"
}

func (p *SecurityHeadersPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	h := resp.Header
	if h == nil {
		h = http.Header{}
		resp.Header = h
	}

	if p.cspPolicy != "" {
		h.Set("Content-Security-Policy", p.cspPolicy)
	}
	if p.hstsMaxAge != "" && isHTTPSRequest(req.HTTP) {
		value := fmt.Sprintf("max-age=%s", p.hstsMaxAge)
		if p.hstsIncludeSubdomains {
			value += "; includeSubDomains"
		}
		if p.hstsPreload {
			value += "; preload"
		}
		h.Set("Strict-Transport-Security", value)
	}
	if p.frameOptions != "" {
		h.Set("X-Frame-Options", p.frameOptions)
	}
	if p.contentTypeOptions {
		h.Set("X-Content-Type-Options", "nosniff")
	}
	if p.referrerPolicy != "" {
		h.Set("Referrer-Policy", p.referrerPolicy)
	}
	if p.permissionsPolicy != "" {
		h.Set("Permissions-Policy", p.permissionsPolicy)
	}
	if p.xssProtection != "" {
		h.Set("X-XSS-Protection", p.xssProtection)
	}
	h.Del("Server")
	h.Set("Server", "beamhost")
	return nil
}
