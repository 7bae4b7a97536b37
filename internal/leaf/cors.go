package leaf

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// CORSPlugin answers cross-origin preflight requests directly and
// stamps the configured Access-Control-* headers onto every response.
type CORSPlugin struct {
	name             string
	allowedOrigins   []string
	allowedMethods   []string
	allowedHeaders   []string
	exposedHeaders   []string
	allowCredentials bool
	maxAge           string
}

func NewCORS(config map[string]string) *CORSPlugin {
	p := &CORSPlugin{
		name:           config["name"],
		allowedOrigins: splitCSV(config["allowedOrigins"], []string{"*"}),
		allowedMethods: splitCSV(config["allowedMethods"], []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		allowedHeaders: splitCSV(config["allowedHeaders"], []string{"Content-Type", "Authorization", "X-Requested-With"}),
		exposedHeaders: splitCSV(config["exposedHeaders"], nil),
	}
	if p.name == "" {
		p.name = "cors"
	}
	p.allowCredentials, _ = strconv.ParseBool(config["allowCredentials"])
	p.maxAge = config["maxAge"]
	return p
}

// NewCORSPlugin is the registry constructor (builtin://cors).
func NewCORSPlugin(config map[string]string) (ipg.Plugin, error) { return NewCORS(config), nil }

func splitCSV(v string, fallback []string) []string {
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (p *CORSPlugin) Name() string { return p.name }

func (p *CORSPlugin) isOriginAllowed(origin string) bool {
	for _, o := range p.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

func (p *CORSPlugin) allowedOriginFor(origin string) (string, bool) {
	if origin == "" || !p.isOriginAllowed(origin) {
		return "", false
	}
	wildcard := p.isOriginAllowed("*")
	if p.allowCredentials || !wildcard {
		return origin, true
	}
	return "*", true
}

func (p *CORSPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if req.HTTP.Method != http.MethodOptions {
		return nil, nil
	}
	if req.HTTP.Header.Get("Access-Control-Request-Method") == "" {
		return nil, nil
	}

	h := http.Header{}
	if origin, ok := p.allowedOriginFor(req.HTTP.Header.Get("Origin")); ok {
		h.Set("Access-Control-Allow-Origin", origin)
	}
	if len(p.allowedMethods) > 0 {
		h.Set("Access-Control-Allow-Methods", strings.Join(p.allowedMethods, ", "))
	}
	if len(p.allowedHeaders) > 0 {
		h.Set("Access-Control-Allow-Headers", strings.Join(p.allowedHeaders, ", "))
	}
	if p.allowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}

	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusNoContent,
		Status:     "204 No Content",
		Header:     h,
		Body:       http.NoBody,
	}}, nil
}

func (p *CORSPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	if origin, ok := p.allowedOriginFor(req.HTTP.Header.Get("Origin")); ok {
		resp.Header.Set("Access-Control-Allow-Origin", origin)
	}
	if len(p.exposedHeaders) > 0 {
		resp.Header.Set("Access-Control-Expose-Headers", strings.Join(p.exposedHeaders, ", "))
	}
	if p.allowCredentials {
		resp.Header.Set("Access-Control-Allow-Credentials", "true")
	}
	return nil
}
