// Package authz implements resource authorization: path/selector-scoped
// allow/deny rules evaluated against the authenticated user set by an
// authn plugin earlier in the pipeline.
package authz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
	"github.com/goatkit/beamhost/internal/selector"
)

// Plugin evaluates AuthorizationRule microdata against the request.
type Plugin struct {
	name     string
	authFile string
}

func New(name, authFile string) *Plugin {
	if name == "" {
		name = "authorization"
	}
	return &Plugin{name: name, authFile: authFile}
}

// NewPlugin is the registry constructor (builtin://authorization).
func NewPlugin(config map[string]string) (ipg.Plugin, error) {
	return New(config["name"], config["authfile"]), nil
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	method := req.HTTP.Method

	if method == http.MethodOptions {
		req.SetMetadata("authorized", "true")
		if user, ok := req.GetMetadata("authenticated_user"); ok {
			req.SetMetadata("authorized_user", user)
		}
		return nil, nil
	}

	user, ok := req.GetMetadata("authenticated_user")
	if !ok {
		user = "*"
	}

	logger := pc.Logger()
	logger.Debugf("checking authorization for user %q on %q with method %s", user, req.Path, method)

	allowed, err := p.isAuthorized(user, req, method, pc)
	if err != nil {
		logger.Warnf("failed to load authorization rules, denying access: %v", err)
		return &ipg.Response{HTTP: accessDenied(user, req.Path, method)}, nil
	}
	if !allowed {
		return &ipg.Response{HTTP: accessDenied(user, req.Path, method)}, nil
	}

	req.SetMetadata("authorized", "true")
	req.SetMetadata("authorized_user", user)
	return nil, nil
}

func (p *Plugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}

func (p *Plugin) isAuthorized(username string, req *ipg.Request, method string, pc *ipg.Context) (bool, error) {
	if p.authFile == "" {
		return false, fmt.Errorf("authz: no authfile configured")
	}
	rs, err := LoadRuleSet(p.authFile)
	if err != nil {
		return false, err
	}

	roles := rs.rolesFor(username)
	methodUpper := strings.ToUpper(method)
	requestSelector, hasSelector := extractSelector(req.HTTP)

	var (
		bestPriority = -1
		best         *Rule
	)
	for i := range rs.Rules {
		rule := &rs.Rules[i]

		if !containsFold(rule.Methods, methodUpper) {
			continue
		}
		if !pathMatches(req.Path, rule.Path) {
			continue
		}
		if hasSelector && rule.Selector == "" {
			continue
		}
		if !hasSelector && rule.Selector != "" {
			continue
		}

		priority, ok := priorityFor(rule.Username, username, roles)
		if !ok {
			continue
		}

		if rule.Selector != "" {
			filePath := constructFilePath(req, pc)
			if !checkSelectorMatch(rule.Selector, requestSelector, filePath, pc) {
				continue
			}
		}

		if priority > bestPriority {
			bestPriority = priority
			best = rule
		}
	}

	if best == nil {
		return false, nil
	}
	return best.Action == PermissionAllow, nil
}

func containsFold(ss []string, s string) bool {
	for _, v := range ss {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// extractSelector pulls the CSS selector out of a Range: selector=<enc>
// header, matching the selector-handler's own parsing rule.
func extractSelector(r *http.Request) (string, bool) {
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		return "", false
	}
	const prefix = "selector="
	idx := strings.Index(rangeHeader, prefix)
	if idx < 0 {
		return "", false
	}
	raw := strings.TrimSpace(rangeHeader[idx+len(prefix):])
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw, true
	}
	return decoded, true
}

// constructFilePath mirrors the original's host_root resolution order:
// host config, then request metadata, then server config.
func constructFilePath(req *ipg.Request, pc *ipg.Context) string {
	hostRoot, ok := pc.HostConfig["host_root"]
	if !ok {
		hostRoot, ok = pc.HostConfig["hostRoot"]
	}
	if !ok {
		hostRoot, ok = req.GetMetadata("host_root")
	}
	if !ok {
		hostRoot, ok = pc.ServerConfig["server_root"]
	}
	if !ok {
		hostRoot = "."
	}

	path := req.Path
	switch {
	case path == "/":
		path = "/index.html"
	case strings.HasSuffix(path, "/"):
		path = strings.TrimSuffix(path, "/") + "/index.html"
	}
	return hostRoot + path
}

// checkSelectorMatch implements the DOM-aware subset check: the elements
// matched by the request's selector must all appear (by outer HTML) among
// the elements matched by the rule's selector. Falls back to plain string
// equality when the file cannot be parsed as HTML.
func checkSelectorMatch(ruleSelector, requestSelector, filePath string, pc *ipg.Context) bool {
	if ruleSelector == "*" {
		return true
	}

	logger := pc.Logger()
	if !strings.HasSuffix(filePath, ".html") && !strings.HasSuffix(filePath, ".htm") {
		logger.Debugf("non-HTML file %s, falling back to string comparison for selectors", filePath)
		return ruleSelector == requestSelector
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		logger.Debugf("could not read %s for selector check: %v", filePath, err)
		return ruleSelector == requestSelector
	}
	if strings.TrimSpace(string(content)) == "" {
		return ruleSelector == requestSelector
	}

	doc, err := selector.ParseDocument(content)
	if err != nil {
		return ruleSelector == requestSelector
	}
	ruleSel, err := selector.CompileSelector(ruleSelector)
	if err != nil {
		return ruleSelector == requestSelector
	}
	reqSel, err := selector.CompileSelector(requestSelector)
	if err != nil {
		return ruleSelector == requestSelector
	}

	eng := selector.New()
	superset, err := eng.MatchAll(doc, ruleSel)
	if err != nil {
		return ruleSelector == requestSelector
	}
	subset, err := eng.MatchAll(doc, reqSel)
	if err != nil {
		return ruleSelector == requestSelector
	}

	return isSubset(subset, superset)
}

func isSubset(subset, superset []string) bool {
	if len(subset) == 0 {
		return true
	}
	if len(superset) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(superset))
	for _, s := range superset {
		set[s] = struct{}{}
	}
	for _, s := range subset {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

func accessDenied(user, resource, method string) *http.Response {
	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>403 Forbidden</title></head>
<body>
<h1>403 Forbidden</h1>
<p>User '%s' does not have permission to %s '%s'.</p>
<p>Contact your administrator if you believe this is an error.</p>
</body>
</html>`, user, method, resource)

	return &http.Response{
		StatusCode: http.StatusForbidden,
		Status:     "403 Forbidden",
		Header:     http.Header{"Content-Type": []string{"text/html"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}
