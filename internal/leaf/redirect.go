package leaf

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/goatkit/beamhost/internal/microdata"
	ipg "github.com/goatkit/beamhost/internal/plugin"
)

type redirectRule struct {
	pattern     *regexp.Regexp
	replacement string
	statusCode  int
}

// RedirectPlugin matches the request path against a set of RedirectRule
// microdata entries, rewriting and redirecting on the first match.
type RedirectPlugin struct {
	name      string
	rulesFile string
	rules     []redirectRule
}

func NewRedirect(name, rulesFile string) *RedirectPlugin {
	p := &RedirectPlugin{name: orDefault(name, "redirect"), rulesFile: rulesFile}
	p.rules, _ = loadRedirectRules(rulesFile)
	return p
}

// NewRedirectPlugin is the registry constructor (builtin://redirect).
func NewRedirectPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewRedirect(config["name"], config["rulesfile"]), nil
}

func loadRedirectRules(rulesFile string) ([]redirectRule, error) {
	if rulesFile == "" {
		return nil, nil
	}
	path := strings.TrimPrefix(rulesFile, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	items, err := microdata.New().Extract(data)
	if err != nil {
		return nil, err
	}

	var rules []redirectRule
	for _, it := range items {
		if it.ItemType() != "http://rustybeam.net/RedirectRule" {
			continue
		}
		from, _ := it.GetProperty("from")
		to, _ := it.GetProperty("to")
		if from == "" || to == "" {
			continue
		}
		pattern, err := regexp.Compile(from)
		if err != nil {
			continue
		}
		status := 302
		if s, ok := it.GetProperty("status"); ok {
			if n, err := strconv.Atoi(s); err == nil {
				status = n
			}
		}
		rules = append(rules, redirectRule{pattern: pattern, replacement: to, statusCode: status})
	}
	return rules, nil
}

func (p *RedirectPlugin) Name() string { return p.name }

func (p *RedirectPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	for _, rule := range p.rules {
		if !rule.pattern.MatchString(req.Path) {
			continue
		}
		target := rule.pattern.ReplaceAllString(req.Path, rule.replacement)
		return &ipg.Response{HTTP: &http.Response{
			StatusCode: rule.statusCode,
			Status:     http.StatusText(rule.statusCode),
			Header:     http.Header{"Location": []string{target}},
			Body:       http.NoBody,
		}}, nil
	}
	return nil, nil
}

func (p *RedirectPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
