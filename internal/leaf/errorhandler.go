package leaf

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

const defaultErrorTemplate = `<!DOCTYPE html>
<html>
<head><title>Error {{status_code}} - {{reason}}</title></head>
<body>
<h1>{{status_code}} - {{reason}}</h1>
<p>The requested path '{{path}}' could not be served on {{host}}.</p>
<p><small>Generated at {{timestamp}}</small></p>
</body>
</html>`

// ErrorHandlerPlugin replaces 4xx/5xx responses with a styled HTML page,
// sourced from a per-status-code custom template file or a built-in
// default, substituting a small set of template variables.
type ErrorHandlerPlugin struct {
	name        string
	errorPages  map[int]string // status -> file path, relative to templateDir
	templateDir string
	logErrors   bool
	logger      *slog.Logger
}

func NewErrorHandler(config map[string]string) *ErrorHandlerPlugin {
	p := &ErrorHandlerPlugin{
		name:        orDefault(config["name"], "error-handler"),
		errorPages:  make(map[int]string),
		templateDir: config["errorTemplateDir"],
		logErrors:   parseBoolDefault(config["logErrors"], true),
		logger:      slog.Default(),
	}
	const prefix = "errorPage"
	for key, value := range config {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		code, err := strconv.Atoi(strings.TrimPrefix(key, prefix))
		if err != nil {
			continue
		}
		p.errorPages[code] = value
	}
	return p
}

// NewErrorHandlerPlugin is the registry constructor (builtin://error-handler).
func NewErrorHandlerPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewErrorHandler(config), nil
}

func (p *ErrorHandlerPlugin) Name() string { return p.name }

func (p *ErrorHandlerPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	return nil, nil
}

func (p *ErrorHandlerPlugin) renderTemplate(status int, path, host string) string {
	tmpl := defaultErrorTemplate
	if page, ok := p.errorPages[status]; ok {
		full := page
		if p.templateDir != "" && !strings.HasPrefix(page, "/") {
			full = strings.TrimSuffix(p.templateDir, "/") + "/" + page
		}
		if content, err := os.ReadFile(full); err == nil {
			tmpl = string(content)
		}
	}

	replacer := strings.NewReplacer(
		"{{status_code}}", strconv.Itoa(status),
		"{{reason}}", http.StatusText(status),
		"{{path}}", path,
		"{{host}}", host,
		"{{timestamp}}", time.Now().UTC().Format(time.RFC3339),
	)
	return replacer.Replace(tmpl)
}

func (p *ErrorHandlerPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if p.logErrors {
		p.logger.Warn("error response", "status", resp.StatusCode, "path", req.Path, "host", req.HTTP.Host)
	}

	body := p.renderTemplate(resp.StatusCode, req.Path, req.HTTP.Host)
	resp.Body = bodyFromBytes([]byte(body))
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	resp.ContentLength = int64(len(body))
	return nil
}
