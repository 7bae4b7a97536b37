package leaf

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// JavaScriptPlugin runs a user-supplied script, loaded once at
// construction, exposing a global handleRequest(req) function that
// returns {status, headers, body} or null/undefined to pass through.
// goja has no filesystem/network bindings unless explicitly injected,
// and none are injected here: this is a convenience sandbox, not a
// security boundary, matching the non-sandboxed plugin model throughout.
type JavaScriptPlugin struct {
	name   string
	source string

	mu sync.Mutex
	vm *goja.Runtime
}

func NewJavaScript(name, scriptFile string) (*JavaScriptPlugin, error) {
	path := strings.TrimPrefix(scriptFile, "file://")
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leaf: read javascript-engine script %s: %w", path, err)
	}
	p := &JavaScriptPlugin{name: orDefault(name, "javascript-engine"), source: string(source)}
	if err := p.reset(); err != nil {
		return nil, err
	}
	return p, nil
}

// NewJavaScriptPlugin is the registry constructor (builtin://javascript-engine).
func NewJavaScriptPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewJavaScript(config["name"], config["script"])
}

func (p *JavaScriptPlugin) reset() error {
	vm := goja.New()
	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	console.Set("error", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("console", console)
	if _, err := vm.RunString(p.source); err != nil {
		return fmt.Errorf("leaf: javascript-engine script failed to load: %w", err)
	}
	p.vm = vm
	return nil
}

func (p *JavaScriptPlugin) Name() string { return p.name }

type jsResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

func (p *JavaScriptPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle := p.vm.Get("handleRequest")
	if handle == nil {
		return nil, nil
	}
	fn, ok := goja.AssertFunction(handle)
	if !ok {
		return nil, nil
	}

	body, _ := req.Body()
	jsReq := p.vm.NewObject()
	jsReq.Set("method", req.HTTP.Method)
	jsReq.Set("path", req.Path)
	jsReq.Set("body", string(body))
	headers := p.vm.NewObject()
	for k, v := range req.HTTP.Header {
		if len(v) > 0 {
			headers.Set(k, v[0])
		}
	}
	jsReq.Set("headers", headers)
	metadata := p.vm.NewObject()
	for k, v := range req.Metadata {
		metadata.Set(k, v)
	}
	jsReq.Set("metadata", metadata)

	value, err := fn(goja.Undefined(), jsReq)
	if err != nil {
		return nil, fmt.Errorf("leaf: javascript-engine handler error: %w", err)
	}
	if value == nil || goja.IsNull(value) || goja.IsUndefined(value) {
		return nil, nil
	}

	var result jsResult
	if err := p.vm.ExportTo(value, &result); err != nil {
		return nil, fmt.Errorf("leaf: javascript-engine handler returned an unexpected shape: %w", err)
	}
	if result.Status == 0 {
		result.Status = http.StatusOK
	}

	h := http.Header{}
	for k, v := range result.Headers {
		h.Set(k, v)
	}
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: result.Status,
		Status:     http.StatusText(result.Status),
		Header:     h,
		Body:       bodyFromBytes([]byte(result.Body)),
	}}, nil
}

func (p *JavaScriptPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
