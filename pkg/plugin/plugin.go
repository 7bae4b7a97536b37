// Package plugin defines the contract between the host and a request-pipeline plugin.
package plugin

import (
	"context"
	"io"
	"net/http"
	"sync"
)

// Plugin is implemented by every pipeline element, whether loaded from a
// shared object or registered with the in-process builder backend.
type Plugin interface {
	// Name identifies the plugin in logs and error messages.
	Name() string

	// HandleRequest runs in request-phase, front-to-back pipeline order.
	// Returning a nil response means "pass to the next plugin"; a non-nil
	// response terminates the request phase and makes this plugin the
	// generator for the current request.
	HandleRequest(ctx context.Context, req *Request, pc *Context) (*Response, error)

	// HandleResponse runs in response-phase order (see the pipeline engine
	// for exactly which plugins are called). It may mutate resp in place.
	HandleResponse(ctx context.Context, req *Request, resp *http.Response, pc *Context) error
}

// Request is the mutable record threaded through one pipeline traversal.
// It is exclusively owned by the goroutine processing the request; no
// aliasing across requests is permitted.
type Request struct {
	HTTP *http.Request

	// ResponseWriter is set by the dispatcher and is only meant to be used
	// by a plugin that needs to take over the connection itself (the
	// WebSocket broadcaster's protocol upgrade). Ordinary plugins never
	// touch it; writing the response is the dispatcher's job.
	ResponseWriter http.ResponseWriter

	// Path is the decoded URI path, no query string.
	Path string

	// CanonicalPath is the absolute on-disk path once a file-serving
	// plugin has resolved it. Empty until set.
	CanonicalPath string

	// Metadata is the only in-band communication channel between plugins.
	// Documented keys: authenticated_user, authorized_user, authorized,
	// rate_limit_key, applied_selector, posted_content, selected_content,
	// host_root.
	Metadata map[string]string

	mu        sync.Mutex
	bodyRead  bool
	bodyCache []byte
	bodyErr   error
}

// Body returns the request body, reading it at most once and caching the
// result for subsequent callers in the same pipeline traversal.
func (r *Request) Body() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodyRead {
		return r.bodyCache, r.bodyErr
	}
	r.bodyRead = true
	if r.HTTP == nil || r.HTTP.Body == nil {
		return nil, nil
	}
	buf, err := io.ReadAll(r.HTTP.Body)
	if err != nil && err != io.EOF {
		r.bodyErr = err
	}
	r.bodyCache = buf
	return r.bodyCache, r.bodyErr
}

// GetMetadata is a nil-map-safe accessor mirroring the original source's
// PluginRequest::get_metadata helper.
func (r *Request) GetMetadata(key string) (string, bool) {
	if r.Metadata == nil {
		return "", false
	}
	v, ok := r.Metadata[key]
	return v, ok
}

// SetMetadata is a nil-map-safe mutator.
func (r *Request) SetMetadata(key, value string) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	r.Metadata[key] = value
}

// UpgradeFunc is returned by a plugin that has already taken over the
// connection (via Request.ResponseWriter) during HandleRequest. The
// dispatcher calls it once the response phase completes and does not
// touch the connection itself; the plugin owns the connection's
// lifetime from here on.
type UpgradeFunc func() error

// Response is what a plugin returns to terminate the request phase.
type Response struct {
	HTTP    *http.Response
	Upgrade UpgradeFunc
}

// Context is the read-mostly record passed by reference to every plugin
// call. It may outlive a single request and is safe to share concurrently;
// callers must treat it as immutable for the duration of a request.
type Context struct {
	// Config layers plugin < host < server, outermost lookup last.
	PluginConfig map[string]string
	HostConfig   map[string]string
	ServerConfig map[string]string

	HostName      string
	RequestID     string
	Verbose       bool
	ServerMeta    map[string]string
	LoggerFactory func() Logger
}

// Logger is the uniform observability surface threaded through
// PluginContext, resolving the open question of plugins logging ad hoc via
// stderr/println.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Logger returns the context's logger, or a no-op logger if none was set.
func (c *Context) Logger() Logger {
	if c.LoggerFactory != nil {
		if l := c.LoggerFactory(); l != nil {
			return l
		}
	}
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Get walks plugin -> host -> server configuration maps and returns the
// first hit.
func (c *Context) Get(key string) (string, bool) {
	if v, ok := c.PluginConfig[key]; ok {
		return v, true
	}
	if v, ok := c.HostConfig[key]; ok {
		return v, true
	}
	if v, ok := c.ServerConfig[key]; ok {
		return v, true
	}
	return "", false
}

// Constructor builds a Plugin instance from its string-valued configuration
// map, mirroring the create_plugin(config_json) ABI entry point.
type Constructor func(config map[string]string) (Plugin, error)
