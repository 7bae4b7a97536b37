// Package loader resolves a plugin library URL to a constructed plugin
// instance, using one of two backends: native Go shared objects (file://
// URLs) or the in-process builder registry (builtin:// URLs).
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	plug "plugin"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// CreatePluginFunc is the symbol every .so plugin library must export.
// It mirrors the C-ABI create_plugin(config_json) entry point: the host
// marshals the plugin's configuration map to JSON and hands it across.
type CreatePluginFunc func(configJSON string) (ipg.Plugin, error)

// Loader discovers and constructs plugins declared by a pipeline
// configuration, logging discovery/load events the way a production
// deployment would want them surfaced.
type Loader struct {
	logger   *slog.Logger
	registry *ipg.Registry

	mu      sync.Mutex
	soCache map[string]*loadedLibrary

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
}

type loadedLibrary struct {
	create CreatePluginFunc
}

// Option configures a Loader at construction time.
type Option func(*Loader)

// WithRegistry overrides the builtin:// registry; defaults to the process
// default registry.
func WithRegistry(r *ipg.Registry) Option {
	return func(l *Loader) { l.registry = r }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

func New(opts ...Option) *Loader {
	l := &Loader{
		logger:  slog.Default(),
		soCache: make(map[string]*loadedLibrary),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.registry == nil {
		l.registry = ipg.Default()
	}
	return l
}

// Build resolves library (a file://, builtin://, or bare path URL) to a
// constructed plugin, validating config against the plugin's manifest (if
// one is present alongside a .so) before construction.
func (l *Loader) Build(library string, config map[string]string) (ipg.Plugin, error) {
	switch {
	case strings.HasPrefix(library, "builtin://"):
		name := strings.TrimPrefix(library, "builtin://")
		l.logger.Debug("loading builtin plugin", "name", name)
		return l.registry.Build(name, config)

	case strings.HasPrefix(library, "file://"):
		path := strings.TrimPrefix(library, "file://")
		return l.buildFromSharedObject(path, config)

	default:
		// Bare filesystem path, same as file:// for convenience.
		return l.buildFromSharedObject(library, config)
	}
}

func (l *Loader) buildFromSharedObject(path string, config map[string]string) (ipg.Plugin, error) {
	if manifest, err := loadManifest(path); err == nil && manifest != nil {
		if err := validateConfig(manifest, config); err != nil {
			return nil, fmt.Errorf("plugin loader: config for %s failed manifest validation: %w", path, err)
		}
	}

	l.mu.Lock()
	lib, ok := l.soCache[path]
	l.mu.Unlock()

	if !ok {
		l.logger.Info("opening plugin shared object", "path", path)
		p, err := plug.Open(path)
		if err != nil {
			return nil, fmt.Errorf("plugin loader: open %s: %w", path, err)
		}
		sym, err := p.Lookup("CreatePlugin")
		if err != nil {
			return nil, fmt.Errorf("plugin loader: %s does not export CreatePlugin: %w", path, err)
		}
		create, ok := sym.(func(string) (ipg.Plugin, error))
		if !ok {
			return nil, fmt.Errorf("plugin loader: %s CreatePlugin has an unexpected signature", path)
		}
		lib = &loadedLibrary{create: CreatePluginFunc(create)}
		l.mu.Lock()
		l.soCache[path] = lib
		l.mu.Unlock()
	}

	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("plugin loader: marshal config for %s: %w", path, err)
	}
	return lib.create(string(cfgJSON))
}

func loadManifest(soPath string) (*ipg.Manifest, error) {
	manifestPath := strings.TrimSuffix(soPath, ".so") + ".manifest.yaml"
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var m ipg.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plugin loader: parse manifest %s: %w", manifestPath, err)
	}
	return &m, nil
}

func validateConfig(manifest *ipg.Manifest, config map[string]string) error {
	if manifest == nil || manifest.Config == nil {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(manifest.Config)
	docLoader := gojsonschema.NewGoLoader(config)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid plugin config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// WatchDirectory starts watching dir for plugin file changes (new/removed
// .so files), invalidating the shared-object cache so the next Build call
// picks up the new library. This is advisory only: the pipeline holding
// existing plugin instances is unaffected until a reload swaps it out.
func (l *Loader) WatchDirectory(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("plugin loader: create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("plugin loader: watch %s: %w", dir, err)
	}
	l.watcher = w

	watchCtx, cancel := context.WithCancel(ctx)
	l.watchCancel = cancel

	go func() {
		defer w.Close()
		for {
			select {
			case <-watchCtx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, ".so") {
					l.logger.Info("plugin file changed, invalidating cache", "path", ev.Name, "op", ev.Op.String())
					l.mu.Lock()
					delete(l.soCache, ev.Name)
					l.mu.Unlock()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("plugin watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the directory watcher, if running.
func (l *Loader) Close() {
	if l.watchCancel != nil {
		l.watchCancel()
	}
}
