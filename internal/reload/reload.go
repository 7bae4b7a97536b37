// Package reload watches for SIGHUP (or an explicit trigger from the
// config-reload plugin's PATCH handler) and atomically rebuilds the
// dispatcher's host table from the configuration document. Reload
// failures leave the previous host table live.
package reload

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/goatkit/beamhost/internal/config"
	"github.com/goatkit/beamhost/internal/dispatcher"
	"github.com/goatkit/beamhost/internal/plugin/loader"
)

// Controller owns the SIGHUP signal loop and the rebuild logic.
type Controller struct {
	configPath string
	dispatch   *dispatcher.Dispatcher
	loader     *loader.Loader
	logger     *slog.Logger

	mu       sync.Mutex
	lastGood *config.ServerConfig
}

func New(configPath string, dispatch *dispatcher.Dispatcher, ld *loader.Loader, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{configPath: configPath, dispatch: dispatch, loader: ld, logger: logger}
}

// LoadInitial performs the startup load. Unlike Reload, a startup failure
// is fatal: the caller should abort the server, per spec.md's error
// handling design ("failures during server startup... are fatal").
func (c *Controller) LoadInitial() error {
	sc, err := config.LoadFromURL(c.configPath)
	if err != nil {
		return err
	}
	table, err := buildHostTable(sc, c.loader)
	if err != nil {
		return err
	}
	c.dispatch.SetHostTable(table)
	c.mu.Lock()
	c.lastGood = sc
	c.mu.Unlock()
	return nil
}

// Reload re-reads the configuration document and swaps the host table.
// A failure here is logged and does NOT affect the currently served
// hosts.
func (c *Controller) Reload() error {
	sc, err := config.LoadFromURL(c.configPath)
	if err != nil {
		c.logger.Warn("config reload failed, keeping previous host table", "error", err)
		return err
	}
	table, err := buildHostTable(sc, c.loader)
	if err != nil {
		c.logger.Warn("config reload failed while building pipelines, keeping previous host table", "error", err)
		return err
	}
	c.dispatch.SetHostTable(table)
	c.mu.Lock()
	c.lastGood = sc
	c.mu.Unlock()
	c.logger.Info("config reloaded", "hosts", len(sc.Hosts))
	return nil
}

// HostNames reports the hosts served by the last successfully loaded
// configuration, used by health/introspection endpoints and tests.
func (c *Controller) HostNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastGood == nil {
		return nil
	}
	names := make([]string, 0, len(c.lastGood.Hosts))
	for n := range c.lastGood.Hosts {
		names = append(names, n)
	}
	return names
}

// WatchSignals listens for SIGHUP until stop is closed, calling Reload on
// each delivery.
func (c *Controller) WatchSignals(stop <-chan struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-stop:
			return
		case <-sigCh:
			if err := c.Reload(); err != nil {
				c.logger.Warn("SIGHUP-triggered reload failed", "error", err)
			}
		}
	}
}

// WatchFile watches the config file's directory for writes to the
// config file itself, triggering a Reload on each one. Watching the
// directory rather than the file directly survives editors that save
// by rename-into-place, which would otherwise orphan a direct watch on
// the old inode. Runs until stop is closed.
func (c *Controller) WatchFile(stop <-chan struct{}) error {
	path := strings.TrimPrefix(c.configPath, "file://")
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		return err
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.Warn("file-watch-triggered reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("config file watch error", "error", err)
		}
	}
}

// TriggerSelfSIGHUP is used by the config-reload plugin's PATCH handler:
// it sends SIGHUP to this process, which WatchSignals then picks up,
// keeping the actual rebuild on the single signal-driven path.
func TriggerSelfSIGHUP() error {
	p, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return p.Signal(syscall.SIGHUP)
}

func buildHostTable(sc *config.ServerConfig, ld *loader.Loader) (dispatcher.HostTable, error) {
	table := make(dispatcher.HostTable, len(sc.Hosts))
	for name, hc := range sc.Hosts {
		p, err := dispatcher.BuildPipeline(hc.Pipeline, ld)
		if err != nil {
			return nil, err
		}
		cfg := map[string]string{"host_root": hc.HostRoot}
		for k, v := range hc.Extra {
			cfg[k] = v
		}
		table[name] = &dispatcher.HostEntry{Root: hc.HostRoot, Pipeline: p, Config: cfg}
	}
	return table, nil
}
