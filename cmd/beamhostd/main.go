// Command beamhostd serves documents from an HTML-microdata
// configuration document, editable in place over HTTP via CSS
// selectors.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "github.com/goatkit/beamhost/internal/builtins"

	"github.com/goatkit/beamhost/internal/config"
	"github.com/goatkit/beamhost/internal/dispatcher"
	"github.com/goatkit/beamhost/internal/logging"
	"github.com/goatkit/beamhost/internal/plugin/loader"
	"github.com/goatkit/beamhost/internal/reload"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "beamhostd",
		Short: "Serve and edit HTML documents over HTTP via CSS selectors",
	}
	root.PersistentFlags().String("config", "./config/server.html", "path to the server configuration document")
	root.PersistentFlags().String("plugin-dir", "", "directory to watch for .so plugin libraries")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "log format: text or json")
	v.BindPFlags(root.PersistentFlags())
	v.SetEnvPrefix("beamhostd")
	v.AutomaticEnv()

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newConfigCmd(v))
	return root
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}
}

func newConfigCmd(v *viper.Viper) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Inspect or reload the configuration document"}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Parse the configuration document and report errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := config.LoadFromURL(v.GetString("config"))
			if err != nil {
				return err
			}
			fmt.Printf("configuration valid: %d host(s)\n", len(sc.Hosts))
			for name := range sc.Hosts {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return reload.TriggerSelfSIGHUP()
		},
	})

	return cfgCmd
}

func runServe(v *viper.Viper) error {
	logger := logging.New(v.GetString("log-level"), v.GetString("log-format"))

	configPath := v.GetString("config")
	sc, err := config.LoadFromURL(configPath)
	if err != nil {
		return fmt.Errorf("beamhostd: load configuration: %w", err)
	}

	ld := loader.New(loader.WithLogger(logger))
	if dir := v.GetString("plugin-dir"); dir != "" {
		if err := ld.WatchDirectory(context.Background(), dir); err != nil {
			return fmt.Errorf("beamhostd: watch plugin directory: %w", err)
		}
		defer ld.Close()
	}

	serverMeta := map[string]string{
		"server_root":      sc.ServerRoot,
		"config_file_path": configPath,
	}
	dispatch := dispatcher.New(serverMeta, logger)

	rc := reload.New(configPath, dispatch, ld, logger)
	if err := rc.LoadInitial(); err != nil {
		return fmt.Errorf("beamhostd: initial configuration load: %w", err)
	}

	stop := make(chan struct{})
	go rc.WatchSignals(stop)
	go func() {
		if err := rc.WatchFile(stop); err != nil {
			logger.Warn("config file watch ended", "error", err)
		}
	}()
	defer close(stop)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.NoRoute(dispatch.Handler())

	addr := sc.BindAddress + ":" + strconv.Itoa(sc.BindPort)
	srv := &http.Server{Addr: addr, Handler: engine}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", addr, "hosts", len(sc.Hosts))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("beamhostd: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
