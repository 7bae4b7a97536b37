package leaf

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goatkit/beamhost/internal/reload"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// ConfigReloadPlugin answers a zero-body PATCH to the server's own
// config file by sending itself SIGHUP, the mechanism spec.md §6
// documents for triggering a reload over HTTP without a separate
// control channel.
type ConfigReloadPlugin struct {
	name string
}

func NewConfigReload(name string) *ConfigReloadPlugin {
	return &ConfigReloadPlugin{name: orDefault(name, "config-reload")}
}

// NewConfigReloadPlugin is the registry constructor (builtin://config-reload).
func NewConfigReloadPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewConfigReload(config["name"]), nil
}

func (p *ConfigReloadPlugin) Name() string { return p.name }

func isConfigFileRequest(requestPath, hostRoot, configFilePath string) bool {
	full := requestPath
	if strings.HasPrefix(requestPath, "/") {
		full = hostRoot + requestPath
	} else {
		full = hostRoot + "/" + requestPath
	}
	reqAbs, err1 := filepath.Abs(full)
	cfgAbs, err2 := filepath.Abs(configFilePath)
	return err1 == nil && err2 == nil && reqAbs == cfgAbs
}

func (p *ConfigReloadPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	configFilePath := pc.ServerMeta["config_file_path"]
	if configFilePath == "" {
		return nil, nil
	}
	hostRoot := pc.HostConfig["host_root"]
	if hostRoot == "" {
		hostRoot = "."
	}
	if !isConfigFileRequest(req.Path, hostRoot, configFilePath) {
		return nil, nil
	}

	switch req.HTTP.Method {
	case http.MethodPatch:
		length, _ := strconv.ParseInt(req.HTTP.Header.Get("Content-Length"), 10, 64)
		if length != 0 {
			return nil, nil
		}
		if err := reload.TriggerSelfSIGHUP(); err != nil {
			return &ipg.Response{HTTP: &http.Response{
				StatusCode: http.StatusInternalServerError,
				Status:     "500 Internal Server Error",
				Header:     http.Header{"Content-Type": []string{"text/plain"}},
				Body:       bodyFromBytes([]byte(fmt.Sprintf("failed to send reload signal: %v", err))),
			}}, nil
		}
		return &ipg.Response{HTTP: &http.Response{
			StatusCode: http.StatusAccepted,
			Status:     "202 Accepted",
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       bodyFromBytes([]byte("configuration reload initiated")),
		}}, nil
	case http.MethodOptions:
		return &ipg.Response{HTTP: &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header: http.Header{
				"Allow":         []string{"GET, PUT, DELETE, OPTIONS, PATCH, HEAD, POST"},
				"Accept-Ranges": []string{"selector"},
			},
			Body: http.NoBody,
		}}, nil
	default:
		return nil, nil
	}
}

func (p *ConfigReloadPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
