// Package config loads the HTML-microdata configuration document into
// ServerConfig/HostConfig/PipelineItem data, the input to building the
// live pipeline graph.
package config

import (
	"bytes"
	"fmt"
	"strconv"

	"golang.org/x/net/html"

	"github.com/goatkit/beamhost/internal/microdata"
)

// ErrConfig wraps a missing-required-property or structurally invalid
// configuration document.
type ErrConfig struct{ Reason string }

func (e *ErrConfig) Error() string { return fmt.Sprintf("config: %s", e.Reason) }

const (
	typeServerConfig = "http://rustybeam.net/ServerConfig"
	typeHostConfig   = "http://rustybeam.net/HostConfig"
	typePipeline     = "http://rustybeam.net/Pipeline"
	typePlugin       = "http://rustybeam.net/Plugin"
)

const defaultBindPort = 3000

// ServerConfig is the top-level parsed configuration document.
type ServerConfig struct {
	ServerRoot  string
	BindAddress string
	BindPort    int
	Hosts       map[string]*HostConfig
}

// HostConfig is one virtual host's root and pipeline declaration.
type HostConfig struct {
	HostRoot string
	Pipeline []PipelineItem
	Extra    map[string]string
}

// PipelineItem is either a PluginConfig or a NestedPipelineConfig.
type PipelineItem interface{ isPipelineItem() }

// PluginConfig declares one plugin slot: its library URL and arbitrary
// string-valued configuration, preserved verbatim (the loader does not
// validate unknown property names).
type PluginConfig struct {
	Library string
	Config  map[string]string
}

func (PluginConfig) isPipelineItem() {}

// NestedPipelineConfig declares a directory-scoped sub-pipeline.
type NestedPipelineConfig struct {
	Prefix string
	Items  []PipelineItem
}

func (NestedPipelineConfig) isPipelineItem() {}

// Load parses an HTML configuration document into a ServerConfig.
func Load(htmlBytes []byte) (*ServerConfig, error) {
	items, err := microdata.New().Extract(htmlBytes)
	if err != nil {
		return nil, &ErrConfig{Reason: err.Error()}
	}

	var serverItem *microdata.Item
	var hostItems []*microdata.Item
	for _, it := range items {
		switch it.ItemType() {
		case typeServerConfig:
			serverItem = it
		case typeHostConfig:
			hostItems = append(hostItems, it)
		}
	}
	if serverItem == nil {
		return nil, &ErrConfig{Reason: "missing ServerConfig item"}
	}

	sc := &ServerConfig{Hosts: make(map[string]*HostConfig)}
	if v, ok := serverItem.GetProperty("serverRoot"); ok {
		sc.ServerRoot = v
	}
	if v, ok := serverItem.GetProperty("bindAddress"); ok {
		sc.BindAddress = v
	}
	sc.BindPort = defaultBindPort
	if v, ok := serverItem.GetProperty("bindPort"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			sc.BindPort = n
		}
	}

	// host items may be nested under the ServerConfig's "host" property,
	// or appear as their own top-level items; both are accepted.
	for _, h := range serverItem.GetNestedItems("host") {
		hostItems = append(hostItems, h)
	}

	for _, hostItem := range hostItems {
		hostName, ok := hostItem.GetProperty("hostName")
		if !ok {
			return nil, &ErrConfig{Reason: "HostConfig missing required hostName property"}
		}
		hc := &HostConfig{Extra: make(map[string]string)}
		if v, ok := hostItem.GetProperty("hostRoot"); ok {
			hc.HostRoot = v
		}

		pipelineItems := hostItem.GetNestedItems("pipeline")
		if len(pipelineItems) == 0 && hostItem.Element != nil {
			// The pipeline property may sit on a plain wrapper (e.g. <td
			// itemprop="pipeline"><ol itemscope ...>) whose own value is text;
			// re-extract the host's content to reach the Pipeline item inside.
			var buf bytes.Buffer
			for c := hostItem.Element.FirstChild; c != nil; c = c.NextSibling {
				_ = html.Render(&buf, c)
			}
			inner, err := microdata.New().ExtractItemsOfType(buf.Bytes(), typePipeline)
			if err != nil {
				return nil, &ErrConfig{Reason: err.Error()}
			}
			pipelineItems = inner
		}
		if len(pipelineItems) > 0 {
			parsed, err := parsePipeline(pipelineItems[0])
			if err != nil {
				return nil, err
			}
			hc.Pipeline = parsed
		}

		sc.Hosts[hostName] = hc
	}

	return sc, nil
}

// parsePipeline walks a Pipeline item's "plugin" properties, each of which
// is either a Plugin item or a further nested Pipeline item.
func parsePipeline(pipelineItem *microdata.Item) ([]PipelineItem, error) {
	var out []PipelineItem
	for _, entry := range pipelineItem.GetNestedItems("plugin") {
		switch entry.ItemType() {
		case typePlugin:
			library, ok := entry.GetProperty("library")
			if !ok {
				return nil, &ErrConfig{Reason: "Plugin item missing required library property"}
			}
			out = append(out, PluginConfig{Library: library, Config: pluginConfigOf(entry)})

		case typePipeline:
			prefix, _ := entry.GetProperty("prefix")
			items, err := parsePipeline(entry)
			if err != nil {
				return nil, err
			}
			out = append(out, NestedPipelineConfig{Prefix: prefix, Items: items})

		default:
			return nil, &ErrConfig{Reason: fmt.Sprintf("unrecognized pipeline entry type %q", entry.ItemType())}
		}
	}
	return out, nil
}

var reservedPluginProps = map[string]bool{"library": true}

// pluginConfigOf preserves every itemprop on a Plugin item other than
// "library" verbatim into the plugin's string-valued configuration map.
func pluginConfigOf(item *microdata.Item) map[string]string {
	cfg := make(map[string]string)
	for _, p := range item.Properties {
		if reservedPluginProps[p.Name] {
			continue
		}
		cfg[p.Name] = p.Value.AsString()
	}
	return cfg
}
