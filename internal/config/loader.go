package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// LoadFromURL reads a configuration document from a file:// URL (or a bare
// filesystem path, accepted for convenience) and parses it.
func LoadFromURL(configURL string) (*ServerConfig, error) {
	path, err := pathFromURL(configURL)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Load(data)
}

func pathFromURL(raw string) (string, error) {
	if !strings.Contains(raw, "://") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("config: invalid config URL %q: %w", raw, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("config: unsupported config URL scheme %q", u.Scheme)
	}
	return u.Path, nil
}
