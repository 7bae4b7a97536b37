package plugin

// Manifest is the YAML sidecar shipped alongside a loadable plugin,
// declaring its identity and a JSON schema for its own configuration keys.
type Manifest struct {
	Name           string         `yaml:"name"`
	Version        string         `yaml:"version"`
	MinHostVersion string         `yaml:"minHostVersion"`
	Config         map[string]any `yaml:"config"`
}
