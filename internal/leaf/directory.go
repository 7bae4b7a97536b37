package leaf

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// DirectoryPlugin renders an HTML listing for a directory request when
// no index.html exists under it, the generator of last resort ahead of
// the store's own 404. Request-phase only: it never touches responses
// that another plugin already generated.
type DirectoryPlugin struct {
	name     string
	hostRoot string
}

func NewDirectory(name, hostRoot string) *DirectoryPlugin {
	return &DirectoryPlugin{name: orDefault(name, "directory"), hostRoot: hostRoot}
}

// NewDirectoryPlugin is the registry constructor (builtin://directory).
func NewDirectoryPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewDirectory(config["name"], config["hostRoot"]), nil
}

func (p *DirectoryPlugin) Name() string { return p.name }

func (p *DirectoryPlugin) resolveRoot(req *ipg.Request, pc *ipg.Context) string {
	if p.hostRoot != "" {
		return p.hostRoot
	}
	if root, ok := pc.HostConfig["host_root"]; ok {
		return root
	}
	if root, ok := req.GetMetadata("host_root"); ok {
		return root
	}
	return "."
}

func (p *DirectoryPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if req.HTTP.Method != http.MethodGet && req.HTTP.Method != http.MethodHead {
		return nil, nil
	}
	if !strings.HasSuffix(req.Path, "/") {
		return nil, nil
	}

	root := p.resolveRoot(req, pc)
	dirPath := filepath.Join(root, filepath.FromSlash(req.Path))

	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	if _, err := os.Stat(filepath.Join(dirPath, "index.html")); err == nil {
		return nil, nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head><title>Index of %s</title></head>\n<body>\n", html.EscapeString(req.Path))
	fmt.Fprintf(&b, "<h1>Index of %s</h1>\n<ul>\n", html.EscapeString(req.Path))
	if req.Path != "/" {
		b.WriteString(`<li><a href="../">../</a></li>` + "\n")
	}
	for _, e := range entries {
		name := e.Name()
		href := name
		if e.IsDir() {
			href += "/"
		}
		fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`+"\n", html.EscapeString(href), html.EscapeString(href))
	}
	b.WriteString("</ul>\n</body>\n</html>")

	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       bodyFromBytes([]byte(b.String())),
	}}, nil
}

func (p *DirectoryPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
