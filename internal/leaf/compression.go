package leaf

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

var defaultCompressibleTypes = []string{
	"text/html", "text/css", "text/javascript", "text/plain",
	"application/json", "application/javascript", "application/xml",
	"application/rss+xml", "application/atom+xml", "image/svg+xml",
}

// CompressionPlugin gzip/deflate-encodes eligible response bodies in the
// response phase when the client's Accept-Encoding lists gzip, deflate or
// "*"; gzip is chosen over deflate whenever both qualify, and q-values are
// not consulted.
// Brotli is not offered: the standard library has no encoder for it and
// nothing in the dependency set supplies one.
type CompressionPlugin struct {
	name              string
	algorithms        []string
	minSize           int
	maxSize           int
	compressibleTypes []string
	compressionLevel  int
}

func NewCompression(config map[string]string) *CompressionPlugin {
	p := &CompressionPlugin{
		name:              orDefault(config["name"], "compression"),
		algorithms:        splitCSV(config["algorithms"], []string{"gzip", "deflate"}),
		minSize:           atoiDefault(config["minSize"], 1024),
		maxSize:           atoiDefault(config["maxSize"], 10*1024*1024),
		compressibleTypes: splitCSV(config["compressibleTypes"], defaultCompressibleTypes),
		compressionLevel:  atoiDefault(config["compressionLevel"], gzip.DefaultCompression),
	}
	return p
}

// NewCompressionPlugin is the registry constructor (builtin://compression).
func NewCompressionPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewCompression(config), nil
}

func atoiDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (p *CompressionPlugin) Name() string { return p.name }

func (p *CompressionPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	return nil, nil
}

func (p *CompressionPlugin) supports(encoding string) bool {
	for _, a := range p.algorithms {
		if strings.EqualFold(a, encoding) {
			return true
		}
	}
	return false
}

// preferredEncoding parses Accept-Encoding, preferring gzip over deflate.
func (p *CompressionPlugin) preferredEncoding(acceptEncoding string) string {
	wants := make(map[string]bool)
	for _, tok := range strings.Split(acceptEncoding, ",") {
		name := strings.TrimSpace(strings.SplitN(tok, ";", 2)[0])
		wants[name] = true
	}
	for _, enc := range []string{"gzip", "deflate"} {
		if p.supports(enc) && (wants[enc] || wants["*"]) {
			return enc
		}
	}
	return ""
}

func (p *CompressionPlugin) isCompressibleType(contentType string) bool {
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, t := range p.compressibleTypes {
		if strings.HasPrefix(ct, t) {
			return true
		}
	}
	return false
}

func (p *CompressionPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	if !p.isCompressibleType(resp.Header.Get("Content-Type")) {
		return nil
	}
	encoding := p.preferredEncoding(req.HTTP.Header.Get("Accept-Encoding"))
	if encoding == "" {
		return nil
	}
	if resp.Body == nil {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	resp.Body.Close()

	size := len(body)
	if size < p.minSize || size > p.maxSize {
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.ContentLength = int64(size)
		return nil
	}

	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w, err := gzip.NewWriterLevel(&buf, p.compressionLevel)
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil
		}
		if _, err := w.Write(body); err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil
		}
		w.Close()
	case "deflate":
		w, err := flate.NewWriter(&buf, p.compressionLevel)
		if err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil
		}
		if _, err := w.Write(body); err != nil {
			resp.Body = io.NopCloser(bytes.NewReader(body))
			return nil
		}
		w.Close()
	}

	resp.Header.Set("Content-Encoding", encoding)
	resp.Header.Set("Vary", "Accept-Encoding")
	resp.Body = io.NopCloser(&buf)
	resp.ContentLength = int64(buf.Len())
	return nil
}
