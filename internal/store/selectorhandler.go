package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/goatkit/beamhost/internal/apierrors"
	ipg "github.com/goatkit/beamhost/internal/plugin"
	"github.com/goatkit/beamhost/internal/selector"
)

// SelectorHandler implements the selector-handler half of the HTML-store
// plugin pair: it only acts when the request carries Range: selector=...
// and the resolved file has an HTML extension, translating GET/PUT/POST/
// DELETE into the corresponding selector-engine operation.
type SelectorHandler struct {
	locks    *DocumentLocks
	sanitize bool
}

func NewSelectorHandler() *SelectorHandler {
	return &SelectorHandler{locks: NewDocumentLocks()}
}

// NewSelectorHandlerWithLocks builds a SelectorHandler sharing locks with
// whichever other handler was also given locks, so a whole-file write and
// a selector-scoped write on the same document exclude each other.
func NewSelectorHandlerWithLocks(locks *DocumentLocks) *SelectorHandler {
	return &SelectorHandler{locks: locks}
}

func NewSelectorHandlerPlugin(config map[string]string) (ipg.Plugin, error) {
	h := &SelectorHandler{locks: sharedDocumentLocks}
	h.sanitize = strings.EqualFold(config["sanitize"], "true")
	return h, nil
}

func (h *SelectorHandler) Name() string { return "selector-handler" }

var htmlExtensions = map[string]bool{".html": true, ".htm": true}

// ugcPolicy is the bluemonday policy applied to inbound PUT/POST fragments
// when a selector-handler instance is configured with sanitize=true. A
// *bluemonday.Policy is safe for concurrent use once built, so one shared
// policy serves every request.
var ugcPolicy = bluemonday.UGCPolicy()

func (h *SelectorHandler) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	sel, ok := parseSelectorRange(req.HTTP)
	if !ok {
		return nil, nil
	}

	hostRoot, _ := pc.Get("host_root")
	if hostRoot == "" {
		hostRoot, _ = req.GetMetadata("host_root")
	}
	if hostRoot == "" {
		return nil, nil
	}

	urlPath := ResolveDocumentPath(req.Path)
	if !htmlExtensions[strings.ToLower(filepath.Ext(urlPath))] {
		return nil, nil // not an HTML document; the file-handler (or nothing) owns it
	}

	fsPath, err := Confine(hostRoot, urlPath)
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeForbidden, "")}, nil
	}
	req.CanonicalPath = fsPath

	if sel == "" {
		if req.HTTP.Method == http.MethodGet {
			return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
		}
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusBadRequest, "Empty selector")}, nil
	}

	compiled, cerr := selector.CompileSelector(sel)
	if cerr != nil {
		if req.HTTP.Method == http.MethodGet {
			return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
		}
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusBadRequest, "Invalid selector")}, nil
	}

	switch req.HTTP.Method {
	case http.MethodGet:
		return h.handleGet(fsPath, compiled)
	case http.MethodPut:
		return h.handlePut(fsPath, compiled, sel, req)
	case http.MethodPost:
		return h.handlePost(fsPath, compiled, sel, req)
	case http.MethodDelete:
		return h.handleDelete(fsPath, compiled, sel, req)
	default:
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeMethodNotAllowed, "")}, nil
	}
}

func (h *SelectorHandler) handleGet(fsPath string, sel cascadia.Selector) (*ipg.Response, error) {
	var result string
	var notFound bool
	err := h.locks.Read(fsPath, func() error {
		doc, derr := readDocument(fsPath)
		if derr != nil {
			return derr
		}
		out, rerr := selector.New().Read(doc, sel)
		if rerr == selector.ErrNotFound {
			notFound = true
			return nil
		}
		if rerr != nil {
			return rerr
		}
		result = out
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeNotFound, "")}, nil
		}
		return nil, err
	}
	if notFound {
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
	}
	return &ipg.Response{HTTP: htmlResponse(http.StatusOK, result)}, nil
}

func (h *SelectorHandler) handlePut(fsPath string, sel cascadia.Selector, selStr string, req *ipg.Request) (*ipg.Response, error) {
	body, err := req.Body()
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeBadRequest, "")}, nil
	}
	if h.sanitize {
		body = []byte(ugcPolicy.Sanitize(string(body)))
	}

	var result string
	var notFound bool
	werr := h.locks.Write(fsPath, func() error {
		doc, derr := readDocument(fsPath)
		if derr != nil {
			return derr
		}
		newDoc, out, rerr := selector.New().Replace(doc, sel, string(body))
		if rerr == selector.ErrNotFound {
			notFound = true
			return nil
		}
		if rerr != nil {
			return rerr
		}
		result = out
		return writeDocument(fsPath, newDoc)
	})
	if werr != nil {
		return nil, werr
	}
	if notFound {
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
	}

	req.SetMetadata("applied_selector", selStr)
	req.SetMetadata("posted_content", string(body))
	return &ipg.Response{HTTP: htmlResponse(http.StatusOK, result)}, nil
}

func (h *SelectorHandler) handlePost(fsPath string, sel cascadia.Selector, selStr string, req *ipg.Request) (*ipg.Response, error) {
	body, err := req.Body()
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeBadRequest, "")}, nil
	}
	if h.sanitize {
		body = []byte(ugcPolicy.Sanitize(string(body)))
	}

	var result string
	var notFound bool
	werr := h.locks.Write(fsPath, func() error {
		doc, derr := readDocument(fsPath)
		if derr != nil {
			return derr
		}
		out, aerr := selector.New().Append(doc, sel, string(body))
		if aerr == selector.ErrNotFound {
			notFound = true
			return nil
		}
		if aerr != nil {
			return aerr
		}
		result = out
		return writeDocument(fsPath, doc)
	})
	if werr != nil {
		return nil, werr
	}
	if notFound {
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
	}

	req.SetMetadata("applied_selector", selStr)
	req.SetMetadata("posted_content", string(body))
	return &ipg.Response{HTTP: htmlResponse(http.StatusOK, result)}, nil
}

func (h *SelectorHandler) handleDelete(fsPath string, sel cascadia.Selector, selStr string, req *ipg.Request) (*ipg.Response, error) {
	var notFound bool
	var deletedHTML string
	werr := h.locks.Write(fsPath, func() error {
		doc, derr := readDocument(fsPath)
		if derr != nil {
			return derr
		}
		out, rerr := selector.New().Read(doc, sel)
		if rerr == selector.ErrNotFound {
			notFound = true
			return nil
		}
		if rerr != nil {
			return rerr
		}
		deletedHTML = out
		if derr := selector.New().Delete(doc, sel); derr != nil {
			return derr
		}
		return writeDocument(fsPath, doc)
	})
	if werr != nil {
		return nil, werr
	}
	if notFound {
		return &ipg.Response{HTTP: apierrors.NewPlainResponse(http.StatusNotFound, "No elements matched the selector")}, nil
	}

	req.SetMetadata("applied_selector", selStr)
	req.SetMetadata("selected_content", deletedHTML)
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusNoContent,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}}, nil
}

func (h *SelectorHandler) HandleResponse(_ context.Context, _ *ipg.Request, _ *http.Response, _ *ipg.Context) error {
	return nil
}

func readDocument(fsPath string) (*html.Node, error) {
	b, err := os.ReadFile(fsPath)
	if err != nil {
		return nil, err
	}
	doc, err := selector.ParseDocument(b)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func writeDocument(fsPath string, doc *html.Node) error {
	b, err := selector.Serialize(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(fsPath, b, 0o644)
}

func htmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// parseSelectorRange extracts the selector from a "Range: selector=<css>"
// header, URL-decoding it. The second return value is false if no such
// Range header is present at all (so the file-handler should act instead);
// true with an empty string means the header was present but the selector
// itself was empty.
func parseSelectorRange(r *http.Request) (string, bool) {
	raw := r.Header.Get("Range")
	if raw == "" {
		return "", false
	}
	const prefix = "selector="
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	encoded := strings.TrimPrefix(raw, prefix)
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return "", true
	}
	return decoded, true
}
