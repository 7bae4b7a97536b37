package store

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/goatkit/beamhost/internal/apierrors"
	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// FileHandler serves and mutates whole document files on disk. It handles
// every request that does NOT carry a Range: selector= header; requests
// that do carry one are left to SelectorHandler, which runs earlier or
// later in the same pipeline depending on configuration order.
type FileHandler struct {
	locks *DocumentLocks
}

func NewFileHandler() *FileHandler {
	return &FileHandler{locks: NewDocumentLocks()}
}

// NewFileHandlerWithLocks builds a FileHandler sharing locks with
// whichever other handler was also given locks, so a whole-file write and
// a selector-scoped write on the same document exclude each other.
func NewFileHandlerWithLocks(locks *DocumentLocks) *FileHandler {
	return &FileHandler{locks: locks}
}

func NewFileHandlerPlugin(_ map[string]string) (ipg.Plugin, error) {
	return NewFileHandlerWithLocks(sharedDocumentLocks), nil
}

func (h *FileHandler) Name() string { return "file-handler" }

func (h *FileHandler) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if hasSelectorRange(req.HTTP) {
		return nil, nil // the selector-handler owns this request
	}

	hostRoot, _ := pc.Get("host_root")
	if hostRoot == "" {
		hostRoot, _ = req.GetMetadata("host_root")
	}
	if hostRoot == "" {
		return nil, nil
	}

	urlPath := ResolveDocumentPath(req.Path)
	fsPath, err := Confine(hostRoot, urlPath)
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeForbidden, "")}, nil
	}
	req.CanonicalPath = fsPath

	switch req.HTTP.Method {
	case http.MethodGet, http.MethodHead:
		return h.handleGet(fsPath, req.HTTP.Method == http.MethodHead)
	case http.MethodPut:
		return h.handlePut(fsPath, req)
	case http.MethodPost:
		return h.handlePost(fsPath, req)
	case http.MethodDelete:
		return h.handleDelete(fsPath)
	case http.MethodOptions:
		return optionsResponse(), nil
	default:
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeMethodNotAllowed, "")}, nil
	}
}

func (h *FileHandler) handleGet(fsPath string, headOnly bool) (*ipg.Response, error) {
	var body []byte
	err := h.locks.Read(fsPath, func() error {
		b, rerr := os.ReadFile(fsPath)
		if rerr != nil {
			return rerr
		}
		body = b
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeNotFound, "")}, nil
		}
		return nil, err
	}
	if headOnly {
		return &ipg.Response{HTTP: &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Length": []string{strconv.Itoa(len(body))}},
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}}, nil
	}
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}}, nil
}

func (h *FileHandler) handlePut(fsPath string, req *ipg.Request) (*ipg.Response, error) {
	body, err := req.Body()
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeBadRequest, "")}, nil
	}

	_, statErr := os.Stat(fsPath)
	isNew := os.IsNotExist(statErr)

	werr := h.locks.Write(fsPath, func() error {
		if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
			return err
		}
		return os.WriteFile(fsPath, body, 0o644)
	})
	if werr != nil {
		return nil, werr
	}

	status := http.StatusOK
	if isNew {
		status = http.StatusCreated
	}
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}}, nil
}

func (h *FileHandler) handlePost(fsPath string, req *ipg.Request) (*ipg.Response, error) {
	body, err := req.Body()
	if err != nil {
		return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeBadRequest, "")}, nil
	}
	werr := h.locks.Write(fsPath, func() error {
		if err := os.MkdirAll(filepath.Dir(fsPath), 0o755); err != nil {
			return err
		}
		f, ferr := os.OpenFile(fsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		_, werr := f.Write(body)
		return werr
	})
	if werr != nil {
		return nil, werr
	}
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}}, nil
}

func (h *FileHandler) handleDelete(fsPath string) (*ipg.Response, error) {
	err := h.locks.Write(fsPath, func() error {
		return os.Remove(fsPath)
	})
	if err != nil {
		if os.IsNotExist(err) {
			return &ipg.Response{HTTP: apierrors.NewHTTPResponse(apierrors.CodeNotFound, "")}, nil
		}
		return nil, err
	}
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}}, nil
}

func (h *FileHandler) HandleResponse(_ context.Context, _ *ipg.Request, _ *http.Response, _ *ipg.Context) error {
	return nil
}

func optionsResponse() *ipg.Response {
	return &ipg.Response{HTTP: &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Allow":          []string{"GET, PUT, POST, DELETE, OPTIONS, HEAD, PATCH"},
			"Accept-Ranges":  []string{"selector"},
			"Content-Length": []string{"0"},
		},
		Body: io.NopCloser(bytes.NewReader(nil)),
	}}
}

func hasSelectorRange(r *http.Request) bool {
	_, ok := parseSelectorRange(r)
	return ok
}
