package apierrors

import (
	"bytes"
	"io"
	"net/http"
)

// NewHTTPResponse builds a complete *http.Response for a given error code,
// the shape every leaf plugin and the dispatcher use for synthetic errors.
func NewHTTPResponse(c Code, message string) *http.Response {
	body := Marshal(c, message)
	return &http.Response{
		StatusCode: StatusFor(c),
		Status:     http.StatusText(StatusFor(c)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// NewPlainResponse builds a plain-text response with an arbitrary status,
// used where the spec documents a literal body (e.g. selector-handler's
// "No elements matched the selector").
func NewPlainResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}
