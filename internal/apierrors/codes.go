// Package apierrors defines the namespaced error codes surfaced to
// clients, each carrying a default message and HTTP status, so every
// error path through the dispatcher and leaf plugins produces a
// consistent body shape.
package apierrors

import (
	"encoding/json"
	"net/http"
)

// Code is a namespaced error identifier, e.g. "store:forbidden".
type Code string

const (
	CodeBadRequest       Code = "core:bad_request"
	CodeUnauthorized     Code = "core:unauthorized"
	CodeForbidden        Code = "core:forbidden"
	CodeNotFound         Code = "core:not_found"
	CodeMethodNotAllowed Code = "core:method_not_allowed"
	CodeRateLimited      Code = "core:rate_limited"
	CodeInternal         Code = "core:internal"
	CodeUnavailable      Code = "core:unavailable"
	CodeGatewayTimeout   Code = "core:gateway_timeout"
)

// Entry pairs a code with its default message and HTTP status.
type Entry struct {
	Code       Code
	Message    string
	HTTPStatus int
}

var table = map[Code]Entry{
	CodeBadRequest:       {CodeBadRequest, "the request could not be understood", http.StatusBadRequest},
	CodeUnauthorized:     {CodeUnauthorized, "authentication is required", http.StatusUnauthorized},
	CodeForbidden:        {CodeForbidden, "the request was denied", http.StatusForbidden},
	CodeNotFound:         {CodeNotFound, "the resource was not found", http.StatusNotFound},
	CodeMethodNotAllowed: {CodeMethodNotAllowed, "method not allowed on this resource", http.StatusMethodNotAllowed},
	CodeRateLimited:      {CodeRateLimited, "too many requests", http.StatusTooManyRequests},
	CodeInternal:         {CodeInternal, "an internal error occurred", http.StatusInternalServerError},
	CodeUnavailable:      {CodeUnavailable, "the service is temporarily unavailable", http.StatusServiceUnavailable},
	CodeGatewayTimeout:   {CodeGatewayTimeout, "the request timed out", http.StatusGatewayTimeout},
}

// Lookup returns the entry for a code, falling back to CodeInternal.
func Lookup(c Code) Entry {
	if e, ok := table[c]; ok {
		return e
	}
	return table[CodeInternal]
}

// Body renders the JSON error body clients receive.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Marshal renders an error code (optionally overriding its message) to JSON.
func Marshal(c Code, message string) []byte {
	e := Lookup(c)
	if message == "" {
		message = e.Message
	}
	b, _ := json.Marshal(Body{Error: string(e.Code), Message: message})
	return b
}

// StatusFor returns the HTTP status associated with a code.
func StatusFor(c Code) int {
	return Lookup(c).HTTPStatus
}
