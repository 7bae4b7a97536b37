// Package pipeline implements the two-phase request/response traversal of
// an ordered plugin list, including directory-scoped nested pipelines.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// Item is one element of a Pipeline: either a plugin or a nested,
// directory-scoped sub-pipeline. Each top-level Item occupies exactly one
// index slot for request/response-phase ordering purposes, regardless of
// how many plugins a nested DirectoryPipeline contains.
type Item interface {
	isItem()
}

// PluginItem wraps a single plugin instance in a pipeline slot.
type PluginItem struct {
	Plugin ipg.Plugin
}

func (PluginItem) isItem() {}

// DirectoryPipeline scopes a nested pipeline to a URL prefix. Requests
// whose path does not equal prefix or begin with prefix+"/" pass through
// untouched (both phases are no-ops for a non-matching directory item).
type DirectoryPipeline struct {
	Prefix string
	Items  []Item
}

func (DirectoryPipeline) isItem() {}

// Pipeline is an ordered list of plugin slots.
type Pipeline struct {
	Items []Item
}

// Result is the outcome of running a pipeline once.
type Result struct {
	Response  *http.Response
	Upgrade   ipg.UpgradeFunc
	Generator bool // whether some plugin produced the response (vs. synthesized 404)
}

// Run performs the full two-phase traversal: request-phase front-to-back
// until a generator is found (or synthesize 404), then response-phase on
// the items after the generator's slot (or every item, if none generated).
func (p *Pipeline) Run(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*Result, error) {
	genIdx, resp, upgrade, err := runRequestPhase(ctx, p.Items, req, pc)
	if err != nil {
		return nil, err
	}

	generated := genIdx >= 0
	switch {
	case resp == nil && upgrade != nil:
		// The generator already took over the connection (protocol
		// upgrade); give response-phase plugins a placeholder so none of
		// them has to nil-check.
		resp = &http.Response{StatusCode: http.StatusSwitchingProtocols, Status: "101 Switching Protocols", Header: http.Header{}}
	case resp == nil:
		resp = synthesize404()
	}

	if err := runResponsePhase(ctx, p.Items, genIdx, req, resp, pc); err != nil {
		return nil, err
	}

	return &Result{Response: resp, Upgrade: upgrade, Generator: generated}, nil
}

// runRequestPhase walks items front-to-back. It returns the slot index of
// the generator (-1 if none), matching spec.md's "a response generated
// inside the sub-pipeline counts as generated at the outer item's index".
func runRequestPhase(ctx context.Context, items []Item, req *ipg.Request, pc *ipg.Context) (int, *http.Response, ipg.UpgradeFunc, error) {
	for i, it := range items {
		switch v := it.(type) {
		case PluginItem:
			out, err := safeHandleRequest(ctx, v.Plugin, req, pc)
			if err != nil {
				return i, nil, nil, err
			}
			if out != nil {
				var resp *http.Response
				if out.HTTP != nil {
					resp = out.HTTP
				}
				return i, resp, out.Upgrade, nil
			}

		case DirectoryPipeline:
			if !pathMatchesPrefix(req.Path, v.Prefix) {
				continue
			}
			subGen, subResp, subUpgrade, err := runRequestPhase(ctx, v.Items, req, pc)
			if err != nil {
				return i, nil, nil, err
			}
			if subGen >= 0 {
				return i, subResp, subUpgrade, nil
			}
		}
	}
	return -1, nil, nil, nil
}

// runResponsePhase calls HandleResponse on every item with slot index
// > genIdx (or every item, if genIdx < 0), front-to-back. A directory
// pipeline forwards the call to its own sub-items only if its prefix
// matched the request path, applying the same generator-index rule
// relative to its own sub-pipeline's request-phase outcome.
func runResponsePhase(ctx context.Context, items []Item, genIdx int, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	for i, it := range items {
		if genIdx >= 0 && i <= genIdx {
			continue
		}
		switch v := it.(type) {
		case PluginItem:
			if err := safeHandleResponse(ctx, v.Plugin, req, resp, pc); err != nil {
				return err
			}

		case DirectoryPipeline:
			if !pathMatchesPrefix(req.Path, v.Prefix) {
				continue
			}
			// The sub-pipeline runs its response phase with no generator
			// index (-1), front-to-back. The sub-pipeline's request phase is not
			// re-executed (that already happened, if at all, while this
			// directory item was being visited in the request phase
			// above); callers only reach here for items after the
			// generator slot, i.e. directory items that did not
			// generate, so the whole sub-pipeline responds.
			if err := runResponsePhase(ctx, v.Items, -1, req, resp, pc); err != nil {
				return err
			}
		}
	}
	return nil
}

func pathMatchesPrefix(path, prefix string) bool {
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/")
}

func synthesize404() *http.Response {
	body := "Not Found"
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Status:     "404 Not Found",
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

// safeHandleRequest recovers from a plugin panic and converts it to a 500,
// per the pipeline's error contract.
func safeHandleRequest(ctx context.Context, p ipg.Plugin, req *ipg.Request, pc *ipg.Context) (out *ipg.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = &ipg.Response{HTTP: &http.Response{
				StatusCode: http.StatusInternalServerError,
				Status:     "500 Internal Server Error",
				Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
				Body:       io.NopCloser(strings.NewReader(fmt.Sprintf("Internal Server Error: plugin %s panicked: %v", p.Name(), r))),
			}}
			err = nil
		}
	}()
	return p.HandleRequest(ctx, req, pc)
}

func safeHandleResponse(ctx context.Context, p ipg.Plugin, req *ipg.Request, resp *http.Response, pc *ipg.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked in response phase: %v", p.Name(), r)
		}
	}()
	return p.HandleResponse(ctx, req, resp, pc)
}
