// Package selector implements the primitive read/replace/append/delete
// operations on an in-memory HTML document addressed by a CSS selector.
package selector

import (
	"bytes"
	"errors"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNotFound is returned when a selector matches no element.
var ErrNotFound = errors.New("selector: no elements matched")

// Engine applies selector operations to a parsed document.
type Engine struct{}

func New() *Engine { return &Engine{} }

// ParseDocument parses a whole HTML document.
func ParseDocument(src []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(src))
}

// Serialize renders doc and right-trims trailing whitespace, per the
// documented serialization rule (inter-element whitespace elsewhere is
// left untouched).
func Serialize(doc *html.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return rightTrim(buf.Bytes()), nil
}

func rightTrim(b []byte) []byte {
	return []byte(strings.TrimRight(string(b), " \t\n\r"))
}

// CompileSelector parses a CSS selector string.
func CompileSelector(sel string) (cascadia.Selector, error) {
	return cascadia.Compile(sel)
}

func outerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), " \t\n\r"), nil
}

// Read returns the outer HTML of the first match, right-trimmed.
func (e *Engine) Read(doc *html.Node, sel cascadia.Selector) (string, error) {
	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return "", ErrNotFound
	}
	return outerHTML(nodes[0])
}

// Replace replaces the first match with the parsed fragment and returns
// the outer HTML of the first match after replacement, plus the (possibly
// new, if the table-section marker workaround fired) document root to use
// for subsequent operations.
func (e *Engine) Replace(doc *html.Node, sel cascadia.Selector, fragment string) (newDoc *html.Node, resultHTML string, err error) {
	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return doc, "", ErrNotFound
	}
	target := nodes[0]

	if startsWithTableSectionTag(fragment) {
		return e.replaceViaMarker(doc, target, sel, fragment)
	}

	parent := target.Parent
	if parent == nil {
		return doc, "", errors.New("selector: cannot replace the document root")
	}
	newNodes, perr := html.ParseFragment(strings.NewReader(fragment), contextFor(parent))
	if perr != nil {
		return doc, "", perr
	}
	if len(newNodes) == 0 {
		parent.RemoveChild(target)
		return doc, "", nil
	}
	for _, nn := range newNodes {
		parent.InsertBefore(nn, target)
	}
	parent.RemoveChild(target)

	result, herr := outerHTML(newNodes[0])
	if herr != nil {
		return doc, "", herr
	}
	return doc, result, nil
}

// replaceViaMarker implements the table-section workaround documented in
// spec.md §4.5 and exercised by scenario S3: splice a unique marker token
// in place of the target, serialize the whole document, textually
// substitute the marker with the literal replacement fragment, then
// re-parse the whole document so the HTML5 table-insertion algorithm sees
// the new tags in their real structural position instead of stripping a
// standalone <tr>/<td>/etc.
func (e *Engine) replaceViaMarker(doc *html.Node, target *html.Node, sel cascadia.Selector, fragment string) (*html.Node, string, error) {
	parent := target.Parent
	if parent == nil {
		return doc, "", errors.New("selector: cannot replace the document root")
	}
	marker := newMarker()
	markerNode := &html.Node{Type: html.TextNode, Data: marker}
	parent.InsertBefore(markerNode, target)
	parent.RemoveChild(target)

	serialized, err := Serialize(doc)
	if err != nil {
		return doc, "", err
	}
	substituted := strings.Replace(string(serialized), marker, fragment, 1)

	newDoc, err := ParseDocument([]byte(substituted))
	if err != nil {
		return doc, "", err
	}

	matches := cascadia.QueryAll(newDoc, sel)
	if len(matches) == 0 {
		return newDoc, "", nil
	}
	result, err := outerHTML(matches[0])
	if err != nil {
		return newDoc, "", err
	}
	return newDoc, result, nil
}

// Append parses the fragment in target's own context and appends it as
// target's last child, returning target's outer HTML after appending.
// The table-section marker caveat applies only to Replace, not Append:
// parsing with the target itself as context already places the new
// nodes inside their real table/tbody/tr ancestor.
func (e *Engine) Append(doc *html.Node, sel cascadia.Selector, fragment string) (string, error) {
	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return "", ErrNotFound
	}
	target := nodes[0]

	newNodes, err := html.ParseFragment(strings.NewReader(fragment), contextFor(target))
	if err != nil {
		return "", err
	}
	for _, nn := range newNodes {
		target.AppendChild(nn)
	}
	return outerHTML(target)
}

// MatchAll returns the outer HTML of every element the selector matches,
// used by DOM-aware comparisons (e.g. the authorization plugin's subset
// check) that need the full match set rather than just the first hit.
func (e *Engine) MatchAll(doc *html.Node, sel cascadia.Selector) ([]string, error) {
	nodes := cascadia.QueryAll(doc, sel)
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		h, err := outerHTML(n)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// Delete removes the first match from the document.
func (e *Engine) Delete(doc *html.Node, sel cascadia.Selector) error {
	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return ErrNotFound
	}
	target := nodes[0]
	if target.Parent == nil {
		return errors.New("selector: cannot delete the document root")
	}
	target.Parent.RemoveChild(target)
	return nil
}

// contextFor builds a context element usable by html.ParseFragment,
// matching n's tag so the contextual HTML5 insertion-mode rules apply
// (e.g. a <table> context lets a standalone <tr> fragment parse intact).
func contextFor(n *html.Node) *html.Node {
	if n.Type != html.ElementNode {
		return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	return &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom, Namespace: n.Namespace}
}
