package microdata

import (
	"strings"

	"golang.org/x/net/html"
)

// Extractor parses HTML into a flat sequence of typed items with
// multi-valued properties and itemref resolution.
type Extractor struct {
	// ValidateURLs rejects items whose itemtype/itemid do not parse as
	// absolute URLs.
	ValidateURLs bool
	// IgnoreErrors continues extraction past a single item's error
	// instead of aborting the whole document.
	IgnoreErrors bool
}

// New returns an Extractor with the original extractor's defaults.
func New() *Extractor {
	return &Extractor{ValidateURLs: true}
}

// Extract parses html bytes and returns the document's top-level items.
// It fails with a *ParseError only if the input is not decodable as HTML;
// golang.org/x/net/html recovers from almost any malformed input, so this
// only triggers on a structurally impossible parse (e.g. a nil/empty
// fragment a caller otherwise mishandled upstream).
func (e *Extractor) Extract(htmlBytes []byte) ([]*Item, error) {
	doc, err := html.Parse(strings.NewReader(string(htmlBytes)))
	if err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	return e.extractFromDocument(doc)
}

func (e *Extractor) extractFromDocument(doc *html.Node) ([]*Item, error) {
	var items []*Item
	for _, el := range topLevelItemElements(doc) {
		item := buildItem(el, doc)
		if err := e.validate(item); err != nil {
			if e.IgnoreErrors {
				continue
			}
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// topLevelItemElements finds every itemscope element that is NOT nested
// inside another itemscope element.
func topLevelItemElements(doc *html.Node) []*html.Node {
	var all []*html.Node
	var walk func(*html.Node, bool)
	walk = func(n *html.Node, insideScope bool) {
		isScope := n.Type == html.ElementNode && hasAttr(n, "itemscope")
		if isScope && !insideScope {
			all = append(all, n)
		}
		childInsideScope := insideScope || isScope
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, childInsideScope)
		}
	}
	walk(doc, false)
	return all
}

func (e *Extractor) validate(item *Item) error {
	if !e.ValidateURLs {
		return nil
	}
	if item.Type != "" && !looksLikeAbsoluteURL(item.Type) {
		return &InvalidStructureError{Reason: "invalid itemtype URL: " + item.Type}
	}
	if item.ID != "" && !looksLikeAbsoluteURL(item.ID) {
		return &InvalidStructureError{Reason: "invalid itemid URL: " + item.ID}
	}
	return nil
}

func looksLikeAbsoluteURL(s string) bool {
	i := strings.Index(s, "://")
	return i > 0
}

// ExtractItemsOfType is a convenience filter over Extract.
func (e *Extractor) ExtractItemsOfType(htmlBytes []byte, itemType string) ([]*Item, error) {
	items, err := e.Extract(htmlBytes)
	if err != nil {
		return nil, err
	}
	var out []*Item
	for _, it := range items {
		if it.Type == itemType {
			out = append(out, it)
		}
	}
	return out, nil
}

// ExtractFirstItemOfType returns the first item of the given type, or nil.
func (e *Extractor) ExtractFirstItemOfType(htmlBytes []byte, itemType string) (*Item, error) {
	items, err := e.ExtractItemsOfType(htmlBytes, itemType)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}
