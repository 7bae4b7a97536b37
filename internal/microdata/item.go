package microdata

import (
	"strings"

	"golang.org/x/net/html"
)

// Property is one (name, value) pair contributed to an Item, either
// directly nested under the item's element or pulled in via itemref.
type Property struct {
	Name  string
	Value Value
}

// Item is a node bearing itemscope, optionally with itemtype/itemid,
// yielding a set of (itemprop, value) pairs including properties pulled
// in by itemref.
type Item struct {
	Type       string
	ID         string
	Properties []Property
	Element    *html.Node
}

// ItemType returns the item's itemtype, or "" if absent.
func (it *Item) ItemType() string { return it.Type }

// GetProperty returns the first value recorded under name, rendered as a
// string, mirroring the original extractor's convenience accessor.
func (it *Item) GetProperty(name string) (string, bool) {
	for _, p := range it.Properties {
		if p.Name == name {
			return p.Value.AsString(), true
		}
	}
	return "", false
}

// GetPropertyValues returns every value recorded under name, in document
// order, as strings.
func (it *Item) GetPropertyValues(name string) []string {
	var out []string
	for _, p := range it.Properties {
		if p.Name == name {
			out = append(out, p.Value.AsString())
		}
	}
	return out
}

// GetNestedItems returns the nested items recorded under a property name.
func (it *Item) GetNestedItems(name string) []*Item {
	var out []*Item
	for _, p := range it.Properties {
		if p.Name == name && p.Value.Kind == KindItem && p.Value.Item != nil {
			out = append(out, p.Value.Item)
		}
	}
	return out
}

// buildItem constructs an Item from its itemscope element, resolving
// itemref properties against the whole document and breaking reference
// cycles with a visited-id set.
func buildItem(el *html.Node, doc *html.Node) *Item {
	return buildItemVisited(el, doc, map[string]bool{})
}

func buildItemVisited(el *html.Node, doc *html.Node, visited map[string]bool) *Item {
	item := &Item{Element: el}
	if v, ok := attr(el, "itemtype"); ok {
		item.Type = v
	}
	if v, ok := attr(el, "itemid"); ok {
		item.ID = v
	}

	// Properties declared within the element's own subtree, not crossing
	// into a nested itemscope's own subtree (those belong to the nested
	// item, not this one).
	collectOwnProperties(el, el, &item.Properties)

	// itemref: pull in properties from elements elsewhere in the document
	// whose id appears in this element's itemref list.
	if ref, ok := attr(el, "itemref"); ok {
		if id, ok := attr(el, "id"); ok {
			visited[id] = true
		}
		for _, refID := range strings.Fields(ref) {
			if visited[refID] {
				continue // cycle; skip
			}
			target := findByID(doc, refID)
			if target == nil {
				continue // unresolved reference; silently skipped
			}
			visited[refID] = true
			collectOwnProperties(target, target, &item.Properties)
		}
	}

	return item
}

// collectOwnProperties walks the subtree rooted at node (starting from
// its children, not the node itself) collecting itemprop-bearing elements
// that are not inside a *different, nested* itemscope.
func collectOwnProperties(owner *html.Node, node *html.Node, out *[]Property) {
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if isWithinDifferentItemscope(owner, c) {
			continue
		}
		if props, ok := attr(c, "itemprop"); ok {
			var val Value
			if hasAttr(c, "itemscope") {
				val = Value{Kind: KindItem, Item: buildItem(c, rootOf(owner))}
			} else {
				val = extractValue(c)
			}
			for _, name := range strings.Fields(props) {
				*out = append(*out, Property{Name: name, Value: val})
			}
		}
		// Recurse into c's children unless c itself opened a new
		// itemscope (whose own properties belong to its own item, not
		// this one); still need to look past non-itemscope wrappers.
		if !hasAttr(c, "itemscope") {
			collectOwnProperties(owner, c, out)
		}
	}
}

// isWithinDifferentItemscope reports whether node sits inside an
// itemscope element other than owner, between owner and node.
func isWithinDifferentItemscope(owner, node *html.Node) bool {
	for p := node.Parent; p != nil && p != owner; p = p.Parent {
		if p.Type == html.ElementNode && hasAttr(p, "itemscope") {
			return true
		}
	}
	return false
}

func rootOf(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		if v, ok := attr(n, "id"); ok && v == id {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attr(n, name)
	return ok
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// escapeCSSID escapes a string for safe use inside a CSS id selector
// (`#`+escaped), matching the original extractor's helper used when
// building selectors for itemref targets.
func escapeCSSID(id string) string {
	var sb strings.Builder
	for _, r := range id {
		switch {
		case r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
		default:
			sb.WriteRune('\\')
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
