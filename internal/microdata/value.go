package microdata

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ValueKind discriminates the variant held by a Value.
type ValueKind int

const (
	KindText ValueKind = iota
	KindURL
	KindItem
	KindDateTime
	KindNumber
	KindBoolean
)

// Value is a microdata property value, mirroring the original extractor's
// MicrodataValue enum.
type Value struct {
	Kind     ValueKind
	Text     string
	URL      *url.URL
	Item     *Item
	DateTime string
	Number   float64
	Boolean  bool
}

// AsString renders the value the way a template or log line would.
func (v Value) AsString() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindURL:
		if v.URL != nil {
			return v.URL.String()
		}
		return ""
	case KindItem:
		return "[Item]"
	case KindDateTime:
		return v.DateTime
	case KindNumber:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.Boolean)
	}
	return ""
}

// extractValue implements the microdata value-extraction table for a
// single element. itemscope elements are handled by the caller (they
// yield a nested Item, built recursively), not here.
func extractValue(n *html.Node) Value {
	tag := strings.ToLower(n.Data)

	switch tag {
	case "meta":
		if v, ok := attr(n, "content"); ok {
			return Value{Kind: KindText, Text: v}
		}
		return Value{Kind: KindText, Text: ""}

	case "audio", "embed", "iframe", "img", "source", "track", "video":
		if v, ok := attr(n, "src"); ok {
			return parseURLValue(v)
		}
		return Value{Kind: KindText, Text: ""}

	case "a", "area", "link":
		if v, ok := attr(n, "href"); ok {
			return parseURLValue(v)
		}
		return Value{Kind: KindText, Text: ""}

	case "object":
		if v, ok := attr(n, "data"); ok {
			return parseURLValue(v)
		}
		return Value{Kind: KindText, Text: ""}

	case "data":
		if v, ok := attr(n, "value"); ok {
			return Value{Kind: KindText, Text: v}
		}
		return Value{Kind: KindText, Text: textContent(n)}

	case "meter":
		if v, ok := attr(n, "value"); ok {
			return parseNumericValue(v)
		}
		return Value{Kind: KindText, Text: textContent(n)}

	case "time":
		if v, ok := attr(n, "datetime"); ok {
			return Value{Kind: KindDateTime, DateTime: v}
		}
		return Value{Kind: KindText, Text: textContent(n)}

	case "input":
		inputType, _ := attr(n, "type")
		if inputType == "" {
			inputType = "text"
		}
		switch inputType {
		case "checkbox", "radio":
			if hasAttr(n, "checked") {
				if v, ok := attr(n, "value"); ok {
					return Value{Kind: KindText, Text: v}
				}
				return Value{Kind: KindBoolean, Boolean: true}
			}
			return Value{Kind: KindBoolean, Boolean: false}
		default:
			if v, ok := attr(n, "value"); ok {
				return Value{Kind: KindText, Text: v}
			}
			return Value{Kind: KindText, Text: ""}
		}

	case "select":
		if sel := firstSelectedOption(n); sel != nil {
			if v, ok := attr(sel, "value"); ok {
				return Value{Kind: KindText, Text: v}
			}
			return Value{Kind: KindText, Text: textContent(sel)}
		}
		return Value{Kind: KindText, Text: ""}

	default:
		return Value{Kind: KindText, Text: strings.TrimSpace(textContent(n))}
	}
}

func parseURLValue(raw string) Value {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() {
		return Value{Kind: KindText, Text: raw}
	}
	return Value{Kind: KindURL, URL: u}
}

func parseNumericValue(raw string) Value {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Value{Kind: KindText, Text: raw}
	}
	return Value{Kind: KindNumber, Number: n}
}

func firstSelectedOption(selectNode *html.Node) *html.Node {
	var walk func(*html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == "option" && hasAttr(n, "selected") {
			return n
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(selectNode)
}
