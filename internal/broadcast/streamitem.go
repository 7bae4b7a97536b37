package broadcast

import (
	"fmt"
	"html"
)

// streamItemTemplate renders a StreamItem microdata fragment over the wire,
// matching the original websocket plugin's inline format string.
const streamItemTemplate = `<div itemscope itemtype="http://rustybeam.net/StreamItem">
    <span itemprop="method">%s</span>
    <span itemprop="url">%s</span>
    <span itemprop="selector">%s</span>
    <div itemprop="content">%s</div>
</div>`

// renderStreamItem builds the wire payload for one broadcast event. url and
// selector are escaped as they sit in plain text nodes; content is passed
// through untouched since it is itself an HTML fragment.
func renderStreamItem(method, url, selector, content string) string {
	return fmt.Sprintf(streamItemTemplate, method, html.EscapeString(url), html.EscapeString(selector), content)
}
