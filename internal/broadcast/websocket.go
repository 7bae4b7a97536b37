package broadcast

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Plugin is the pipeline element: it upgrades matching requests to
// WebSocket connections in HandleRequest, and broadcasts StreamItem
// frames to subscribers of the affected document in HandleResponse.
type Plugin struct {
	b *Broadcaster
}

func New() *Plugin {
	return &Plugin{b: NewBroadcaster()}
}

// NewPlugin is the registry constructor (builtin://websocket).
func NewPlugin(map[string]string) (ipg.Plugin, error) {
	return New(), nil
}

func (p *Plugin) Name() string { return "websocket" }

// HandleRequest performs the handshake itself via req.ResponseWriter: the
// WebSocket plugin is the one place in the pipeline that needs to take the
// connection over, so it hijacks through gorilla's Upgrader rather than
// going through the dispatcher's normal response path.
func (p *Plugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if !isUpgradeRequest(req.HTTP) || req.ResponseWriter == nil {
		return nil, nil
	}

	conn, err := upgrader.Upgrade(req.ResponseWriter, req.HTTP, nil)
	if err != nil {
		return nil, nil
	}

	id := uuid.NewString()
	url := req.Path
	logger := pc.Logger()

	return &ipg.Response{
		Upgrade: func() error {
			return p.serve(id, url, conn, logger)
		},
	}, nil
}

func (p *Plugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	selector, ok := req.GetMetadata("applied_selector")
	if !ok {
		return nil
	}
	method := req.HTTP.Method
	if method != http.MethodPut && method != http.MethodPost && method != http.MethodDelete {
		return nil
	}

	content, ok := req.GetMetadata("posted_content")
	if !ok {
		content, ok = req.GetMetadata("selected_content")
		if !ok {
			return nil
		}
	}

	p.b.Broadcast(method, req.Path, selector, content)
	return nil
}

func isUpgradeRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade") &&
		strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		r.Header.Get("Sec-WebSocket-Version") == "13" &&
		r.Header.Get("Sec-WebSocket-Key") != ""
}

// serve registers the now-upgraded connection as a subscriber of the
// normalized document URL and pumps frames until the peer disconnects.
// Subscription is implicit in the URL the connection was opened on;
// inbound text frames carry no subscribe protocol and are ignored.
func (p *Plugin) serve(id, url string, conn *websocket.Conn, logger ipg.Logger) error {
	defer conn.Close()

	sub := p.b.register(id, url)
	defer p.b.unregister(id)

	logger.Infof("websocket connection established %s for %s", id, sub.url)

	done := make(chan struct{})
	go p.writePump(conn, sub, done)
	p.readPump(conn)
	close(done)

	logger.Infof("websocket connection closed %s", id)
	return nil
}

func (p *Plugin) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *Plugin) writePump(conn *websocket.Conn, sub *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
