// Package dispatcher chooses a host by the Host header, hands each
// inbound request to that host's root pipeline, and handles protocol
// upgrades (e.g. the WebSocket broadcaster's 101 handoff).
package dispatcher

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goatkit/beamhost/internal/apierrors"
	ipg "github.com/goatkit/beamhost/internal/plugin"
	"github.com/goatkit/beamhost/internal/pipeline"
)

// HostEntry is one bound virtual host: its filesystem root, live
// pipeline, and host-level configuration map.
type HostEntry struct {
	Root     string
	Pipeline *pipeline.Pipeline
	Config   map[string]string
}

// HostTable maps a Host header value to its bound entry. Replaced
// atomically on reload; in-flight requests keep using the table they
// started with.
type HostTable map[string]*HostEntry

// Dispatcher owns the active host table and wires the pipeline engine to
// an HTTP transport (gin).
type Dispatcher struct {
	table        atomic.Pointer[HostTable]
	serverConfig map[string]string
	logger       *slog.Logger
}

func New(serverConfig map[string]string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{serverConfig: serverConfig, logger: logger}
	empty := HostTable{}
	d.table.Store(&empty)
	return d
}

// SetHostTable atomically swaps in a newly built table. Reload failures
// must not call this; the previous table stays live.
func (d *Dispatcher) SetHostTable(t HostTable) {
	d.table.Store(&t)
}

func (d *Dispatcher) lookupHost(hostHeader string) (*HostEntry, bool) {
	name := hostHeader
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[:i]
	}
	table := *d.table.Load()
	e, ok := table[name]
	return e, ok
}

// Handler returns a gin.HandlerFunc that runs every inbound request
// through the resolved host's pipeline.
func (d *Dispatcher) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry, ok := d.lookupHost(c.Request.Host)
		if !ok {
			writeHTTPResponse(c.Writer, apierrors.NewHTTPResponse(apierrors.CodeNotFound, "no host matches the Host header"))
			return
		}

		requestID := uuid.NewString()
		req := &ipg.Request{
			HTTP:           c.Request,
			ResponseWriter: c.Writer,
			Path:           c.Request.URL.Path,
			Metadata:       map[string]string{"host_root": entry.Root},
		}
		pc := &ipg.Context{
			HostConfig:   entry.Config,
			ServerConfig: d.serverConfig,
			ServerMeta:   d.serverConfig,
			HostName:     c.Request.Host,
			RequestID:    requestID,
			LoggerFactory: func() ipg.Logger {
				return slogLogger{d.logger.With("request_id", requestID, "host", c.Request.Host)}
			},
		}

		result, err := entry.Pipeline.Run(c.Request.Context(), req, pc)
		if err != nil {
			d.logger.Error("pipeline run failed", "error", err, "request_id", requestID)
			writeHTTPResponse(c.Writer, apierrors.NewHTTPResponse(apierrors.CodeInternal, ""))
			return
		}

		if result.Upgrade != nil {
			// The plugin already hijacked the connection and wrote its own
			// handshake response via req.ResponseWriter; the dispatcher just
			// hands control to it.
			if err := result.Upgrade(); err != nil {
				d.logger.Warn("upgrade handler returned an error", "error", err, "request_id", requestID)
			}
			return
		}
		writeHTTPResponse(c.Writer, result.Response)
	}
}

func writeHTTPResponse(w http.ResponseWriter, resp *http.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != nil {
		defer resp.Body.Close()
		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}
}

type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Debugf(format string, args ...any) { s.l.Debug(fmt.Sprintf(format, args...)) }
func (s slogLogger) Infof(format string, args ...any)  { s.l.Info(fmt.Sprintf(format, args...)) }
func (s slogLogger) Warnf(format string, args ...any)  { s.l.Warn(fmt.Sprintf(format, args...)) }
func (s slogLogger) Errorf(format string, args ...any) { s.l.Error(fmt.Sprintf(format, args...)) }
