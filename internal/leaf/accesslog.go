package leaf

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

// AccessLogEntry is the structured record persisted by the access-log
// plugin, supplementing the log line it always emits via slog.Default().
type AccessLogEntry struct {
	Time       time.Time `db:"time" json:"time"`
	RequestID  string    `db:"request_id" json:"request_id"`
	Host       string    `db:"host" json:"host"`
	Method     string    `db:"method" json:"method"`
	Path       string    `db:"path" json:"path"`
	Selector   string    `db:"selector" json:"selector,omitempty"`
	Status     int       `db:"status" json:"status"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	User       string    `db:"user" json:"user,omitempty"`
}

const accessLogSchema = `
CREATE TABLE IF NOT EXISTS access_log (
	time        TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	host        TEXT NOT NULL,
	method      TEXT NOT NULL,
	path        TEXT NOT NULL,
	selector    TEXT,
	status      INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	user        TEXT
)`

// AccessLogPlugin logs every response, either as an Apache-style line
// (common/combined) or JSON, through slog.Default() (stderr unless the
// process replaces the default logger), and optionally persists an
// AccessLogEntry to SQLite for later querying.
type AccessLogPlugin struct {
	name   string
	format string // common, combined, json
	db     *sqlx.DB
	logger *slog.Logger
}

func NewAccessLog(config map[string]string) (*AccessLogPlugin, error) {
	p := &AccessLogPlugin{
		name:   orDefault(config["name"], "access-log"),
		format: strings.ToLower(orDefault(config["format"], "common")),
		logger: slog.Default(),
	}
	if dsn := config["sqlitePath"]; dsn != "" {
		db, err := sqlx.Connect("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("leaf: open access-log sqlite db: %w", err)
		}
		if _, err := db.Exec(accessLogSchema); err != nil {
			return nil, fmt.Errorf("leaf: create access_log table: %w", err)
		}
		p.db = db
	}
	return p, nil
}

// NewAccessLogPlugin is the registry constructor (builtin://access-log).
func NewAccessLogPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewAccessLog(config)
}

func (p *AccessLogPlugin) Name() string { return p.name }

func (p *AccessLogPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	req.SetMetadata("access_log_start", strconv.FormatInt(time.Now().UnixNano(), 10))
	return nil, nil
}

func remoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return "-"
}

func (p *AccessLogPlugin) formatLine(req *ipg.Request, status, size int) string {
	now := time.Now().UTC().Format("02/Jan/2006:15:04:05 -0700")
	ip := remoteIP(req.HTTP)
	user, ok := req.GetMetadata("authenticated_user")
	if !ok || user == "" {
		user = "-"
	}
	method := req.HTTP.Method
	uri := req.HTTP.URL.String()
	proto := req.HTTP.Proto

	switch p.format {
	case "combined":
		referer := orDash(req.HTTP.Header.Get("Referer"))
		ua := orDash(req.HTTP.Header.Get("User-Agent"))
		return fmt.Sprintf(`%s - %s [%s] "%s %s %s" %d %d "%s" "%s"`,
			ip, user, now, method, uri, proto, status, size, referer, ua)
	case "json":
		body, _ := json.Marshal(map[string]any{
			"timestamp": now, "remote_ip": ip, "user": user, "method": method,
			"uri": uri, "version": proto, "status": status, "size": size,
			"user_agent": req.HTTP.Header.Get("User-Agent"), "referer": req.HTTP.Header.Get("Referer"),
		})
		return string(body)
	default:
		return fmt.Sprintf(`%s - %s [%s] "%s %s %s" %d %d`, ip, user, now, method, uri, proto, status, size)
	}
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func (p *AccessLogPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	size := 0
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		size, _ = strconv.Atoi(cl)
	}

	p.logger.Info("access", "line", p.formatLine(req, resp.StatusCode, size))

	if p.db == nil {
		return nil
	}

	var durationMS int64
	if startRaw, ok := req.GetMetadata("access_log_start"); ok {
		if startNano, err := strconv.ParseInt(startRaw, 10, 64); err == nil {
			durationMS = (time.Now().UnixNano() - startNano) / int64(time.Millisecond)
		}
	}
	selector, _ := req.GetMetadata("applied_selector")
	user, _ := req.GetMetadata("authenticated_user")

	entry := AccessLogEntry{
		Time:       time.Now().UTC(),
		RequestID:  pc.RequestID,
		Host:       req.HTTP.Host,
		Method:     req.HTTP.Method,
		Path:       req.Path,
		Selector:   selector,
		Status:     resp.StatusCode,
		DurationMS: durationMS,
		User:       user,
	}
	_, err := p.db.NamedExec(
		`INSERT INTO access_log (time, request_id, host, method, path, selector, status, duration_ms, user)
		 VALUES (:time, :request_id, :host, :method, :path, :selector, :status, :duration_ms, :user)`,
		entry,
	)
	if err != nil {
		p.logger.Warn("access-log: failed to persist entry", "error", err)
	}
	return nil
}
