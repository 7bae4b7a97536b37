package leaf

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

type healthStatus string

const (
	healthHealthy   healthStatus = "healthy"
	healthDegraded  healthStatus = "degraded"
	healthUnhealthy healthStatus = "unhealthy"
)

type healthReport struct {
	Status   healthStatus `json:"status"`
	Messages []string     `json:"messages,omitempty"`
}

// HealthCheckPlugin answers liveness/readiness probes directly, short-
// circuiting the rest of the pipeline. A readiness check (document root
// reachability) is cached and refreshed on a cron schedule rather than
// on every request, since stat()-ing the root on the hot path would
// make every health probe pay for disk I/O.
type HealthCheckPlugin struct {
	name           string
	healthEndpoint string
	readyEndpoint  string
	liveEndpoint   string

	cachedReady atomic.Pointer[healthReport]
	cron        *cron.Cron
}

func NewHealthCheck(config map[string]string) *HealthCheckPlugin {
	p := &HealthCheckPlugin{
		name:           orDefault(config["name"], "health-check"),
		healthEndpoint: orDefault(config["healthEndpoint"], "/health"),
		readyEndpoint:  orDefault(config["readyEndpoint"], "/ready"),
		liveEndpoint:   orDefault(config["liveEndpoint"], "/live"),
	}
	p.cachedReady.Store(&healthReport{Status: healthHealthy, Messages: []string{"not yet checked"}})
	return p
}

// NewHealthCheckPlugin is the registry constructor (builtin://health-check).
func NewHealthCheckPlugin(config map[string]string) (ipg.Plugin, error) {
	return NewHealthCheck(config), nil
}

func (p *HealthCheckPlugin) Name() string { return p.name }

// StartBackgroundChecks schedules the readiness recheck; callers own the
// returned cron.Cron's lifetime (Stop() on shutdown).
func (p *HealthCheckPlugin) StartBackgroundChecks(docRoot string, schedule string) *cron.Cron {
	if schedule == "" {
		schedule = "@every 30s"
	}
	c := cron.New()
	c.AddFunc(schedule, func() { p.refreshReadiness(docRoot) })
	p.refreshReadiness(docRoot)
	c.Start()
	p.cron = c
	return c
}

func (p *HealthCheckPlugin) refreshReadiness(docRoot string) {
	report := &healthReport{Status: healthHealthy}
	if docRoot != "" {
		info, err := os.Stat(docRoot)
		switch {
		case err != nil:
			report.Status = healthUnhealthy
			report.Messages = append(report.Messages, "document root not accessible: "+err.Error())
		case !info.IsDir():
			report.Status = healthUnhealthy
			report.Messages = append(report.Messages, "document root is not a directory")
		default:
			report.Messages = append(report.Messages, "document root accessible")
		}
	}
	p.cachedReady.Store(report)
}

func (p *HealthCheckPlugin) isHealthEndpoint(path string) bool {
	return path == p.healthEndpoint || path == p.readyEndpoint || path == p.liveEndpoint
}

func jsonResponse(status int, v any) *http.Response {
	body, _ := json.Marshal(v)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       bodyFromBytes(body),
	}
}

func (p *HealthCheckPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if req.HTTP.Method != http.MethodGet && req.HTTP.Method != http.MethodHead {
		return nil, nil
	}
	if !p.isHealthEndpoint(req.Path) {
		return nil, nil
	}

	var report *healthReport
	switch req.Path {
	case p.liveEndpoint:
		report = &healthReport{Status: healthHealthy, Messages: []string{"server is running"}}
	default:
		report = p.cachedReady.Load()
	}

	status := http.StatusOK
	if report.Status == healthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	return &ipg.Response{HTTP: jsonResponse(status, report)}, nil
}

func (p *HealthCheckPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	return nil
}
