package leaf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

type metricsSet struct {
	requests        *prometheus.CounterVec
	pipelineLatency prometheus.Histogram
	wsSubscribers   prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *metricsSet
)

func globalMetrics() *metricsSet {
	metricsOnce.Do(func() {
		metricsInst = &metricsSet{
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: "beamhost",
				Name:      "requests_total",
				Help:      "Total requests handled, labeled by status class.",
			}, []string{"status_class"}),
			pipelineLatency: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "beamhost",
				Name:      "pipeline_duration_seconds",
				Help:      "Time spent running a request through the pipeline.",
				Buckets:   prometheus.DefBuckets,
			}),
			wsSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "beamhost",
				Name:      "websocket_subscribers",
				Help:      "Currently connected WebSocket subscribers.",
			}),
		}
	})
	return metricsInst
}

// SetWebSocketSubscribers lets the broadcaster report its live count
// without this package importing internal/broadcast.
func SetWebSocketSubscribers(n int) {
	globalMetrics().wsSubscribers.Set(float64(n))
}

// MetricsPlugin serves Prometheus text exposition on a configured path
// and records per-request counters/histograms for every other request.
type MetricsPlugin struct {
	name     string
	endpoint string
	handler  http.Handler
}

func NewMetrics(config map[string]string) *MetricsPlugin {
	globalMetrics()
	return &MetricsPlugin{
		name:     orDefault(config["name"], "metrics"),
		endpoint: orDefault(config["endpoint"], "/metrics"),
		handler:  promhttp.Handler(),
	}
}

// NewMetricsPlugin is the registry constructor (builtin://metrics).
func NewMetricsPlugin(config map[string]string) (ipg.Plugin, error) { return NewMetrics(config), nil }

func (p *MetricsPlugin) Name() string { return p.name }

func (p *MetricsPlugin) HandleRequest(ctx context.Context, req *ipg.Request, pc *ipg.Context) (*ipg.Response, error) {
	if req.Path != p.endpoint {
		req.SetMetadata("metrics_start", strconv.FormatInt(time.Now().UnixNano(), 10))
		return nil, nil
	}

	rec := httptest.NewRecorder()
	p.handler.ServeHTTP(rec, req.HTTP)
	return &ipg.Response{HTTP: rec.Result()}, nil
}

func (p *MetricsPlugin) HandleResponse(ctx context.Context, req *ipg.Request, resp *http.Response, pc *ipg.Context) error {
	m := globalMetrics()
	m.requests.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	if startRaw, ok := req.GetMetadata("metrics_start"); ok {
		if startNano, err := strconv.ParseInt(startRaw, 10, 64); err == nil {
			m.pipelineLatency.Observe(time.Since(time.Unix(0, startNano)).Seconds())
		}
	}
	return nil
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
