package leaf

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ipg "github.com/goatkit/beamhost/internal/plugin"
)

func newMetricsTestRequest(method, path string) *ipg.Request {
	httpReq := httptest.NewRequest(method, path, nil)
	return &ipg.Request{HTTP: httpReq, Path: path, Metadata: map[string]string{}}
}

func TestMetricsPluginServesMetricsEndpoint(t *testing.T) {
	p := NewMetrics(map[string]string{})

	req := newMetricsTestRequest(http.MethodGet, "/metrics")
	resp, err := p.HandleRequest(t.Context(), req, &ipg.Context{})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp == nil || resp.HTTP == nil {
		t.Fatal("expected a response for the metrics endpoint")
	}
	if resp.HTTP.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.HTTP.StatusCode)
	}
	body, _ := readResponseBody(resp.HTTP)
	if !strings.Contains(string(body), "beamhost_requests_total") && !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected prometheus exposition text, got %q", truncate(string(body), 200))
	}
}

func TestMetricsPluginPassesThroughOtherPaths(t *testing.T) {
	p := NewMetrics(map[string]string{"endpoint": "/stats"})

	req := newMetricsTestRequest(http.MethodGet, "/index.html")
	resp, err := p.HandleRequest(t.Context(), req, &ipg.Context{})
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp != nil {
		t.Fatal("expected pass-through for non-metrics paths")
	}
	if _, ok := req.GetMetadata("metrics_start"); !ok {
		t.Fatal("expected metrics_start metadata to be stamped")
	}
}

func TestMetricsPluginRecordsStatusClassOnResponse(t *testing.T) {
	p := NewMetrics(map[string]string{"endpoint": "/never"})
	req := newMetricsTestRequest(http.MethodGet, "/index.html")
	req.SetMetadata("metrics_start", "1")

	resp := &http.Response{StatusCode: http.StatusNotFound}
	if err := p.HandleResponse(t.Context(), req, resp, &ipg.Context{}); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	scrape, err := NewMetrics(map[string]string{}).HandleRequest(t.Context(), newMetricsTestRequest(http.MethodGet, "/metrics"), &ipg.Context{})
	if err != nil || scrape == nil || scrape.HTTP == nil {
		t.Fatalf("scrape /metrics: resp=%v err=%v", scrape, err)
	}
	body, _ := readResponseBody(scrape.HTTP)
	if !strings.Contains(string(body), `beamhost_requests_total{status_class="4xx"}`) {
		t.Fatalf("expected a 4xx request count, got %q", truncate(string(body), 200))
	}
}

func TestStatusClassBuckets(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "other"}
	for status, want := range cases {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
