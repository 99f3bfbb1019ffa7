package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesDomainCollectors(t *testing.T) {
	ObserveWorkflow("production_complete", ResultOK)
	AddMovements("OUT", 3)
	ObserveCache(true)
	ObserveRequest("POST", "/api/production/", 200, 15*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`kitchenops_stock_workflows_total{result="ok",workflow="production_complete"}`,
		`kitchenops_inventory_movements_total{type="OUT"}`,
		`kitchenops_stock_cache_lookups_total{outcome="hit"}`,
		`kitchenops_http_request_duration_seconds_count{method="POST",route="/api/production/",status="200"}`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected metrics output to contain %s", want)
		}
	}
}
