package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := itemsTotal
	Init()

	if itemsTotal == nil || itemsTotal != first {
		t.Fatal("Init() must initialize collectors exactly once")
	}
}

func TestObserveItem(t *testing.T) {
	before := testutil.ToFloat64(itemsTotalFor(OutcomeExhausted))
	ObserveItem(OutcomeExhausted)
	ObserveItem(OutcomeExhausted)

	if got := testutil.ToFloat64(itemsTotalFor(OutcomeExhausted)); got != before+2 {
		t.Errorf("expected exhausted items to grow by 2, got %f -> %f", before, got)
	}
}

func TestInFlightGauge(t *testing.T) {
	IncInFlight()
	IncInFlight()
	DecInFlight()
	base := testutil.ToFloat64(inFlightItems)
	DecInFlight()

	if got := testutil.ToFloat64(inFlightItems); got != base-1 {
		t.Errorf("expected gauge to drop by 1, got %f -> %f", base, got)
	}
}

func TestObserveCheckpointAndAttempt(t *testing.T) {
	ObserveCheckpoint(true)
	ObserveCheckpoint(false)
	ObserveAttempt("timeout", 2*time.Second)
	ObserveRetry()
	ObserveJob("completed")
	ObserveDiscovered(7)

	if val := testutil.ToFloat64(checkpointsTotal.WithLabelValues("error")); val < 1 {
		t.Errorf("expected at least one failed checkpoint, got %f", val)
	}
	if val := testutil.CollectAndCount(attemptDurationSeconds); val <= 0 {
		t.Errorf("expected attempt durations to be observed, got %d", val)
	}
	if val := testutil.ToFloat64(discoveredItemsTotal); val < 7 {
		t.Errorf("expected discovered items >= 7, got %f", val)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveItem(OutcomeSuccess)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "placecrawler_items_total") {
		t.Error("expected placecrawler_items_total in exposition")
	}
}

func itemsTotalFor(outcome string) prometheus.Counter {
	Init()
	return itemsTotal.WithLabelValues(outcome)
}
