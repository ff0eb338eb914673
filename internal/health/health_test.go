package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"percolator-sim/internal/clock"
)

type stubFeed struct {
	running bool
	prices  map[string]float64
}

func (s *stubFeed) Running() bool                  { return s.running }
func (s *stubFeed) LastPrices() map[string]float64 { return s.prices }

type stubAgents struct {
	running bool
	count   int
}

func (s *stubAgents) Running() bool { return s.running }
func (s *stubAgents) Count() int    { return s.count }

func TestHealthyResponse(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	r := NewReporter(&stubFeed{running: true, prices: map[string]float64{"SOL": 142.5}}, &stubAgents{running: true, count: 12}, clk)
	clk.Advance(90 * time.Second)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
		Feed   struct {
			Running    bool               `json:"running"`
			LastPrices map[string]float64 `json:"lastPrices"`
		} `json:"feed"`
		Agents struct {
			Running bool `json:"running"`
			Count   int  `json:"count"`
		} `json:"agents"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Uptime != "1m30s" {
		t.Errorf("status=%q uptime=%q", body.Status, body.Uptime)
	}
	if !body.Feed.Running || body.Feed.LastPrices["SOL"] != 142.5 {
		t.Errorf("feed report = %+v", body.Feed)
	}
	if !body.Agents.Running || body.Agents.Count != 12 {
		t.Errorf("agents report = %+v", body.Agents)
	}
	if body.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestDegradedWhenFeedStopped(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	r := NewReporter(&stubFeed{running: false}, nil, clk)

	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
		Agents struct {
			Running bool `json:"running"`
			Count   int  `json:"count"`
		} `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q", body.Status)
	}
	if body.Agents.Running || body.Agents.Count != 0 {
		t.Errorf("disabled fleet should report not running, got %+v", body.Agents)
	}
}
