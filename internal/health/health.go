// Package health exposes the simulator's aggregate liveness as a single
// read-only endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"time"

	"percolator-sim/internal/clock"
)

// FeedStatus is the price feed's liveness surface.
type FeedStatus interface {
	Running() bool
	LastPrices() map[string]float64
}

// AgentsStatus is the scheduler's liveness surface.
type AgentsStatus interface {
	Running() bool
	Count() int
}

// Reporter serves the health endpoint. The process is healthy iff the
// feed is producing prices; the agent fleet is reported but optional.
type Reporter struct {
	feed   FeedStatus
	agents AgentsStatus // nil when the fleet is disabled
	clk    clock.Clock
	start  time.Time
}

// NewReporter creates a reporter. agents may be nil.
func NewReporter(feed FeedStatus, agents AgentsStatus, clk clock.Clock) *Reporter {
	return &Reporter{
		feed:   feed,
		agents: agents,
		clk:    clk,
		start:  clk.Now(),
	}
}

type feedReport struct {
	Running    bool               `json:"running"`
	LastPrices map[string]float64 `json:"lastPrices"`
}

type agentsReport struct {
	Running bool `json:"running"`
	Count   int  `json:"count"`
}

type report struct {
	Status    string       `json:"status"`
	Uptime    string       `json:"uptime"`
	Feed      feedReport   `json:"feed"`
	Agents    agentsReport `json:"agents"`
	Timestamp string       `json:"timestamp"`
}

// Handler returns the health endpoint handler: 200 when the feed is
// running, 503 otherwise.
func (r *Reporter) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		now := r.clk.Now()
		rep := report{
			Status: "ok",
			Uptime: now.Sub(r.start).Round(time.Second).String(),
			Feed: feedReport{
				Running:    r.feed.Running(),
				LastPrices: r.feed.LastPrices(),
			},
			Timestamp: now.UTC().Format(time.RFC3339),
		}
		if r.agents != nil {
			rep.Agents = agentsReport{Running: r.agents.Running(), Count: r.agents.Count()}
		}

		code := http.StatusOK
		if !rep.Feed.Running {
			rep.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(rep)
	}
}
