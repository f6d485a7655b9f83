package gateway

import (
	"net/http"
	"time"
)

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime        int64       `json:"uptime_seconds"`
	Hub           HubSnapshot `json:"hub"`
	Subscribers   int         `json:"subscribers"`
	Running       int         `json:"running_jobs"`
	FailedRounds  int         `json:"failed_rounds"`
	SplitRouting  bool        `json:"split_routing"`
	RateLimitKeys int         `json:"rate_limited_sessions"`
}

// handleStatus returns an http.HandlerFunc for GET /status.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		g.mu.Lock()
		failed := len(g.failures)
		g.mu.Unlock()

		writeJSON(w, http.StatusOK, StatusResponse{
			Uptime:        int64(time.Since(g.startedAt).Seconds()),
			Hub:           g.hub.Stats(),
			Subscribers:   g.hub.Subscribers(""),
			Running:       g.inflightCount(),
			FailedRounds:  failed,
			SplitRouting:  !g.Routes().Shared,
			RateLimitKeys: g.limiter.Prune(),
		})
	}
}
