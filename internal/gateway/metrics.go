package gateway

import "sync/atomic"

// HubStats tracks broadcast counters using atomic operations.
type HubStats struct {
	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	accepted  atomic.Int64
}

// Snapshot returns a point-in-time view of the counters.
func (s *HubStats) Snapshot() HubSnapshot {
	return HubSnapshot{
		Published:   s.published.Load(),
		Delivered:   s.delivered.Load(),
		Dropped:     s.dropped.Load(),
		Connections: s.accepted.Load(),
	}
}

// HubSnapshot is a serializable point-in-time hub view.
type HubSnapshot struct {
	Published   int64 `json:"published"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	Connections int64 `json:"connections_total"`
}
