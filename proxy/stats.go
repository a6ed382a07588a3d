package proxy

// Stats is the block-decision bookkeeping the expanded spec adds (§3.1):
// pure counters with no control-flow effect. It is adapted from the
// teacher's StatsManager (proxy/stats_manager.go), narrowed from a
// generic string-keyed JSON blob to the four fixed counters this proxy
// actually produces — there is no periodic-save scheduler in this design
// (see DESIGN.md on dropping go-co-op/gocron), so the JSON load/save
// round-trip is replaced by a single on-demand Snapshot.

import (
	"encoding/json"
	"sync/atomic"
)

// Stats holds atomic counters for the lifetime of one proxy run.
type Stats struct {
	queriesTotal     atomic.Uint64
	queriesBlocked   atomic.Uint64
	queriesForwarded atomic.Uint64
	queriesDropped   atomic.Uint64
}

// NewStats returns a zeroed Stats.
func NewStats() *Stats {
	return &Stats{}
}

// recordDecision updates the total/blocked/forwarded counters for one
// handled query.
func (s *Stats) recordDecision(blocked bool) {
	s.queriesTotal.Add(1)
	if blocked {
		s.queriesBlocked.Add(1)
	} else {
		s.queriesForwarded.Add(1)
	}
}

// recordDropped records a query that was read but could not be handled
// (parse failure, translation failure, etc.).
func (s *Stats) recordDropped() {
	s.queriesDropped.Add(1)
}

// StatsSnapshot is a point-in-time copy of the counters, suitable for
// logging or exposing to a caller.
type StatsSnapshot struct {
	QueriesTotal     uint64 `json:"queries_total"`
	QueriesBlocked   uint64 `json:"queries_blocked"`
	QueriesForwarded uint64 `json:"queries_forwarded"`
	QueriesDropped   uint64 `json:"queries_dropped"`
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		QueriesTotal:     s.queriesTotal.Load(),
		QueriesBlocked:   s.queriesBlocked.Load(),
		QueriesForwarded: s.queriesForwarded.Load(),
		QueriesDropped:   s.queriesDropped.Load(),
	}
}

// MarshalJSON makes a StatsSnapshot usable directly wherever the teacher's
// StatsManager.AsJsonPretty was: log lines, an occasional debug dump.
func (s StatsSnapshot) MarshalJSON() ([]byte, error) {
	type alias StatsSnapshot
	return json.Marshal(alias(s))
}
