// Package metrics holds the proxy's in-process counters (SPEC_FULL.md §2:
// "Metrics counters ... exposed over a debug endpoint, no external metrics
// backend"). There is no Prometheus/StatsD export here by design — spec.md
// scopes observability tooling out (§1 Non-goals: "operator tooling"), so
// these counters exist purely for the /debug surface and tests.
package metrics

import "sync/atomic"

// Counters is a small set of process-lifetime counters, safe for
// concurrent use. Only IncHandoffWarning is called by the proxy (from
// httpmw.HandoffCounter); IncQuorumFailure and IncErrorLimitTrip have no
// callers, so those two counters stay at zero.
type Counters struct {
	handoffWarnings int64
	quorumFailures  int64
	errorLimitTrips int64
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

func (c *Counters) IncHandoffWarning() { atomic.AddInt64(&c.handoffWarnings, 1) }
func (c *Counters) IncQuorumFailure()  { atomic.AddInt64(&c.quorumFailures, 1) }
func (c *Counters) IncErrorLimitTrip() { atomic.AddInt64(&c.errorLimitTrips, 1) }

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	HandoffWarnings int64 `json:"handoff_warnings"`
	QuorumFailures  int64 `json:"quorum_failures"`
	ErrorLimitTrips int64 `json:"error_limit_trips"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		HandoffWarnings: atomic.LoadInt64(&c.handoffWarnings),
		QuorumFailures:  atomic.LoadInt64(&c.quorumFailures),
		ErrorLimitTrips: atomic.LoadInt64(&c.errorLimitTrips),
	}
}
