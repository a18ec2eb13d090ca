// Package nodeiter yields the ordered sequence of devices a ReplicatedRequest
// should try for one partition: primaries first, then handoffs, skipping
// anything the ErrorLimiter currently suppresses.
package nodeiter

import (
	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/ring"
)

// maxHandoffsMultiplier matches spec.md §4.2: the iterator caps the total
// number of nodes tried at replica_count + max_handoffs, typically
// 2 x replica_count.
const maxHandoffsMultiplier = 2

// Iterator walks primaries then handoffs for one partition lookup,
// skipping error-limited nodes and counting handoff substitutions.
type Iterator struct {
	limiter      *errorlimiter.Limiter
	moreNodes    func() (ring.Device, bool)
	remaining    []ring.Device
	cap          int
	tried        int
	handoffsUsed int
	logHandoffs  bool
	onHandoff    func(ring.Device)
}

// New builds an Iterator over primaries, falling back to the ring's
// more_nodes() generator for the given partition once primaries are
// exhausted. onHandoff, if non-nil, is invoked once per handoff substitution
// — the warning hook spec.md §4.2 calls for under log_handoffs.
func New(r *ring.Ring, limiter *errorlimiter.Limiter, partition int, primaries []ring.Device, logHandoffs bool, onHandoff func(ring.Device)) *Iterator {
	cp := make([]ring.Device, len(primaries))
	copy(cp, primaries)
	return &Iterator{
		limiter:     limiter,
		moreNodes:   r.MoreNodes(partition, primaries),
		remaining:   cp,
		cap:         len(primaries) * maxHandoffsMultiplier,
		logHandoffs: logHandoffs,
		onHandoff:   onHandoff,
	}
}

// Next returns the next device to try, or ok=false once the iterator is
// exhausted (no more primaries/handoffs, or the try cap has been reached).
func (it *Iterator) Next() (ring.Device, bool) {
	for {
		if it.tried >= it.cap {
			return ring.Device{}, false
		}

		var d ring.Device
		fromHandoff := false
		if len(it.remaining) > 0 {
			d = it.remaining[0]
			it.remaining = it.remaining[1:]
		} else {
			var ok bool
			d, ok = it.moreNodes()
			if !ok {
				return ring.Device{}, false
			}
			fromHandoff = true
		}

		if it.limiter != nil && it.limiter.Suppressed(d.ID) {
			continue
		}

		it.tried++
		if fromHandoff {
			it.handoffsUsed++
			if it.logHandoffs && it.onHandoff != nil {
				it.onHandoff(d)
			}
		}
		return d, true
	}
}

// HandoffsUsed reports how many handoff substitutions this iterator has
// yielded so far — copied into each replication.Result as HandoffsUsed.
func (it *Iterator) HandoffsUsed() int { return it.handoffsUsed }
