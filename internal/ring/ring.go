// Package ring implements the proxy's view of the storage cluster: an
// immutable, offline-built mapping from an account/container/object key to
// the ordered set of devices responsible for holding it.
//
// The ring never mutates after it is loaded (see loader.go). Everything in
// this file is pure data plus deterministic hashing — no I/O, no locking
// beyond what is needed to protect the handoff cursor cache.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// maxMoreNodes caps the number of handoff candidates more_nodes() will ever
// produce for a single partition, regardless of cluster size or configured
// replica count. Swift carries the same constant; whether it is a
// deliberate safety cap or a vestige of an earlier ring size is unclear, so
// it is kept as a hard constant rather than a tunable (see SPEC_FULL.md §9).
const maxMoreNodes = 9

// Device is one physical storage location: a disk on a host, in a zone.
// Devices are looked up by ID from every replica assignment row.
type Device struct {
	ID     string
	Zone   int
	IP     string
	Port   int
	Device string // on-disk device name, e.g. "sdb1"
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d/%s", d.IP, d.Port, d.Device)
}

// Ring is the immutable partition → device mapping.
//
// Fields:
//
//	partitionBits     → number of bits of the key hash used as partition index
//	replicaCount       → len(assignments); replicas per partition
//	assignments        → assignments[replica][partition] = device ID
//	devices             → device ID → Device
//	seed                → fixed secret seed mixed into every key hash
//	hashOrder           → per-partition deterministic device ordering, built lazily
type Ring struct {
	partitionBits int
	replicaCount  int
	assignments   [][]string
	devices       map[string]Device
	seed          string

	mu        sync.Mutex
	hashOrder map[int][]string // partition -> device IDs in hash order, memoized
}

// New validates and constructs a Ring from already-parsed ring data. Callers
// normally reach this indirectly through Load (loader.go).
func New(partitionBits int, seed string, devices []Device, assignments [][]string) (*Ring, error) {
	if partitionBits < 0 || partitionBits > 32 {
		return nil, fmt.Errorf("ring: partition_bits out of range: %d", partitionBits)
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("ring: no replica assignments")
	}
	partitions := 1 << uint(partitionBits)
	devByID := make(map[string]Device, len(devices))
	for _, d := range devices {
		devByID[d.ID] = d
	}
	for r, row := range assignments {
		if len(row) != partitions {
			return nil, fmt.Errorf("ring: replica %d has %d partitions, want %d", r, len(row), partitions)
		}
	}
	// Invariant: every partition has exactly replica_count distinct primary devices.
	for p := 0; p < partitions; p++ {
		seen := make(map[string]bool, len(assignments))
		for r, row := range assignments {
			id := row[p]
			if _, ok := devByID[id]; !ok {
				return nil, fmt.Errorf("ring: partition %d replica %d references unknown device %q", p, r, id)
			}
			if seen[id] {
				return nil, fmt.Errorf("ring: partition %d assigns device %q to more than one replica", p, id)
			}
			seen[id] = true
		}
	}
	return &Ring{
		partitionBits: partitionBits,
		replicaCount:  len(assignments),
		assignments:   assignments,
		devices:       devByID,
		seed:          seed,
		hashOrder:     make(map[int][]string),
	}, nil
}

// PartitionCount returns 2^partition_bits.
func (r *Ring) PartitionCount() int { return 1 << uint(r.partitionBits) }

// ReplicaCount returns the number of primary replicas per partition.
func (r *Ring) ReplicaCount() int { return r.replicaCount }

// keyHash hashes the concatenation of the path parts with the ring's fixed
// secret seed, exactly as spec.md §4.1 requires: identical inputs always
// produce identical ordered outputs.
func (r *Ring) keyHash(parts ...string) uint64 {
	h := sha256.New()
	h.Write([]byte(r.seed))
	for _, p := range parts {
		h.Write([]byte{0}) // separator so ("a","bc") != ("ab","c")
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// partitionFor maps a key hash onto a partition index using the top
// partition_bits of the hash.
func (r *Ring) partitionFor(hash uint64) int {
	shift := 64 - uint(r.partitionBits)
	return int(hash >> shift)
}

// Lookup resolves (account[, container[, object]]) to a partition and its
// ordered list of primary devices. Passing container="" means an
// account-level lookup; object="" with a non-empty container means a
// container-level lookup.
func (r *Ring) Lookup(account, container, object string) (partition int, primaries []Device) {
	parts := []string{account}
	if container != "" {
		parts = append(parts, container)
	}
	if object != "" {
		parts = append(parts, object)
	}
	partition = r.partitionFor(r.keyHash(parts...))

	primaries = make([]Device, 0, r.replicaCount)
	for _, row := range r.assignments {
		primaries = append(primaries, r.devices[row[partition]])
	}
	return partition, primaries
}

// deviceHashOrder returns all device IDs ordered deterministically for this
// partition — the order more_nodes() walks when looking for handoffs. The
// order is memoized since it is requested repeatedly per partition over the
// life of the process.
func (r *Ring) deviceHashOrder(partition int) []string {
	r.mu.Lock()
	if cached, ok := r.hashOrder[partition]; ok {
		r.mu.Unlock()
		return cached
	}
	r.mu.Unlock()

	type scored struct {
		id    string
		score uint64
	}
	scoredDevices := make([]scored, 0, len(r.devices))
	for id := range r.devices {
		scoredDevices = append(scoredDevices, scored{id, r.keyHash(strconv.Itoa(partition), id)})
	}
	sort.Slice(scoredDevices, func(i, j int) bool {
		if scoredDevices[i].score != scoredDevices[j].score {
			return scoredDevices[i].score < scoredDevices[j].score
		}
		return scoredDevices[i].id < scoredDevices[j].id // tie-break deterministically
	})
	ordered := make([]string, len(scoredDevices))
	for i, s := range scoredDevices {
		ordered[i] = s.id
	}

	r.mu.Lock()
	r.hashOrder[partition] = ordered
	r.mu.Unlock()
	return ordered
}

// MoreNodes returns a generator of handoff candidates for partition, beyond
// the primaries already returned by Lookup. It walks devices in
// deterministic hash order, first skipping any device whose zone is already
// represented among primaries (zone diversity preferred), then — once that
// pool is exhausted — relaxing the zone constraint and yielding whatever is
// left. The generator stops after maxMoreNodes candidates or when devices
// are exhausted, whichever comes first.
func (r *Ring) MoreNodes(partition int, primaries []Device) func() (Device, bool) {
	used := make(map[string]bool, len(primaries))
	usedZones := make(map[int]bool, len(primaries))
	for _, p := range primaries {
		used[p.ID] = true
		usedZones[p.Zone] = true
	}

	order := r.deviceHashOrder(partition)
	idx := 0
	yielded := 0
	relaxZones := false

	var next func() (Device, bool)
	next = func() (Device, bool) {
		if yielded >= maxMoreNodes {
			return Device{}, false
		}
		for idx < len(order) {
			id := order[idx]
			idx++
			if used[id] {
				continue
			}
			d := r.devices[id]
			if !relaxZones && usedZones[d.Zone] {
				continue
			}
			used[id] = true
			usedZones[d.Zone] = true
			yielded++
			return d, true
		}
		if !relaxZones {
			// Primary pass exhausted without filling maxMoreNodes: relax the
			// zone constraint and restart the walk from the beginning.
			relaxZones = true
			idx = 0
			return next()
		}
		return Device{}, false
	}
	return next
}

// Devices returns every device known to the ring, sorted by ID for
// deterministic iteration (used by the debug/ring endpoint and tests).
func (r *Ring) Devices() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeviceByID looks up a single device by its ID.
func (r *Ring) DeviceByID(id string) (Device, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// String identifies the ring for logging.
func (r *Ring) String() string {
	return fmt.Sprintf("ring(partitions=%d replicas=%d devices=%d)",
		r.PartitionCount(), r.replicaCount, len(r.devices))
}
