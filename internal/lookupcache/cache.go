// Package lookupcache holds the proxy's small cache of account/container
// existence and ACL metadata (spec.md §4.4): a lookup miss costs a HEAD to
// the backend ring, so controllers cache hits here instead of re-resolving
// on every request. The cache is never the source of truth — it is
// invalidated on mutating verbs and expires by TTL, exactly like the real
// memcached deployment it mirrors.
package lookupcache

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrSoftLockFailedOpen is returned by SoftLock, together with a no-op
// Unlock (not as a hard failure — see SoftLock's doc comment), when every
// retry was exhausted without acquiring the lock.
var ErrSoftLockFailedOpen = errors.New("lookupcache: soft lock failed open after retries")

// Entry is the cached existence/metadata record for an account or
// container, keyed by "account" or "account/container" (spec.md §3).
type Entry struct {
	Status           int    `json:"status"`
	ContainerCount   *int   `json:"container_count,omitempty"`
	BytesUsed        *int64 `json:"bytes_used,omitempty"`
	ReadACL          string `json:"read_acl,omitempty"`
	WriteACL         string `json:"write_acl,omitempty"`
	VersionsLocation string `json:"versions_location,omitempty"`
	SyncKey          string `json:"sync_key,omitempty"`
}

func (e Entry) marshal() ([]byte, error) { return json.Marshal(e) }

func unmarshalEntry(b []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(b, &e)
	return e, err
}

// Unlock releases a SoftLock's hold. Calling it more than once is a no-op.
type Unlock func()

// Cache is the interface controllers depend on. Two backends satisfy it:
// MemCache (in-process, default) and a memcache-backed implementation
// (internal/lookupcache/memcached.go) selected when memcache_servers is
// configured.
type Cache interface {
	Get(key string) (Entry, bool, error)
	Set(key string, e Entry, ttl time.Duration) error
	Delete(key string) error
	// Incr atomically increments an integer counter stored at key (used for
	// e.g. container_count bookkeeping) and returns the post-increment value.
	Incr(key string, delta int64) (int64, error)
	// SoftLock acquires an advisory lock on key, retrying up to retries
	// times with a short backoff, bounded overall by timeout. It serializes
	// concurrent container autocreation across proxies (spec.md §4.6.2).
	//
	// The lock is advisory and fails open: if every retry is exhausted
	// without acquiring it, SoftLock still returns a usable (no-op) Unlock
	// and a non-nil err wrapping ErrSoftLockFailedOpen, rather than blocking
	// the request forever. Callers that only want a best-effort
	// serialization point (which is all spec.md requires here) can ignore a
	// non-nil err and proceed; callers that want to observe contention can
	// check it.
	SoftLock(key string, timeout time.Duration, retries int) (Unlock, error)
}
