package lookupcache

import (
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// SerializationSupport mirrors the memcache_serialization_support config
// knob (SPEC_FULL.md §4.4). Real Swift distinguishes pickle vs JSON on the
// wire; this proxy only ever speaks JSON, so every value below just picks
// JSON — the knob is kept solely so operator configs that set it still
// parse and validate.
type SerializationSupport int

const (
	SerializationPickle SerializationSupport = iota
	SerializationJSON0
	SerializationJSON1
)

// MemcacheBackend wraps github.com/bradfitz/gomemcache/memcache, giving the
// proxy the same memcached dependency the real system leans on for a
// cross-process lookup cache shared by every proxy instance.
type MemcacheBackend struct {
	client *memcache.Client
}

// NewMemcacheBackend dials (lazily — gomemcache connects on first use) the
// given memcached server list.
func NewMemcacheBackend(servers []string, _ SerializationSupport) *MemcacheBackend {
	return &MemcacheBackend{client: memcache.New(servers...)}
}

func (m *MemcacheBackend) Get(key string) (Entry, bool, error) {
	item, err := m.client.Get(key)
	if err == memcache.ErrCacheMiss {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := unmarshalEntry(item.Value)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (m *MemcacheBackend) Set(key string, v Entry, ttl time.Duration) error {
	b, err := v.marshal()
	if err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{Key: key, Value: b, Expiration: int32(ttl.Seconds())})
}

func (m *MemcacheBackend) Delete(key string) error {
	err := m.client.Delete(key)
	if err == memcache.ErrCacheMiss {
		return nil
	}
	return err
}

func (m *MemcacheBackend) Incr(key string, delta int64) (int64, error) {
	if delta >= 0 {
		n, err := m.client.Increment(key, uint64(delta))
		if err == memcache.ErrCacheMiss {
			if err := m.client.Set(&memcache.Item{Key: key, Value: []byte(strconv.FormatInt(delta, 10))}); err != nil {
				return 0, err
			}
			return delta, nil
		}
		return int64(n), err
	}
	n, err := m.client.Decrement(key, uint64(-delta))
	return int64(n), err
}

// lockValue is what is stored at a soft-lock key; memcache's Add is used as
// the atomic "acquire if absent" primitive.
const lockValue = "1"

func (m *MemcacheBackend) SoftLock(key string, timeout time.Duration, retries int) (Unlock, error) {
	lockKey := "softlock:" + key
	attempts := retries + 1
	sleep := timeout / time.Duration(attempts)
	for i := 0; i < attempts; i++ {
		err := m.client.Add(&memcache.Item{Key: lockKey, Value: []byte(lockValue), Expiration: int32(timeout.Seconds()) + 1})
		if err == nil {
			return func() { _ = m.client.Delete(lockKey) }, nil
		}
		if err != memcache.ErrNotStored {
			return func() {}, err
		}
		if i < attempts-1 {
			time.Sleep(sleep)
		}
	}
	return func() {}, ErrSoftLockFailedOpen
}
