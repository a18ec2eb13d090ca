package lookupcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemCacheGetSetDelete(t *testing.T) {
	c := NewMemCache()
	_, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set("a", Entry{Status: 204}, time.Minute))
	e, ok, err := c.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 204, e.Status)

	require.NoError(t, c.Delete("a"))
	_, ok, _ = c.Get("a")
	assert.False(t, ok)
}

func TestMemCacheExpiresByTTL(t *testing.T) {
	c := NewMemCache()
	require.NoError(t, c.Set("a", Entry{Status: 204}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, _ := c.Get("a")
	assert.False(t, ok, "entry should have expired")
}

func TestMemCacheIncr(t *testing.T) {
	c := NewMemCache()
	n, err := c.Incr("count", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, err = c.Incr("count", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestSoftLockSerializesConcurrentCreation(t *testing.T) {
	c := NewMemCache()
	unlock, err := c.SoftLock("container", time.Second, 3)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		unlock2, err := c.SoftLock("container", 20*time.Millisecond, 1)
		assert.ErrorIs(t, err, ErrSoftLockFailedOpen, "second lock should fail open while first is held")
		unlock2()
		close(done)
	}()
	<-done
	unlock()

	unlock3, err := c.SoftLock("container", time.Second, 1)
	require.NoError(t, err, "lock should be free again after release")
	unlock3()
}
