package errorlimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNotSuppressedBelowLimit(t *testing.T) {
	l := New(2, time.Minute)
	l.Record("n0", WeightTransient)
	l.Record("n0", WeightTransient)
	assert.False(t, l.Suppressed("n0"), "errors == limit should not suppress")
}

func TestSuppressedAboveLimitWithinWindow(t *testing.T) {
	l := New(2, time.Minute)
	for i := 0; i < 3; i++ {
		l.Record("n0", WeightTransient)
	}
	assert.True(t, l.Suppressed("n0"))
}

func TestNegativeWindowDisablesSuppression(t *testing.T) {
	l := New(2, -300*time.Second)
	for i := 0; i < 10; i++ {
		l.Record("n0", WeightTransient)
	}
	assert.False(t, l.Suppressed("n0"), "non-positive window means suppression never triggers")
}

func TestFatalWeightSuppressesFaster(t *testing.T) {
	l := New(2, time.Minute)
	l.Record("n0", WeightFatal)
	assert.True(t, l.Suppressed("n0"), "a single 507 should exceed the limit immediately")
}

func TestSuppressionExpiresAfterWindow(t *testing.T) {
	l := New(0, 10*time.Millisecond)
	l.Record("n0", WeightTransient)
	assert.True(t, l.Suppressed("n0"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, l.Suppressed("n0"))
}

func TestResetClearsCounters(t *testing.T) {
	l := New(0, time.Minute)
	l.Record("n0", WeightFatal)
	assert.True(t, l.Suppressed("n0"))
	l.Reset("n0")
	assert.False(t, l.Suppressed("n0"))
}

func TestSnapshotsReportsKnownNodesOnly(t *testing.T) {
	l := New(1, time.Minute)
	l.Record("n0", WeightTransient)
	snaps := l.Snapshots()
	assert.Len(t, snaps, 1)
	assert.Equal(t, "n0", snaps[0].NodeID)
}
