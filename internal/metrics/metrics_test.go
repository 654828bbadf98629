package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/lazypower/sanctum/internal/fault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveLabelsFaultKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Observe("brain", "save", time.Now(), nil)
	m.Observe("brain", "save", time.Now(), fault.Write("save", "alice", errors.New("disk full")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("brain", "save", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("brain", "save", "write")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe("brain", "load", time.Now(), nil)
	m.Quarantined()
	m.Verified(5, 5)
	m.HandleOpened()
	m.HandleClosed()
	m.Purged(2)
}

func TestGaugesAndCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.HandleOpened()
	m.HandleOpened()
	m.HandleClosed()
	m.Quarantined()
	m.Purged(3)
	m.Purged(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OpenHandles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Quarantines))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TombstonesPurged))
}

func TestWatchLocks(t *testing.T) {
	n := 0
	g := WatchLocks(prometheus.NewRegistry(), func() int { return n })

	assert.Equal(t, 0.0, testutil.ToFloat64(g))
	n = 3
	assert.Equal(t, 3.0, testutil.ToFloat64(g))
}
