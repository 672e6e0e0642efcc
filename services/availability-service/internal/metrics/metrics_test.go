package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailabilityMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAvailabilityMetrics(reg)

	m.ObserveOracle("available", 5*time.Millisecond)
	m.ObserveOracle("available", 7*time.Millisecond)
	m.ObserveOracle("unknown", time.Millisecond)
	m.ObserveQuery("list_open_slots", nil, 20*time.Millisecond)
	m.ObserveQuery("list_open_slots", errors.New("boom"), time.Millisecond)
	m.ObserveMutation("create", nil)
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveSlots(8)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.oracleTotal.WithLabelValues("available")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.oracleTotal.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryTotal.WithLabelValues("list_open_slots", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queryTotal.WithLabelValues("list_open_slots", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.windowMutations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *AvailabilityMetrics
	m.ObserveOracle("available", time.Millisecond)
	m.ObserveQuery("find_free_providers", nil, time.Millisecond)
	m.ObserveSlots(3)
	m.ObserveMutation("delete", nil)
	m.ObserveCache(true)
}
