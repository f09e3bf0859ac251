package obs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.DocumentEmitted(0)
	m.DocumentEmitted(0)
	m.DocumentEmitted(1)
	m.SetPending(3)
	m.Request(200)
	m.Acknowledged(5 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.documentsEmitted.WithLabelValues("0")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.documentsEmitted.WithLabelValues("1")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("200")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["http_ingest_acknowledge_latency_seconds"])
	assert.True(t, names["http_ingest_documents_emitted_total"])
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DocumentEmitted(0)
	m.SetPending(1)
	m.Request(404)
	m.Acknowledged(time.Second)
}
