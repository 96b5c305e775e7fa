package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector("test", reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestCollector_QueueGauges(t *testing.T) {
	c, _ := newTestCollector(t)

	c.SetQueued("completion", 5)
	c.SetActive("completion", 2)

	assert.Equal(t, float64(5), testutil.ToFloat64(c.queuedRequests.WithLabelValues("completion")))
	assert.Equal(t, float64(2), testutil.ToFloat64(c.activeRequests.WithLabelValues("completion")))

	c.SetQueued("completion", 0)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.queuedRequests.WithLabelValues("completion")))
}

func TestCollector_Outcomes(t *testing.T) {
	c, _ := newTestCollector(t)

	c.RecordSubmission("embedding")
	c.RecordSubmission("embedding")
	c.RecordOutcome("embedding", "success")
	c.RecordOutcome("embedding", "queue_full")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.submissionsTotal.WithLabelValues("embedding")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomesTotal.WithLabelValues("embedding", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.outcomesTotal.WithLabelValues("embedding", "queue_full")))
}

func TestCollector_BatchAndBackend(t *testing.T) {
	c, reg := newTestCollector(t)

	c.SetBatchWindowSize("embedding", 3)
	c.ObserveBatchSize("embedding", 4)
	c.ObserveQueueWait("embedding", 10*time.Millisecond)
	c.RecordBackendCall("embedding", "success", 200*time.Millisecond)
	c.SetCircuitState("embedding", 1)

	assert.Equal(t, float64(3), testutil.ToFloat64(c.batchWindowSize.WithLabelValues("embedding")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.circuitState.WithLabelValues("embedding")))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_batch_size"])
	assert.True(t, names["test_queue_wait_seconds"])
	assert.True(t, names["test_backend_duration_seconds"])
}

func TestCollector_HTTPRequest(t *testing.T) {
	c, reg := newTestCollector(t)

	c.RecordHTTPRequest("POST", "/v1/requests", "200", 15*time.Millisecond)
	c.RecordHTTPRequest("POST", "/v1/requests", "200", 30*time.Millisecond)
	c.RecordHTTPRequest("GET", "/v1/snapshot", "200", time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/v1/requests", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "/v1/snapshot", "200")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_http_request_duration_seconds"])
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector

	assert.NotPanics(t, func() {
		c.SetQueued("x", 1)
		c.SetActive("x", 1)
		c.ObserveQueueWait("x", time.Second)
		c.RecordSubmission("x")
		c.RecordOutcome("x", "success")
		c.SetBatchWindowSize("x", 1)
		c.ObserveBatchSize("x", 1)
		c.RecordBackendCall("x", "success", time.Second)
		c.SetCircuitState("x", 0)
		c.RecordHTTPRequest("GET", "/healthz", "200", time.Millisecond)
	})
}
