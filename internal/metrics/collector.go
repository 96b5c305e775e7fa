// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。所有方法对 nil 接收者安全，
// 便于在未注入收集器的测试场景下直接跳过记录。
type Collector struct {
	// 队列/准入指标
	queuedRequests *prometheus.GaugeVec
	activeRequests *prometheus.GaugeVec
	queueWait      *prometheus.HistogramVec

	// 请求结局指标
	submissionsTotal *prometheus.CounterVec
	outcomesTotal    *prometheus.CounterVec

	// 批量指标
	batchWindowSize *prometheus.GaugeVec
	batchSize       *prometheus.HistogramVec

	// 后端指标
	backendDuration *prometheus.HistogramVec

	// 熔断器指标
	circuitState *prometheus.GaugeVec

	// HTTP 服务指标
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 队列/准入指标
	c.queuedRequests = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_requests",
			Help:      "Number of requests waiting for admission",
		},
		[]string{"class"},
	)

	c.activeRequests = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight backend calls",
		},
		[]string{"class"},
	)

	c.queueWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time spent queued before dispatch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"class"},
	)

	// 请求结局指标
	c.submissionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Total number of submitted requests",
		},
		[]string{"class"},
	)

	c.outcomesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Terminal request outcomes",
		},
		[]string{"class", "outcome"}, // outcome: success, queue_full, timed_out, cancelled, backend_error, backend_unavailable
	)

	// 批量指标
	c.batchWindowSize = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_window_size",
			Help:      "Members in the currently open batch window",
		},
		[]string{"class"},
	)

	c.batchSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Members per dispatched batch",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
		[]string{"class"},
	)

	// 后端指标
	c.backendDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_duration_seconds",
			Help:      "Backend invocation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"class", "status"},
	)

	// 熔断器指标
	c.circuitState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"class"},
	)

	// HTTP 服务指标
	c.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 队列/准入指标记录
// =============================================================================

// SetQueued 记录当前排队数
func (c *Collector) SetQueued(class string, n int) {
	if c == nil {
		return
	}
	c.queuedRequests.WithLabelValues(class).Set(float64(n))
}

// SetActive 记录当前在途数
func (c *Collector) SetActive(class string, n int) {
	if c == nil {
		return
	}
	c.activeRequests.WithLabelValues(class).Set(float64(n))
}

// ObserveQueueWait 记录排队等待时长
func (c *Collector) ObserveQueueWait(class string, d time.Duration) {
	if c == nil {
		return
	}
	c.queueWait.WithLabelValues(class).Observe(d.Seconds())
}

// =============================================================================
// 🎯 请求结局指标记录
// =============================================================================

// RecordSubmission 记录一次提交
func (c *Collector) RecordSubmission(class string) {
	if c == nil {
		return
	}
	c.submissionsTotal.WithLabelValues(class).Inc()
}

// RecordOutcome 记录一次终态
func (c *Collector) RecordOutcome(class, outcome string) {
	if c == nil {
		return
	}
	c.outcomesTotal.WithLabelValues(class, outcome).Inc()
}

// =============================================================================
// 📦 批量指标记录
// =============================================================================

// SetBatchWindowSize 记录当前批量窗口成员数
func (c *Collector) SetBatchWindowSize(class string, n int) {
	if c == nil {
		return
	}
	c.batchWindowSize.WithLabelValues(class).Set(float64(n))
}

// ObserveBatchSize 记录已派发批次的成员数
func (c *Collector) ObserveBatchSize(class string, n int) {
	if c == nil {
		return
	}
	c.batchSize.WithLabelValues(class).Observe(float64(n))
}

// =============================================================================
// 🤖 后端指标记录
// =============================================================================

// RecordBackendCall 记录一次后端调用
func (c *Collector) RecordBackendCall(class, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.backendDuration.WithLabelValues(class, status).Observe(duration.Seconds())
}

// =============================================================================
// ⚡ 熔断器指标记录
// =============================================================================

// SetCircuitState 记录熔断器状态
func (c *Collector) SetCircuitState(class string, state int) {
	if c == nil {
		return
	}
	c.circuitState.WithLabelValues(class).Set(float64(state))
}

// =============================================================================
// 🌐 HTTP 服务指标记录
// =============================================================================

// RecordHTTPRequest 记录一次 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, path, status).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
