// Package metrics registers and records the process-wide Prometheus
// metric families: HTTP serving, account selection, rate limit churn and
// database pool state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 Prometheus 指标
// =============================================================================

// Collector 持有进程内全部 Prometheus 指标族
type Collector struct {
	// HTTP 服务指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 调度指标
	selectionsTotal   *prometheus.CounterVec
	selectionDuration *prometheus.HistogramVec
	candidatePoolSize *prometheus.HistogramVec
	stickyLookups     *prometheus.CounterVec
	strategyFallbacks *prometheus.CounterVec

	// 限流指标
	rateLimitEvents *prometheus.CounterVec

	// 连接池指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 在给定命名空间下注册全部指标族。
// promauto 写入默认 registry，同一命名空间只能构造一次。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 服务指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, path and status class",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Wall time spent serving a request",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "Incoming request body size",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "Outgoing response body size",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 10),
		},
		[]string{"method", "path"},
	)

	// 调度指标
	c.selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      "Total number of account selections",
		},
		[]string{"platform", "strategy", "outcome"},
	)

	c.selectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_duration_seconds",
			Help:      "Account selection duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"platform"},
	)

	c.candidatePoolSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidate_pool_size",
			Help:      "Number of schedulable accounts considered per selection",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
		[]string{"platform"},
	)

	c.stickyLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sticky_session_lookups_total",
			Help:      "Total number of sticky session lookups",
		},
		[]string{"result"}, // result: hit, miss, stale
	)

	c.strategyFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_fallbacks_total",
			Help:      "Total number of strategy executions degraded to the default ordering",
		},
		[]string{"platform", "strategy"},
	)

	// 限流指标
	c.rateLimitEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_events_total",
			Help:      "Total number of rate limit state changes",
		},
		[]string{"platform", "action"}, // action: mark, clear
	)

	// 连接池指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open connections held by the pool",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle connections held by the pool",
		},
		[]string{"database"},
	)

	logger.Info("metrics registered", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 采样
// =============================================================================

// RecordHTTPRequest 采样一次已完成的 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🎯 调度指标记录
// =============================================================================

// RecordSelection 记录一次账号选取
func (c *Collector) RecordSelection(platform, strategy, outcome string, duration time.Duration, poolSize int) {
	c.selectionsTotal.WithLabelValues(platform, strategy, outcome).Inc()
	c.selectionDuration.WithLabelValues(platform).Observe(duration.Seconds())
	if poolSize > 0 {
		c.candidatePoolSize.WithLabelValues(platform).Observe(float64(poolSize))
	}
}

// RecordStickyLookup 记录粘性会话查询结果
func (c *Collector) RecordStickyLookup(result string) {
	c.stickyLookups.WithLabelValues(result).Inc()
}

// RecordStrategyFallback 记录策略降级
func (c *Collector) RecordStrategyFallback(platform, strategy string) {
	c.strategyFallbacks.WithLabelValues(platform, strategy).Inc()
}

// =============================================================================
// ⏳ 限流指标记录
// =============================================================================

// RecordRateLimitEvent 记录限流状态变更
func (c *Collector) RecordRateLimitEvent(platform, action string) {
	c.rateLimitEvents.WithLabelValues(platform, action).Inc()
}

// =============================================================================
// 🗄️ 连接池采样
// =============================================================================

// RecordDBConnections 上报连接池当前的打开与空闲连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 标签辅助
// =============================================================================

// statusCode 把状态码折叠为 2xx/3xx/4xx/5xx 类别标签
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
