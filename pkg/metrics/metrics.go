package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 单行通知投递结果计数
	JobNotificationCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_notification_total",
			Help: "Total number of job notification rows processed",
		},
		[]string{"status", "recorded"}, // status: sent, failed
	)

	// 一次 dispatch 调用计数
	DispatchRunCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_notification_dispatch_runs_total",
			Help: "Total number of dispatch invocations",
		},
		[]string{"trigger", "outcome"}, // trigger: http, mq, schedule; outcome: ok, empty, queue_error
	)

	// 一次 dispatch 调用耗时（秒）
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_notification_dispatch_duration_seconds",
			Help:    "Dispatch invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"trigger"},
	)

	// 邮件服务商调用延迟（毫秒）
	EmailSendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_send_latency_ms",
			Help:    "Email provider send latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"provider", "status"},
	)

	// 数据库慢查询计数
	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Total number of queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		},
		[]string{"routing_key", "queue"},
	)
)

// IncrementJobNotification 记录单行投递结果
func IncrementJobNotification(status string, recorded bool) {
	r := "true"
	if !recorded {
		r = "false"
	}
	JobNotificationCount.WithLabelValues(status, r).Inc()
}

// RecordDispatchRun 记录一次 dispatch 调用
func RecordDispatchRun(trigger, outcome string, duration time.Duration) {
	DispatchRunCount.WithLabelValues(trigger, outcome).Inc()
	DispatchDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

// RecordEmailSendLatency 记录邮件发送延迟
func RecordEmailSendLatency(provider, status string, duration time.Duration) {
	EmailSendLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery 记录慢查询
// 耗时已由 RecordDBQueryDuration 按操作记录，这里只计数
func IncrementSlowQuery(statement string) {
	SlowQueryCount.WithLabelValues(statement).Inc()
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}
