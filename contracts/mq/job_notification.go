package mq

import "time"

const (
	RoutingKeyDispatch           = "job.notifications.dispatch"
	RoutingKeyNotificationSent   = "job.notification.sent"
	RoutingKeyNotificationFailed = "job.notification.failed"
)

// DispatchRequestedPayload 触发一次 dispatch（cron / 发布职位后）
type DispatchRequestedPayload struct {
	Limit   int    `json:"limit,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// JobNotificationResultPayload 单行投递结果事件
type JobNotificationResultPayload struct {
	LogID     int64     `json:"log_id"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Recorded  bool      `json:"recorded"`
	Trigger   string    `json:"trigger"`
	TraceID   string    `json:"trace_id,omitempty"`
	At        time.Time `json:"at"`
}
