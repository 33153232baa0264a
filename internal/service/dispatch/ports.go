package dispatch

import (
	"context"

	"jobnotify/internal/model"
	"jobnotify/internal/render"
)

// QueueStore 队列读取与状态写回
type QueueStore interface {
	FetchQueue(ctx context.Context, limit int) ([]model.QueueRow, error)
	MarkStatus(ctx context.Context, logID int64, status model.Status, messageID string) error
}

// Renderer 渲染通知邮件
type Renderer interface {
	Render(row model.QueueRow) (render.Email, error)
}

// DeliveryMarker 已投递标记（Redis），不可用时必须放行
type DeliveryMarker interface {
	Delivered(ctx context.Context, logID int64) (string, bool)
	Remember(ctx context.Context, logID int64, messageID string)
}

// EventPublisher 投递结果事件
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}
