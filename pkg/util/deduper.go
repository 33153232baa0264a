package util

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeliveryMarker 在 Redis 中记住已成功投递的通知行（log_id -> provider message id）
// 用于缩小"邮件已发出但状态写回失败"导致的重复发送窗口
type DeliveryMarker struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewDeliveryMarker creates a marker store; logger may be nil
func NewDeliveryMarker(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *DeliveryMarker {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeliveryMarker{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "job-notify:delivered",
		logger: logger,
	}
}

func (d *DeliveryMarker) key(logID int64) string {
	return fmt.Sprintf("%s:%d", d.prefix, logID)
}

// Delivered 返回该行之前记录的 message id
// Redis 不可用时返回 false，不阻止发送
func (d *DeliveryMarker) Delivered(ctx context.Context, logID int64) (string, bool) {
	id, err := d.rdb.Get(ctx, d.key(logID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		d.logger.Warn("Redis delivery marker lookup failed, allowing send",
			zap.Int64("log_id", logID),
			zap.Error(err),
		)
		return "", false
	}
	return id, true
}

// Remember 记录该行已投递；只在第一次写入时生效
func (d *DeliveryMarker) Remember(ctx context.Context, logID int64, messageID string) {
	ok, err := d.rdb.SetNX(ctx, d.key(logID), messageID, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis delivery marker write failed",
			zap.Int64("log_id", logID),
			zap.Error(err),
		)
		return
	}
	if !ok {
		d.logger.Info("Delivery marker already present",
			zap.Int64("log_id", logID),
			zap.String("marker_key", d.key(logID)),
		)
	}
}
