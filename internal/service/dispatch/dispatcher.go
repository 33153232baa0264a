// Package dispatch 读取待发送的职位通知，逐行渲染、投递并写回状态
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	contractmq "jobnotify/contracts/mq"
	"jobnotify/internal/delivery"
	"jobnotify/internal/model"
	"jobnotify/pkg/logger"
	"jobnotify/pkg/metrics"
	"jobnotify/pkg/otel"
	"jobnotify/pkg/trace"
)

// 触发来源
const (
	TriggerHTTP     = "http"
	TriggerMQ       = "mq"
	TriggerSchedule = "schedule"
)

const bookkeepingTimeout = 5 * time.Second

// Config dispatch 参数
type Config struct {
	DefaultLimit int
	MaxLimit     int
	// Concurrency <= 1 时严格按队列顺序逐行发送
	Concurrency int
	// Timeout 单次 dispatch 的上限，0 表示不限制
	Timeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 50,
		MaxLimit:     200,
		Concurrency:  1,
		Timeout:      2 * time.Minute,
	}
}

// Request 一次 dispatch 调用
type Request struct {
	Limit   int
	Trigger string
}

// Dispatcher 执行一次批量投递
type Dispatcher struct {
	store    QueueStore
	renderer Renderer
	sender   delivery.Sender
	marker   DeliveryMarker
	events   EventPublisher
	cfg      Config
	logger   *zap.Logger
}

// NewDispatcher 创建 Dispatcher
func NewDispatcher(store QueueStore, renderer Renderer, sender delivery.Sender, cfg Config, logger *zap.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		store:    store,
		renderer: renderer,
		sender:   sender,
		cfg:      cfg,
		logger:   logger,
	}
}

// WithMarker 启用 Redis 已投递标记
func (d *Dispatcher) WithMarker(m DeliveryMarker) *Dispatcher {
	d.marker = m
	return d
}

// WithEvents 启用结果事件发布
func (d *Dispatcher) WithEvents(p EventPublisher) *Dispatcher {
	d.events = p
	return d
}

// Limit 规范化批次大小
func (d *Dispatcher) Limit(requested int) int {
	if requested <= 0 {
		return d.cfg.DefaultLimit
	}
	if requested > d.cfg.MaxLimit {
		return d.cfg.MaxLimit
	}
	return requested
}

// Run 读取一批队列行并逐行投递
// 队列读取失败时返回 error 且不产生任何结果；单行失败只影响该行
func (d *Dispatcher) Run(ctx context.Context, req Request) (*model.Summary, error) {
	start := time.Now()
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerHTTP
	}

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	ctx, span := otel.StartSpan(ctx, "dispatch.Run")
	defer span.End()

	limit := d.Limit(req.Limit)
	log := logger.WithTrace(ctx, d.logger).With(zap.String("trigger", trigger))
	span.SetAttributes(
		attribute.String("dispatch.trigger", trigger),
		attribute.Int("dispatch.limit", limit),
	)

	rows, err := d.store.FetchQueue(ctx, limit)
	if err != nil {
		span.RecordError(err)
		metrics.RecordDispatchRun(trigger, "queue_error", time.Since(start))
		log.Error("Failed to read notification queue", zap.Error(err))
		return nil, fmt.Errorf("read notification queue: %w", err)
	}

	if len(rows) == 0 {
		metrics.RecordDispatchRun(trigger, "empty", time.Since(start))
		log.Debug("Notification queue is empty")
		return &model.Summary{}, nil
	}

	results := make([]model.DeliveryResult, len(rows))
	if d.cfg.Concurrency <= 1 || len(rows) == 1 {
		for i, row := range rows {
			results[i] = d.process(ctx, row, trigger, log)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(d.cfg.Concurrency)
		for i, row := range rows {
			g.Go(func() error {
				results[i] = d.process(ctx, row, trigger, log)
				return nil
			})
		}
		_ = g.Wait()
	}

	summary := &model.Summary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Status == model.StatusSent {
			summary.Sent++
		}
	}

	outcome := "ok"
	if summary.Failed() > 0 {
		outcome = "partial"
	}
	metrics.RecordDispatchRun(trigger, outcome, time.Since(start))
	span.SetAttributes(
		attribute.Int("dispatch.total", summary.Total),
		attribute.Int("dispatch.sent", summary.Sent),
	)

	log.Info("Job notification dispatch finished",
		zap.Int("total", summary.Total),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed()),
		zap.Int("unrecorded", summary.Unrecorded()),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

// process 处理单行，保证恰好返回一个结果，panic 也不会越过本行
func (d *Dispatcher) process(ctx context.Context, row model.QueueRow, trigger string, log *zap.Logger) (res model.DeliveryResult) {
	res.LogID = row.LogID
	rowLog := log.With(zap.Int64("log_id", row.LogID), zap.String("job_id", row.JobID))

	defer func() {
		if r := recover(); r != nil {
			rowLog.Error("Panic while dispatching job notification",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			res = model.DeliveryResult{
				LogID:  row.LogID,
				Status: model.StatusFailed,
				Error:  fmt.Sprintf("panic: %v", r),
			}
			res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusFailed, "")
		}
		metrics.IncrementJobNotification(string(res.Status), res.Recorded)
		d.publish(ctx, row, res, trigger, rowLog)
	}()

	// 超时或取消后未尝试的行保持待发送，交给下一次 dispatch
	if err := ctx.Err(); err != nil {
		res.Status = model.StatusFailed
		res.Error = fmt.Sprintf("dispatch aborted: %v", err)
		return res
	}

	if d.marker != nil {
		if id, ok := d.marker.Delivered(ctx, row.LogID); ok {
			rowLog.Info("Job notification already delivered, recording status only",
				zap.String("message_id", id),
			)
			res.Status = model.StatusSent
			res.ID = id
			res.Recovered = true
			res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusSent, id)
			return res
		}
	}

	email, err := d.renderer.Render(row)
	if err != nil {
		res.Status = model.StatusFailed
		res.Error = fmt.Sprintf("render: %v", err)
		res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusFailed, "")
		return res
	}

	out, err := d.sender.Send(ctx, delivery.Message{
		To:      row.RecipientEmail,
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
	})
	if err != nil {
		rowLog.Warn("Job notification send failed", zap.Error(err))
		res.Status = model.StatusFailed
		res.Error = err.Error()
		res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusFailed, "")
		return res
	}
	if !out.OK {
		rowLog.Info("Job notification rejected by provider", zap.String("error", out.Error))
		res.Status = model.StatusFailed
		res.Error = out.Error
		if res.Error == "" {
			res.Error = "rejected by email provider"
		}
		res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusFailed, "")
		return res
	}

	if d.marker != nil {
		d.marker.Remember(ctx, row.LogID, out.ID)
	}
	res.Status = model.StatusSent
	res.ID = out.ID
	res.Recorded = d.mark(ctx, rowLog, row.LogID, model.StatusSent, out.ID)
	return res
}

// mark 写回状态，失败时立即重试一次；最终失败只记录日志
func (d *Dispatcher) mark(ctx context.Context, log *zap.Logger, logID int64, status model.Status, messageID string) bool {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = d.markOnce(bctx, logID, status, messageID); err == nil {
			return true
		}
		log.Warn("Failed to record job notification status",
			zap.Int("attempt", attempt),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}

	if status == model.StatusSent {
		log.Error("Job notification delivered but status not recorded",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	} else {
		log.Error("Job notification failure not recorded", zap.Error(err))
	}
	return false
}

func (d *Dispatcher) markOnce(ctx context.Context, logID int64, status model.Status, messageID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.store.MarkStatus(ctx, logID, status, messageID)
}

func (d *Dispatcher) publish(ctx context.Context, row model.QueueRow, res model.DeliveryResult, trigger string, log *zap.Logger) {
	if d.events == nil {
		return
	}

	routingKey := contractmq.RoutingKeyNotificationSent
	if res.Status != model.StatusSent {
		routingKey = contractmq.RoutingKeyNotificationFailed
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	payload := contractmq.JobNotificationResultPayload{
		LogID:     row.LogID,
		JobID:     row.JobID,
		Status:    string(res.Status),
		MessageID: res.ID,
		Error:     res.Error,
		Recorded:  res.Recorded,
		Trigger:   trigger,
		TraceID:   trace.FromContext(ctx),
		At:        time.Now().UTC(),
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while publishing job notification event", zap.Any("panic", r))
		}
	}()
	if err := d.events.PublishWithContext(pctx, routingKey, payload); err != nil {
		log.Warn("Failed to publish job notification event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}
