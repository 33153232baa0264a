package mqhandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	contractmq "jobnotify/contracts/mq"
	"jobnotify/internal/service/dispatch"
	"jobnotify/pkg/logger"
	"jobnotify/pkg/mq"
	"jobnotify/pkg/trace"
	"jobnotify/pkg/util"
)

const (
	handlerName       = "dispatch_requested"
	defaultMaxRetries = 5
)

// RetryCounter 跨重新投递累计失败次数
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type DispatchRequestedHandler struct {
	runner     dispatch.Runner
	retries    RetryCounter
	local      *localRetryCounter
	maxRetries int64
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewDispatchRequestedHandler(runner dispatch.Runner, logger *zap.Logger) *DispatchRequestedHandler {
	return &DispatchRequestedHandler{
		runner:     runner,
		local:      newLocalRetryCounter(),
		maxRetries: defaultMaxRetries,
		retryDelay: time.Second,
		logger:     logger,
	}
}

// WithRetryCounter 使用共享计数（Redis），多个实例消费同一队列时计数一致
func (h *DispatchRequestedHandler) WithRetryCounter(counter RetryCounter) *DispatchRequestedHandler {
	h.retries = counter
	return h
}

// WithMaxRetries n <= 0 时保留默认值
func (h *DispatchRequestedHandler) WithMaxRetries(n int) *DispatchRequestedHandler {
	if n > 0 {
		h.maxRetries = int64(n)
	}
	return h
}

// HandleDispatchRequested -- 收到触发消息后执行一次 dispatch
// 消息格式错误：ack 丢弃；队列读取失败：nack 重新入队，超过 maxRetries 次后进入死信队列
func (h *DispatchRequestedHandler) HandleDispatchRequested(ctx context.Context, raw json.RawMessage) error {
	var p contractmq.DispatchRequestedPayload
	body := bytes.TrimSpace(raw)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &p); err != nil {
			h.logger.Error("Failed to unmarshal dispatch requested payload", zap.Error(err))
			return mq.Permanent(fmt.Errorf("invalid dispatch payload: %w", err))
		}
	}
	if p.Limit < 0 {
		return mq.Permanent(fmt.Errorf("invalid dispatch limit %d", p.Limit))
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger)
	key := util.FormatRetryKey(handlerName, messageKey(p, body))

	summary, err := h.runner.Run(ctx, dispatch.Request{Limit: p.Limit, Trigger: dispatch.TriggerMQ})
	if err != nil {
		attempt := h.attempt(ctx, key, log)
		if attempt > h.maxRetries {
			log.Error("Queued dispatch failed, giving up",
				zap.Int64("attempt", attempt),
				zap.Int64("max_retries", h.maxRetries),
				zap.Error(err),
			)
			h.reset(ctx, key, log)
			return mq.Permanent(fmt.Errorf("dispatch failed after %d attempts: %w", attempt, err))
		}

		log.Error("Queued dispatch failed, will retry",
			zap.Int64("attempt", attempt),
			zap.Error(err),
		)
		h.backoff(ctx, attempt)
		return err
	}

	h.reset(ctx, key, log)
	log.Info("Queued dispatch completed",
		zap.Int("sent", summary.Sent),
		zap.Int("total", summary.Total),
	)
	return nil
}

// attempt 返回本次失败是第几次；Redis 不可用时退回进程内计数
func (h *DispatchRequestedHandler) attempt(ctx context.Context, key string, log *zap.Logger) int64 {
	if h.retries != nil {
		n, err := h.retries.IncrementAndGet(ctx, key)
		if err == nil {
			return n
		}
		log.Warn("Failed to increment retry counter, using local count", zap.Error(err))
	}
	n, _ := h.local.IncrementAndGet(ctx, key)
	return n
}

func (h *DispatchRequestedHandler) reset(ctx context.Context, key string, log *zap.Logger) {
	if h.retries != nil {
		if err := h.retries.Reset(ctx, key); err != nil {
			log.Warn("Failed to reset retry counter", zap.Error(err))
		}
	}
	_ = h.local.Reset(ctx, key)
}

// backoff 重新入队前线性等待，避免队列故障时消息空转
func (h *DispatchRequestedHandler) backoff(ctx context.Context, attempt int64) {
	if h.retryDelay <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(attempt) * h.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// messageKey 优先使用 payload 的 trace_id，否则使用消息体哈希，重新投递时保持不变
func messageKey(p contractmq.DispatchRequestedPayload, body []byte) string {
	if p.TraceID != "" {
		return p.TraceID
	}
	h := fnv.New64a()
	_, _ = h.Write(body)
	return "body-" + strconv.FormatUint(h.Sum64(), 16)
}

type localRetryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newLocalRetryCounter() *localRetryCounter {
	return &localRetryCounter{counts: make(map[string]int64)}
}

func (c *localRetryCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *localRetryCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}
