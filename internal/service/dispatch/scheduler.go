package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"jobnotify/internal/model"
	"jobnotify/pkg/trace"
)

// Runner 执行一次 dispatch
type Runner interface {
	Run(ctx context.Context, req Request) (*model.Summary, error)
}

// Scheduler 进程内定时触发 dispatch
type Scheduler struct {
	runner   Runner
	interval time.Duration
	limit    int
	logger   *zap.Logger
}

// NewScheduler 创建 Scheduler
func NewScheduler(runner Runner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// WithLimit 设置每次定时 dispatch 的批次大小
func (s *Scheduler) WithLimit(limit int) *Scheduler {
	s.limit = limit
	return s
}

// Start 阻塞运行直到 ctx 结束；interval <= 0 时直接返回
func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Dispatch scheduler disabled")
		return
	}

	s.logger.Info("Starting dispatch scheduler", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dispatch scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ctx, traceID := trace.Ensure(ctx, "")
	summary, err := s.runner.Run(ctx, Request{Limit: s.limit, Trigger: TriggerSchedule})
	if err != nil {
		s.logger.Error("Scheduled dispatch failed",
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return
	}
	if summary.Total > 0 {
		s.logger.Info("Scheduled dispatch completed",
			zap.String("trace_id", traceID),
			zap.Int("sent", summary.Sent),
			zap.Int("total", summary.Total),
		)
	}
}
