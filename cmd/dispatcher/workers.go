package main

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// workers 跟踪后台 goroutine（scheduler、MQ consumer），关闭 DB/MQ/Redis 连接前等待它们退出
type workers struct {
	g   errgroup.Group
	log *zap.Logger
}

func newWorkers(log *zap.Logger) *workers {
	return &workers{log: log}
}

// Go 启动后台任务；任务失败只记录日志，不影响其他任务
func (w *workers) Go(name string, fn func() error) {
	w.g.Go(func() error {
		if err := fn(); err != nil {
			w.log.Error("Background worker failed", zap.String("worker", name), zap.Error(err))
			return nil
		}
		w.log.Info("Background worker stopped", zap.String("worker", name))
		return nil
	})
}

// Wait 等待所有任务退出，超时返回 false
func (w *workers) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		_ = w.g.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
