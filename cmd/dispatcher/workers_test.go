package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWorkers_WaitBlocksUntilInFlightWorkFinishes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := newWorkers(zap.NewNop())

	// 模拟 ctx 取消后仍在写回状态的 dispatch run
	var finished atomic.Bool
	w.Go("scheduler", func() error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	w.Go("consumer", func() error {
		<-ctx.Done()
		return errors.New("channel closed")
	})

	cancel()
	assert.True(t, w.Wait(time.Second))
	assert.True(t, finished.Load(), "Wait returned before the worker finished")
}

func TestWorkers_WaitTimesOut(t *testing.T) {
	w := newWorkers(zap.NewNop())
	release := make(chan struct{})
	defer close(release)

	w.Go("stuck", func() error {
		<-release
		return nil
	})

	assert.False(t, w.Wait(20*time.Millisecond))
}

func TestWorkers_WaitWithNothingRunning(t *testing.T) {
	assert.True(t, newWorkers(zap.NewNop()).Wait(time.Millisecond))
}
