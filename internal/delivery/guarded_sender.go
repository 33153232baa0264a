package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"jobnotify/pkg/circuitbreaker"
	"jobnotify/pkg/metrics"
	"jobnotify/pkg/util"
)

// GuardedSender 给 Sender 加上熔断与延迟指标
// 只有基础设施故障会计入熔断器，服务商拒收与调用方取消/超时不会
type GuardedSender struct {
	next     Sender
	provider string
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

func NewGuardedSender(next Sender, provider string, cfg circuitbreaker.Config, logger *zap.Logger) *GuardedSender {
	cfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("Email provider circuit breaker state changed",
			zap.String("provider", provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &GuardedSender{
		next:     next,
		provider: provider,
		breaker:  circuitbreaker.New(cfg),
		logger:   logger,
	}
}

func (g *GuardedSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	start := time.Now()

	var out Outcome
	err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.next.Send(ctx, msg)
		return err
	})

	status := "sent"
	switch {
	case err != nil:
		_, errType := util.ClassifyError(err)
		status = errType
		err = fmt.Errorf("%s send failed: %w", g.provider, err)
	case !out.OK:
		status = "rejected"
	}
	metrics.RecordEmailSendLatency(g.provider, status, time.Since(start))

	return out, err
}

// State 当前熔断器状态
func (g *GuardedSender) State() circuitbreaker.State {
	return g.breaker.State()
}
