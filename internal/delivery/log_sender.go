package delivery

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender 本地开发用：只写日志，不真正发送
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) (Outcome, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("Email (log provider)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", id),
	)
	return Outcome{OK: true, ID: id}, nil
}
