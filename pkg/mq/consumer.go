package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"jobnotify/pkg/metrics"
	"jobnotify/pkg/otel"
	"jobnotify/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

// PermanentError 表示消息本身有问题，重试没有意义：ack 并转入 DLQ
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent 包装一个不可重试的错误
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	handler    MessageHandler
	conn       *amqp091.Connection
	dlq        *Publisher
	logger     *zap.Logger
	tag        string
	stopOnce   sync.Once
}

// NewConsumer creates a consumer for a specific routing key.
func NewConsumer(url, queueName, routingKey string, logger *zap.Logger) (*Consumer, error) {
	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		return fail("failed to bind queue: %w", err)
	}

	// 一次只取一条：dispatch 本身就是批处理
	if err := ch.Qos(1, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
	)

	return &Consumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		logger:     logger,
		tag:        "dispatcher-" + trace.GenerateTraceID(),
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// SetDLQ 设置死信发布者并声明该 routing key 的死信队列，Permanent 错误的消息会被转发
func (c *Consumer) SetDLQ(p *Publisher) error {
	if err := DeclareDLQExchange(c.channel); err != nil {
		return fmt.Errorf("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(c.channel, c.routingKey); err != nil {
		return err
	}
	c.dlq = p
	return nil
}

// Stop cancels the consumer so that StartConsuming returns.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.channel != nil {
			if err := c.channel.Cancel(c.tag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer", zap.Error(err))
			}
		}
	})
}

func (c *Consumer) Close() {
	c.Stop()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. It blocks until Stop is called or ctx is done.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				c.logger.Info("Consumer delivery channel closed", zap.String("queue", c.queue.Name))
				return nil
			}
			c.handle(ctx, msg)
		}
	}
}

// handle 保证每条消息都会被 ack 或 nack
func (c *Consumer) handle(ctx context.Context, msg amqp091.Delivery) {
	start := time.Now()

	ctx, span := otel.MQConsumeSpan(ctx, msg.Headers, c.routingKey, c.queue.Name)
	defer span.End()

	traceID, _ := msg.Headers["trace_id"].(string)
	ctx, traceID = trace.Ensure(ctx, traceID)
	log := c.logger.With(
		zap.String("trace_id", traceID),
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("Handler panic recovered", zap.Any("panic", r))
			// Panic → 拒绝消息并重新入队
			if err := msg.Nack(false, true); err != nil {
				log.Error("Failed to nack message after panic", zap.Error(err))
			}
		}
		metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	}()

	log.Debug("Received message", zap.Int("message_size", len(msg.Body)))

	err := c.handler(ctx, msg.Body)
	if err == nil {
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	span.RecordError(err)

	var permanent *PermanentError
	if errors.As(err, &permanent) {
		log.Warn("Dropping message with permanent error", zap.Error(err))
		if c.dlq != nil {
			if dlqErr := c.dlq.PublishToDLQ(ctx, c.routingKey, msg.Body, err.Error()); dlqErr != nil {
				log.Error("Failed to publish to DLQ", zap.Error(dlqErr))
			}
		}
		if err := msg.Ack(false); err != nil {
			log.Error("Failed to ack message", zap.Error(err))
		}
		return
	}

	log.Error("Handler error", zap.Error(err))
	// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
	if err := msg.Nack(false, true); err != nil {
		log.Error("Failed to nack message", zap.Error(err))
	}
}
