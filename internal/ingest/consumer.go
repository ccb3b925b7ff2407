package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"tempmail/engine/internal/domain"
	"tempmail/engine/internal/pool"
)

// Envelope 队列中的入站邮件，raw 为 base64 编码的原始邮件
type Envelope struct {
	To   []string `json:"to"`
	From string   `json:"from"`
	Raw  []byte   `json:"raw"`
}

// Acknowledger 确认或拒绝一条投递，amqp.Delivery 满足该接口
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Deliverer 入站邮件的落地方式，*Ingestor 实现
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) (int, error)
}

// Consumer 从 RabbitMQ 队列消费入站邮件
type Consumer struct {
	url     string
	queue   string
	workers int
	handler Deliverer
	log     *zap.Logger

	// mu 保护 conn 与 channel，Health 在其他 goroutine 上读取
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewConsumer 创建消费者，Start 时才建立连接
func NewConsumer(url, queue string, workers int, handler Deliverer, log *zap.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{url: url, queue: queue, workers: workers, handler: handler, log: log}
}

// Start 连接并持续消费，直到 ctx 结束或连接断开
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	c.setConn(conn, ch)
	defer c.Close()

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.Qos(c.workers, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "tempmail-ingest", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	workers := pool.NewWorkerPool(c.workers, c.workers, c.log)
	workers.Start(ctx)
	defer workers.Stop()

	c.log.Info("consumer started", zap.String("queue", q.Name), zap.Int("workers", c.workers))

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return fmt.Errorf("rabbitmq connection closed: %w", amqpErr)
			}
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := workers.Submit(ctx, func(ctx context.Context) {
				c.Handle(ctx, msg.Body, msg)
			}); err != nil {
				_ = msg.Nack(false, true)
				return nil
			}
		}
	}
}

func (c *Consumer) setConn(conn *amqp.Connection, ch *amqp.Channel) {
	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()
}

// Close 关闭通道与连接
func (c *Consumer) Close() {
	c.mu.Lock()
	conn, ch := c.conn, c.channel
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		_ = conn.Close()
	}
}

// Health 报告连接状态
func (c *Consumer) Health(context.Context) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq not connected")
	}
	return nil
}

// Handle 处理一条消息并确认。
// 无法解析或收件人无效的消息直接确认丢弃，只有暂时性故障才重新入队。
func (c *Consumer) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic recovered", zap.Any("panic", r))
			_ = ack.Nack(false, false)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.To) == 0 || len(env.Raw) == 0 {
		c.log.Warn("dropping malformed envelope", zap.Int("size", len(body)), zap.Error(err))
		c.settle(ack, true)
		return
	}

	n, err := c.handler.Deliver(ctx, Delivery{
		Source:       "amqp",
		EnvelopeFrom: env.From,
		Recipients:   env.To,
		Raw:          env.Raw,
	})
	switch {
	case err == nil:
		c.log.Debug("envelope delivered", zap.Int("delivered", n))
		c.settle(ack, true)
	case Permanent(err):
		c.log.Info("dropping undeliverable envelope", zap.Strings("to", env.To), zap.Error(err))
		c.settle(ack, true)
	default:
		c.log.Error("delivery failed, requeueing", zap.Strings("to", env.To), zap.Error(err))
		c.settle(ack, false)
	}
}

func (c *Consumer) settle(ack Acknowledger, done bool) {
	var err error
	if done {
		err = ack.Ack(false)
	} else {
		err = ack.Nack(false, true)
	}
	if err != nil {
		c.log.Error("failed to settle message", zap.Bool("ack", done), zap.Error(err))
	}
}

// Permanent 判断投递错误是否重试无意义
func Permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrNotFound)
}
