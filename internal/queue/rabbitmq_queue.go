package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现队列，主题即队列名，首次使用时声明。
type RabbitMQQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	durable    bool
	autoDelete bool

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("设置 RabbitMQ QOS 失败: %w", err)
		}
	}
	return &RabbitMQQueue{
		conn:       conn,
		ch:         ch,
		durable:    cfg.Durable,
		autoDelete: cfg.AutoDelete,
		declared:   make(map[string]struct{}),
	}, nil
}

func (q *RabbitMQQueue) declare(topic string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.declared[topic]; ok {
		return nil
	}
	if _, err := q.ch.QueueDeclare(topic, q.durable, q.autoDelete, false, false, nil); err != nil {
		return fmt.Errorf("声明 RabbitMQ 队列 %s 失败: %w", topic, err)
	}
	q.declared[topic] = struct{}{}
	return nil
}

// Publish 将消息投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, topic string, body []byte) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if err := q.declare(topic); err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。handler 失败的消息重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, topic string, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	if err := q.declare(topic); err != nil {
		return err
	}
	msgs, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ErrClosed
			}
			if err := handler(ctx, msg.Body); err != nil {
				_ = msg.Nack(false, true)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
