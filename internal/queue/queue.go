package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"VoiceSwap/internal/config"
	xerrors "VoiceSwap/internal/errors"
)

// Handler 处理从某个主题取出的一条消息。
type Handler func(ctx context.Context, body []byte) error

// Producer 负责向主题投递消息。
type Producer interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Close() error
}

// Consumer 负责从主题中消费消息，阻塞直到 ctx 结束或连接出错。
type Consumer interface {
	Consume(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// Open 根据配置创建队列。driver 为空时使用内存队列。
func Open(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(0), nil
	case "redis":
		wait := time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second
		q, err := NewRedisQueue(ctx, RedisConfig{
			Address:   cfg.Redis.Address,
			Password:  config.Secret(cfg.Redis.Password, cfg.Redis.PasswordEnv),
			DB:        cfg.Redis.DB,
			BlockWait: wait,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 Redis 队列失败")
		}
		return q, nil
	case "rabbitmq":
		q, err := NewRabbitMQQueue(RabbitMQConfig{
			URL:        config.Secret(cfg.RabbitMQ.URL, cfg.RabbitMQ.URLEnv),
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "初始化 RabbitMQ 队列失败")
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", cfg.Driver))
	}
}
