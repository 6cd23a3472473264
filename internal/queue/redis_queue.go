package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现队列，每个主题对应一个 key。
type RedisQueue struct {
	client *redis.Client
	prefix string
	wait   time.Duration
}

// NewRedisQueue 创建 Redis 队列实例。
func NewRedisQueue(ctx context.Context, cfg RedisConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisQueue{client: client, prefix: cfg.KeyPrefix, wait: wait}, nil
}

func (q *RedisQueue) key(topic string) string {
	return q.prefix + topic
}

// Publish 将消息投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, topic string, body []byte) error {
	if err := q.client.LPush(ctx, q.key(topic), body).Err(); err != nil {
		return fmt.Errorf("Redis 发布消息失败: %w", err)
	}
	return nil
}

// Consume 通过 BRPOP 从 Redis 获取消息，handler 失败的消息会被重新放回队尾。
func (q *RedisQueue) Consume(ctx context.Context, topic string, handler Handler) error {
	key := q.key(topic)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		values, err := q.client.BRPop(ctx, q.wait, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("Redis 取消息失败: %w", err)
		}
		if len(values) != 2 {
			continue
		}
		body := []byte(values[1])
		if handlerErr := handler(ctx, body); handlerErr != nil && ctx.Err() == nil {
			_ = q.client.RPush(ctx, key, body).Err()
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
