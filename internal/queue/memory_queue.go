package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 在队列关闭后投递或消费时返回。
var ErrClosed = errors.New("队列已关闭")

// MemoryQueue 使用 channel 模拟消息队列，每个主题一个缓冲 channel。
type MemoryQueue struct {
	size   int
	mu     sync.Mutex
	topics map[string]chan []byte
	done   chan struct{}
	closed bool
}

// NewMemoryQueue 创建一个内存队列，size 为每个主题的缓冲长度。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{size: size, topics: make(map[string]chan []byte), done: make(chan struct{})}
}

func (q *MemoryQueue) topic(name string) (chan []byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	ch, ok := q.topics[name]
	if !ok {
		ch = make(chan []byte, q.size)
		q.topics[name] = ch
	}
	return ch, nil
}

// Publish 将消息投递到主题，缓冲已满时阻塞。
func (q *MemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	ch, err := q.topic(topic)
	if err != nil {
		return err
	}
	payload := append([]byte(nil), body...)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	case ch <- payload:
		return nil
	}
}

// Consume 逐条把主题中的消息交给 handler。handler 的错误只影响当前消息。
func (q *MemoryQueue) Consume(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.topic(topic)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrClosed
		case body := <-ch:
			_ = handler(ctx, body)
		}
	}
}

// Close 关闭内存队列，正在进行的 Consume 会返回 ErrClosed。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}
