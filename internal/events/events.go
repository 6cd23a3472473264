// Package events publishes swap and session lifecycle events as JSON onto a
// queue topic so companion apps can follow what the assistant is doing.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"VoiceSwap/internal/queue"
	"VoiceSwap/pkg/logger"
)

// Type 是事件类型。
type Type string

const (
	SwapQuoted     Type = "swap.quoted"
	SwapSubmitted  Type = "swap.submitted"
	SwapSettled    Type = "swap.settled"
	SessionCreated Type = "session.created"
	SessionRevoked Type = "session.revoked"
)

// Event 是投递到队列中的消息体。
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Publisher 负责序列化并投递事件。nil Publisher 的 Publish 为空操作。
type Publisher struct {
	producer queue.Producer
	topic    string
	now      func() time.Time
	logger   *slog.Logger
}

// NewPublisher 创建事件发布器。producer 为 nil 时返回 nil。
func NewPublisher(producer queue.Producer, topic string) *Publisher {
	if producer == nil {
		return nil
	}
	if topic == "" {
		topic = "voiceswap.events"
	}
	return &Publisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
		logger:   logger.Named("events"),
	}
}

// Topic 返回事件投递的主题。
func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish 投递一个事件。投递失败只记录日志，不影响对话流程。
func (p *Publisher) Publish(ctx context.Context, eventType Type, data any) {
	if p == nil {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: p.now().UTC(),
		Data:      data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("序列化事件失败", slog.String("type", string(eventType)), slog.Any("error", err))
		return
	}
	if err := p.producer.Publish(ctx, p.topic, body); err != nil {
		p.logger.Warn("发布事件失败", slog.String("type", string(eventType)), slog.Any("error", err))
		return
	}
	p.logger.Debug("事件已发布", slog.String("type", string(eventType)), slog.String("id", event.ID))
}

// Decode 解析队列中的事件消息。
func Decode(body []byte) (Event, error) {
	var event Event
	err := json.Unmarshal(body, &event)
	return event, err
}
