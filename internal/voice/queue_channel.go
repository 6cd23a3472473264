package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"VoiceSwap/internal/queue"
	"VoiceSwap/pkg/logger"
)

// TranscriptMessage 是穿戴设备桥接程序投递的转写消息。
type TranscriptMessage struct {
	Text  string `json:"text"`
	Final *bool  `json:"final,omitempty"`
}

// SpeechMessage 是回传给设备的播报消息。
type SpeechMessage struct {
	Text          string    `json:"text"`
	Interruptible bool      `json:"interruptible"`
	Timestamp     time.Time `json:"timestamp"`
}

// QueueChannel 通过消息队列收发语音：转写从一个主题读取，播报写入另一个主题。
type QueueChannel struct {
	queue           queue.Queue
	transcriptTopic string
	speechTopic     string
	logger          *slog.Logger

	mu        sync.Mutex
	events    chan Event
	cancel    context.CancelFunc
	listening bool
}

// NewQueueChannel 创建基于队列的语音通道。
func NewQueueChannel(q queue.Queue, transcriptTopic, speechTopic string) *QueueChannel {
	return &QueueChannel{
		queue:           q,
		transcriptTopic: transcriptTopic,
		speechTopic:     speechTopic,
		logger:          logger.Named("voice"),
	}
}

// Initialize 实现 Channel。
func (c *QueueChannel) Initialize(context.Context) error {
	if c.queue == nil {
		return errors.New("语音队列未配置")
	}
	if strings.TrimSpace(c.transcriptTopic) == "" || strings.TrimSpace(c.speechTopic) == "" {
		return errors.New("语音队列主题不能为空")
	}
	return nil
}

// StartListening 订阅转写主题。已在监听时返回现有的事件 channel。
func (c *QueueChannel) StartListening(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening {
		return c.events, nil
	}
	if c.queue == nil {
		return nil, errors.New("语音队列未配置")
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event)
	c.events = events
	c.cancel = cancel
	c.listening = true

	go func() {
		defer close(events)
		defer func() {
			c.mu.Lock()
			c.listening = false
			c.mu.Unlock()
		}()
		err := c.queue.Consume(ctx, c.transcriptTopic, func(ctx context.Context, body []byte) error {
			event, ok := decodeTranscript(body)
			if !ok {
				c.logger.Warn("忽略无法解析的转写消息", slog.Int("bytes", len(body)))
				return nil
			}
			select {
			case events <- event:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Error("转写队列消费中断", slog.Any("error", err))
			select {
			case events <- Event{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return events, nil
}

// decodeTranscript 接受 JSON 消息或纯文本，纯文本视为最终结果。
func decodeTranscript(body []byte) (Event, bool) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return Event{}, false
	}
	if strings.HasPrefix(trimmed, "{") {
		var msg TranscriptMessage
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return Event{}, false
		}
		final := true
		if msg.Final != nil {
			final = *msg.Final
		}
		text := cleanTranscript(msg.Text)
		if text == "" {
			return Event{}, false
		}
		return Event{Text: text, Final: final}, true
	}
	return Event{Text: cleanTranscript(trimmed), Final: true}, true
}

// StopListening 取消订阅。
func (c *QueueChannel) StopListening() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speak 把播报内容投递到播报主题。
func (c *QueueChannel) Speak(ctx context.Context, text string, interruptible bool) error {
	body, err := json.Marshal(SpeechMessage{Text: text, Interruptible: interruptible, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.queue.Publish(ctx, c.speechTopic, body)
}
