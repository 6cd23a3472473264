package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VoiceSwap/internal/queue"
)

type captureProducer struct {
	topic  string
	bodies [][]byte
	err    error
}

func (c *captureProducer) Publish(_ context.Context, topic string, body []byte) error {
	if c.err != nil {
		return c.err
	}
	c.topic = topic
	c.bodies = append(c.bodies, body)
	return nil
}

func (c *captureProducer) Close() error { return nil }

func TestPublisherWritesJSONEvent(t *testing.T) {
	producer := &captureProducer{}
	publisher := NewPublisher(producer, "")
	publisher.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	publisher.Publish(context.Background(), SwapSubmitted, map[string]string{"txHash": "0xabc"})

	require.Len(t, producer.bodies, 1)
	assert.Equal(t, "voiceswap.events", producer.topic)

	event, err := Decode(producer.bodies[0])
	require.NoError(t, err)
	assert.Equal(t, SwapSubmitted, event.Type)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, 2026, event.Timestamp.Year())
	assert.Equal(t, map[string]any{"txHash": "0xabc"}, event.Data)
}

func TestPublisherSwallowsFailures(t *testing.T) {
	producer := &captureProducer{err: errors.New("broker down")}
	publisher := NewPublisher(producer, "custom")
	assert.Equal(t, "custom", publisher.Topic())
	assert.NotPanics(t, func() {
		publisher.Publish(context.Background(), SessionCreated, nil)
	})
}

func TestNilPublisherIsNoop(t *testing.T) {
	var publisher *Publisher
	assert.Nil(t, NewPublisher(nil, "x"))
	assert.NotPanics(t, func() { publisher.Publish(context.Background(), SwapQuoted, nil) })
	assert.Empty(t, publisher.Topic())
}

func TestPublisherOverMemoryQueue(t *testing.T) {
	q := queue.NewMemoryQueue(4)
	defer q.Close()
	publisher := NewPublisher(q, "events")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	publisher.Publish(ctx, SwapSettled, map[string]string{"status": "confirmed"})

	got := make(chan Event, 1)
	go func() {
		_ = q.Consume(ctx, "events", func(_ context.Context, body []byte) error {
			event, err := Decode(body)
			if err == nil {
				got <- event
			}
			return err
		})
	}()

	select {
	case event := <-got:
		assert.Equal(t, SwapSettled, event.Type)
	case <-ctx.Done():
		t.Fatal("event not consumed")
	}
}
