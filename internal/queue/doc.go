// Package queue provides topic-addressed message queues backed by memory,
// Redis lists or RabbitMQ. The voice channel uses it to receive transcripts
// and publish speech, and the events package publishes lifecycle events on it.
package queue
