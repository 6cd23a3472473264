// Package voice adapts speech input and output. Recognized transcripts are
// delivered as a stream of events and replies are spoken back through the
// same channel. A console implementation is used for local runs and a
// queue-backed implementation talks to the wearable bridge.
package voice
