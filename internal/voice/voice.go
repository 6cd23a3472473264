package voice

import (
	"context"
	"strings"
)

// Event 是语音识别产生的一条转写结果。只有 Final 为 true 的结果会被处理。
type Event struct {
	Text  string
	Final bool
	Err   error
}

// Channel 抽象了语音输入输出。StartListening 返回的 channel 在停止监听或输入结束后关闭。
type Channel interface {
	Initialize(ctx context.Context) error
	StartListening(ctx context.Context) (<-chan Event, error)
	StopListening()
	Speak(ctx context.Context, text string, interruptible bool) error
}

func cleanTranscript(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
