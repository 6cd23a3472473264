package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
)

// ConsoleChannel 以标准输入输出模拟语音通道，每一行输入视为一条最终转写。
type ConsoleChannel struct {
	in     io.Reader
	out    io.Writer
	prompt string

	mu        sync.Mutex
	events    chan Event
	cancel    context.CancelFunc
	scanner   *bufio.Scanner
	outMu     sync.Mutex
	listening bool
}

// NewConsoleChannel 创建控制台通道。
func NewConsoleChannel(in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out, prompt: "> "}
}

// Initialize 实现 Channel。
func (c *ConsoleChannel) Initialize(context.Context) error {
	if c.in == nil || c.out == nil {
		return fmt.Errorf("控制台通道缺少输入或输出")
	}
	c.mu.Lock()
	if c.scanner == nil {
		c.scanner = bufio.NewScanner(c.in)
	}
	c.mu.Unlock()
	c.write("VoiceSwap 已就绪，请输入指令。")
	return nil
}

// StartListening 开始逐行读取输入。已在监听时返回现有的事件 channel。
func (c *ConsoleChannel) StartListening(ctx context.Context) (<-chan Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listening {
		return c.events, nil
	}
	if c.scanner == nil {
		c.scanner = bufio.NewScanner(c.in)
	}
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event)
	c.events = events
	c.cancel = cancel
	c.listening = true
	go c.readLoop(ctx, c.scanner, events)
	return events, nil
}

func (c *ConsoleChannel) readLoop(ctx context.Context, scanner *bufio.Scanner, events chan<- Event) {
	defer close(events)
	defer c.markStopped()
	for {
		c.writePrompt()
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				select {
				case events <- Event{Err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
		text := cleanTranscript(scanner.Text())
		if text == "" {
			continue
		}
		select {
		case events <- Event{Text: text, Final: true}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *ConsoleChannel) markStopped() {
	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()
}

// StopListening 停止监听。阻塞中的读取会在下一行输入到达后退出。
func (c *ConsoleChannel) StopListening() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Speak 把回复写到输出。
func (c *ConsoleChannel) Speak(_ context.Context, text string, _ bool) error {
	c.write(text)
	return nil
}

func (c *ConsoleChannel) write(text string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, "voiceswap: %s\n", text)
}

func (c *ConsoleChannel) writePrompt() {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprint(c.out, c.prompt)
}
