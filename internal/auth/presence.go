package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"VoiceSwap/internal/config"
	"VoiceSwap/internal/session"
	"VoiceSwap/pkg/logger"
)

// Presence modes.
const (
	PresenceNone       = "none"
	PresencePassphrase = "passphrase"
)

var (
	// ErrPresenceDenied 表示口令不匹配。
	ErrPresenceDenied = errors.New("presence check failed")
	// ErrNoTerminal 表示当前进程没有可用于输入口令的终端。
	ErrNoTerminal = errors.New("no terminal available for presence prompt")
)

// Prompter 向用户索取一段不回显的输入。
type Prompter interface {
	Prompt(ctx context.Context, label string) (string, error)
}

// PromptFunc 让普通函数满足 Prompter。
type PromptFunc func(ctx context.Context, label string) (string, error)

// Prompt 实现 Prompter。
func (f PromptFunc) Prompt(ctx context.Context, label string) (string, error) {
	return f(ctx, label)
}

// NoopVerifier 不做任何校验。
type NoopVerifier struct{}

// VerifyPresence 总是通过。
func (NoopVerifier) VerifyPresence(context.Context) error { return nil }

// PassphraseVerifier 通过口令确认用户在场。
type PassphraseVerifier struct {
	hash     string
	prompter Prompter
}

// NewPassphraseVerifier 使用 HashPassphrase 生成的摘要构造校验器。
func NewPassphraseVerifier(hash string, prompter Prompter) (*PassphraseVerifier, error) {
	if strings.TrimSpace(hash) == "" {
		return nil, errors.New("passphrase hash must be configured")
	}
	if prompter == nil {
		return nil, errors.New("passphrase verifier requires a prompter")
	}
	return &PassphraseVerifier{hash: hash, prompter: prompter}, nil
}

// VerifyPresence 提示输入口令并校验，结果写入审计日志。
func (v *PassphraseVerifier) VerifyPresence(ctx context.Context) error {
	input, err := v.prompter.Prompt(ctx, "请输入口令以确认本人操作: ")
	if err != nil {
		logger.Audit().Warn("presence_check", slog.String("result", "prompt_error"), slog.Any("error", err))
		return fmt.Errorf("read passphrase: %w", err)
	}
	if !VerifyPassphrase(v.hash, strings.TrimSpace(input)) {
		logger.Audit().Warn("presence_check", slog.String("result", "denied"))
		return ErrPresenceDenied
	}
	logger.Audit().Info("presence_check", slog.String("result", "ok"))
	return nil
}

// TerminalPrompter 通过控制终端读取口令，输入不回显。
type TerminalPrompter struct {
	Path string
	Out  io.Writer
}

// Prompt 实现 Prompter。ctx 取消时读取不会中断，但结果会被丢弃。
func (p TerminalPrompter) Prompt(ctx context.Context, label string) (string, error) {
	path := p.Path
	if path == "" {
		path = "/dev/tty"
	}
	tty, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return "", ErrNoTerminal
	}
	defer tty.Close()

	fd := int(tty.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	out := p.Out
	if out == nil {
		out = tty
	}
	fmt.Fprint(out, label)

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		value, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		done <- result{value: string(value), err: err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

// NewPresenceVerifier 根据配置构造在场校验器。
func NewPresenceVerifier(cfg config.PresenceConfig, prompter Prompter) (session.PresenceVerifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", PresenceNone:
		return NoopVerifier{}, nil
	case PresencePassphrase:
		if prompter == nil {
			prompter = TerminalPrompter{}
		}
		verifier, err := NewPassphraseVerifier(cfg.PassphraseHash, prompter)
		if err != nil {
			return nil, err
		}
		return verifier, nil
	default:
		return nil, fmt.Errorf("unsupported presence mode %q", cfg.Mode)
	}
}
