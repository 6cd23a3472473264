package settlement

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/swap"
	"VoiceSwap/pkg/logger"
)

const (
	// PollInterval 是两次状态查询之间的固定间隔。
	PollInterval = 10 * time.Second
	// MaxAttempts 是单笔交易的最大查询次数，用尽后停止且不改变历史状态。
	MaxAttempts = 30
)

// Outcome 描述一笔交易的轮询结果。
type Outcome struct {
	TxHash      string
	Status      swap.TxStatus
	BlockNumber uint64
	Attempts    int
}

// Recorder 接收轮询指标，可为空。
type Recorder interface {
	ObserveSettlement(status string, attempts int)
}

// Poller 为每个交易哈希启动独立的轮询协程，与对话状态无关。
type Poller struct {
	source      StatusSource
	store       history.Store
	interval    time.Duration
	maxAttempts int
	onSettled   func(context.Context, Outcome)
	onReleased  func(txHash string)
	recorder    Recorder
	logger      *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	active map[string]*tracked
	wg     sync.WaitGroup
	closed bool
}

type tracked struct {
	cancel context.CancelFunc
}

// Option 定义 Poller 的可选配置。
type Option func(*Poller)

// WithInterval 覆盖轮询间隔，主要用于测试。
func WithInterval(interval time.Duration) Option {
	return func(p *Poller) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithMaxAttempts 覆盖最大查询次数。
func WithMaxAttempts(attempts int) Option {
	return func(p *Poller) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// WithOnSettled 注册结算回调。仅在出现终态时调用，次数用尽时不调用。
func WithOnSettled(fn func(context.Context, Outcome)) Option {
	return func(p *Poller) {
		p.onSettled = fn
	}
}

// WithOnReleased 注册停止跟踪回调。终态、次数用尽、取消和关闭都会触发，
// 终态时在 OnSettled 之后调用。
func WithOnReleased(fn func(txHash string)) Option {
	return func(p *Poller) {
		p.onReleased = fn
	}
}

// WithRecorder 配置指标记录器。
func WithRecorder(recorder Recorder) Option {
	return func(p *Poller) {
		p.recorder = recorder
	}
}

// NewPoller 创建轮询器。store 可为空，此时不回写历史。
func NewPoller(source StatusSource, store history.Store, opts ...Option) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		source:      source,
		store:       store,
		interval:    PollInterval,
		maxAttempts: MaxAttempts,
		logger:      logger.Named("settlement"),
		ctx:         ctx,
		cancel:      cancel,
		active:      make(map[string]*tracked),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Track 开始轮询 txHash。同一哈希已在轮询或轮询器已关闭时返回 false。
func (p *Poller) Track(txHash string) bool {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" || p.source == nil {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	if _, exists := p.active[txHash]; exists {
		return false
	}

	ctx, cancel := context.WithCancel(p.ctx)
	entry := &tracked{cancel: cancel}
	p.active[txHash] = entry
	p.wg.Add(1)
	go p.run(ctx, txHash, entry)
	return true
}

// Cancel 停止指定哈希的轮询。
func (p *Poller) Cancel(txHash string) bool {
	p.mu.Lock()
	entry, ok := p.active[txHash]
	if ok {
		delete(p.active, txHash)
	}
	p.mu.Unlock()
	if ok {
		entry.cancel()
	}
	return ok
}

// tracking 判断哈希是否仍在轮询。
func (p *Poller) tracking(txHash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[txHash]
	return ok
}

// Active 返回正在轮询的哈希列表。
func (p *Poller) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.active))
	for hash := range p.active {
		out = append(out, hash)
	}
	sort.Strings(out)
	return out
}

// Close 取消全部轮询并等待协程退出。
func (p *Poller) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, txHash string, entry *tracked) {
	defer p.wg.Done()
	defer p.release(txHash, entry)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			p.logger.Debug("轮询已取消", slog.String("tx_hash", txHash), slog.Int("attempts", attempt-1))
			return
		case <-ticker.C:
		}

		result, err := p.source.Status(ctx, txHash)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("查询交易状态失败",
				slog.String("tx_hash", txHash),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			continue
		}
		if !result.Status.Terminal() {
			continue
		}

		p.settle(ctx, Outcome{
			TxHash:      txHash,
			Status:      result.Status,
			BlockNumber: result.BlockNumber,
			Attempts:    attempt,
		})
		return
	}

	p.logger.Info("达到最大轮询次数，交易仍未确定",
		slog.String("tx_hash", txHash),
		slog.Int("attempts", p.maxAttempts),
	)
	if p.recorder != nil {
		p.recorder.ObserveSettlement("exhausted", p.maxAttempts)
	}
}

func (p *Poller) settle(ctx context.Context, outcome Outcome) {
	if p.store != nil {
		err := p.store.UpdateStatus(ctx, outcome.TxHash, history.StatusFromTx(outcome.Status))
		switch {
		case err == nil:
		case xerrors.CodeOf(err) == history.CodeAlreadyFinal:
			p.logger.Debug("历史记录已是终态", slog.String("tx_hash", outcome.TxHash))
		default:
			p.logger.Error("回写结算状态失败", slog.String("tx_hash", outcome.TxHash), slog.Any("error", err))
		}
	}

	logger.Audit().Info("交易结算",
		slog.String("tx_hash", outcome.TxHash),
		slog.String("status", string(outcome.Status)),
		slog.Uint64("block_number", outcome.BlockNumber),
		slog.Int("attempts", outcome.Attempts),
	)
	if p.recorder != nil {
		p.recorder.ObserveSettlement(string(outcome.Status), outcome.Attempts)
	}
	if p.onSettled != nil {
		p.onSettled(ctx, outcome)
	}
}

// release 只移除自己登记的条目，避免误删同一哈希被重新登记的新轮询。
func (p *Poller) release(txHash string, entry *tracked) {
	p.mu.Lock()
	if current, ok := p.active[txHash]; ok && current == entry {
		delete(p.active, txHash)
	}
	p.mu.Unlock()
	entry.cancel()
	if p.onReleased != nil {
		p.onReleased(txHash)
	}
}
