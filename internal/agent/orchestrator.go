package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/events"
	"VoiceSwap/internal/gastank"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/intent"
	"VoiceSwap/internal/observability/alerting"
	"VoiceSwap/internal/pricing"
	"VoiceSwap/internal/session"
	"VoiceSwap/internal/settlement"
	"VoiceSwap/internal/swap"
	"VoiceSwap/internal/voice"
	"VoiceSwap/pkg/logger"
)

// IntentParser 把转写文本解析为结构化指令。
type IntentParser interface {
	ParseAsync(ctx context.Context, text string) (intent.SwapIntent, error)
	Validate(i intent.SwapIntent) intent.Validation
}

// GasBudget 是预付执行费用余额的能力集合。
type GasBudget interface {
	State(ctx context.Context) (gastank.State, error)
	RecordSwap(ctx context.Context, txHash string) (gastank.State, error)
	FormatBalanceForSpeech(ctx context.Context) (string, error)
	FormatDepositInstructionsForSpeech() string
	DepositInfo() gastank.DepositInfo
}

// Recorder 接收对话指标，可为空。
type Recorder interface {
	ObserveTurn(action, state string, duration time.Duration)
	ObserveIntent(action, parsedBy string)
	ObserveSwap(path, outcome string)
	ObserveError(code string)
}

// Orchestrator 是对话状态机。所有依赖通过构造参数注入，不使用全局状态。
type Orchestrator struct {
	parser     IntentParser
	swaps      swap.Client
	authorizer session.Authorizer
	store      history.Store

	channel   voice.Channel
	gasTank   GasBudget
	estimator pricing.Estimator
	cache     *session.Cache
	publisher *events.Publisher
	alerts    alerting.Dispatcher
	recorder  Recorder
	slippage  float64
	now       func() time.Time
	logger    *slog.Logger

	statusSource settlement.StatusSource
	pollerOpts   []settlement.Option
	poller       *settlement.Poller

	// turnMu 保证一条转写处理完毕后才处理下一条。
	turnMu sync.Mutex

	mu         sync.RWMutex
	state      State
	listening  bool
	wallet     string
	pending    *PendingSwap
	lastIntent *intent.SwapIntent
	lastQuote  *swap.Quote
	submitted  map[string]*swap.Quote
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithChannel 设置语音通道。为空时回复只出现在 TurnResult 中。
func WithChannel(ch voice.Channel) Option {
	return func(o *Orchestrator) {
		o.channel = ch
	}
}

// WithGasBudget 设置预付余额跟踪器。
func WithGasBudget(g GasBudget) Option {
	return func(o *Orchestrator) {
		o.gasTank = g
	}
}

// WithEstimator 替换美元估值方式。
func WithEstimator(e pricing.Estimator) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.estimator = e
		}
	}
}

// WithSessionCache 设置会话信息缓存，消费后会主动刷新。
func WithSessionCache(c *session.Cache) Option {
	return func(o *Orchestrator) {
		o.cache = c
	}
}

// WithPublisher 设置业务事件发布器。
func WithPublisher(p *events.Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// WithAlerts 设置告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(o *Orchestrator) {
		o.alerts = d
	}
}

// WithRecorder 设置指标记录器。若同时实现 settlement.Recorder，也会传给轮询器。
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithSlippageTolerance 设置执行时的滑点容忍度。
func WithSlippageTolerance(tolerance float64) Option {
	return func(o *Orchestrator) {
		if tolerance > 0 {
			o.slippage = tolerance
		}
	}
}

// WithSettlement 替换结算状态来源并追加轮询配置。source 为空时使用兑换后端。
func WithSettlement(source settlement.StatusSource, opts ...settlement.Option) Option {
	return func(o *Orchestrator) {
		o.statusSource = source
		o.pollerOpts = append(o.pollerOpts, opts...)
	}
}

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New 创建对话编排器。
func New(parser IntentParser, swaps swap.Client, authorizer session.Authorizer, store history.Store, opts ...Option) (*Orchestrator, error) {
	// 验证必需的依赖。
	if parser == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置指令解析器")
	}
	if swaps == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置兑换服务客户端")
	}
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置历史存储")
	}

	o := &Orchestrator{
		parser:     parser,
		swaps:      swaps,
		authorizer: authorizer,
		store:      store,
		estimator:  pricing.NewStaticEstimator(nil),
		slippage:   0.005,
		now:        time.Now,
		logger:     logger.Named("agent"),
		state:      StateIdle,
		submitted:  make(map[string]*swap.Quote),
	}
	// 应用可选配置。
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	// 结算轮询器由编排器持有，回调中播报结果。
	source := o.statusSource
	if source == nil {
		source = settlement.NewBackendSource(swaps)
	}
	pollerOpts := []settlement.Option{
		settlement.WithOnSettled(o.announceSettlement),
		settlement.WithOnReleased(o.forgetSubmission),
	}
	if rec, ok := o.recorder.(settlement.Recorder); ok {
		pollerOpts = append(pollerOpts, settlement.WithRecorder(rec))
	}
	pollerOpts = append(pollerOpts, o.pollerOpts...)
	o.poller = settlement.NewPoller(source, store, pollerOpts...)
	return o, nil
}

// ConnectWallet 绑定钱包地址，会话委托和执行收款都使用该地址。
func (o *Orchestrator) ConnectWallet(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if o.authorizer != nil {
		if err := o.authorizer.Initialize(ctx, address); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.wallet = address
	o.mu.Unlock()
	o.refreshSession()
	return nil
}

// State 返回当前状态。
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Snapshot 返回当前状态的副本。
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	snap := Snapshot{State: o.state, Wallet: o.wallet}
	if o.pending != nil {
		copied := *o.pending
		snap.Pending = &copied
	}
	if o.lastIntent != nil {
		copied := *o.lastIntent
		snap.LastIntent = &copied
	}
	snap.LastQuote = o.lastQuote
	o.mu.RUnlock()
	snap.Tracking = o.poller.Active()
	return snap
}

// History 返回注入的历史存储。
func (o *Orchestrator) History() history.Store {
	return o.store
}

// SessionInfo 返回会话投影，优先读取缓存。
func (o *Orchestrator) SessionInfo() session.Info {
	if o.cache != nil {
		return o.cache.Get()
	}
	if o.authorizer != nil {
		return o.authorizer.Info()
	}
	return session.Info{}
}

// SessionRefreshedAt 返回会话缓存最近一次刷新时间，未配置缓存时为零值。
func (o *Orchestrator) SessionRefreshedAt() time.Time {
	if o.cache == nil {
		return time.Time{}
	}
	return o.cache.RefreshedAt()
}

// GasBudget 返回余额跟踪器，可能为空。
func (o *Orchestrator) GasBudget() GasBudget {
	return o.gasTank
}

// Reset 清空对话本地状态。已发出的请求与结算轮询不受影响。
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.pending = nil
	o.lastIntent = nil
	o.lastQuote = nil
	o.state = o.restLocked()
	o.mu.Unlock()
	o.logger.Info("对话状态已重置")
}

// StartListening 打开语音通道。已在监听时直接返回 nil channel 与 nil 错误。
func (o *Orchestrator) StartListening(ctx context.Context) (<-chan voice.Event, error) {
	if o.channel == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置语音通道")
	}
	o.mu.Lock()
	if o.state == StateListening {
		o.mu.Unlock()
		return nil, nil
	}
	o.mu.Unlock()

	events, err := o.channel.StartListening(ctx)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.listening = true
	if o.state == StateIdle {
		o.state = StateListening
	}
	o.mu.Unlock()
	return events, nil
}

// StopListening 关闭语音通道。
func (o *Orchestrator) StopListening() {
	if o.channel == nil {
		return
	}
	o.channel.StopListening()
	o.mu.Lock()
	o.listening = false
	if o.state == StateListening {
		o.state = StateIdle
	}
	o.mu.Unlock()
}

// Run 是语音事件的唯一消费者，逐条处理最终转写，直到通道关闭或 ctx 结束。
func (o *Orchestrator) Run(ctx context.Context) error {
	events, err := o.StartListening(ctx)
	if err != nil {
		return err
	}
	if events == nil {
		return xerrors.New(xerrors.CodeConflict, "语音通道已在监听")
	}
	defer o.StopListening()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				o.logger.Info("语音通道已关闭")
				return nil
			}
			if ev.Err != nil {
				o.logger.Warn("语音识别出错", slog.Any("error", ev.Err))
				continue
			}
			if !ev.Final {
				continue
			}
			if _, err := o.HandleTranscript(ctx, ev.Text); err != nil && !errors.Is(err, context.Canceled) {
				o.logger.Error("处理转写失败", slog.Any("error", err))
			}
		}
	}
}

// Close 停止全部结算轮询。
func (o *Orchestrator) Close() {
	o.poller.Close()
}

// turn 是一次转写处理的上下文。
type turn struct {
	ctx     context.Context
	intent  intent.SwapIntent
	replies []string
}

// HandleTranscript 处理一条最终转写并返回本轮的播报内容。多次调用会串行执行。
func (o *Orchestrator) HandleTranscript(ctx context.Context, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{State: o.State()}, xerrors.New(xerrors.CodeInvalidArgument, "转写内容为空")
	}

	o.turnMu.Lock()
	defer o.turnMu.Unlock()
	start := time.Now()

	// complete 与 error 在下一次输入时回到空闲。
	o.mu.Lock()
	if o.state == StateComplete || o.state == StateError {
		o.state = o.restLocked()
	}
	prev := o.state
	o.mu.Unlock()

	// 解析指令。
	parsed, err := o.parser.ParseAsync(ctx, text)
	if err != nil {
		return TurnResult{State: o.State()}, err
	}
	t := &turn{ctx: ctx, intent: parsed}
	o.logger.Debug("指令解析完成",
		slog.String("action", string(parsed.Action)),
		slog.String("parsed_by", string(parsed.ParsedBy)),
	)
	if o.recorder != nil {
		o.recorder.ObserveIntent(string(parsed.Action), string(parsed.ParsedBy))
	}

	o.dispatch(t, prev)

	state := o.State()
	if o.recorder != nil {
		o.recorder.ObserveTurn(string(parsed.Action), string(state), time.Since(start))
	}
	return TurnResult{Intent: parsed, State: state, Replies: t.replies}, nil
}

func (o *Orchestrator) dispatch(t *turn, prev State) {
	switch t.intent.Action {
	case intent.ActionSwap:
		o.handleSwap(t)
	case intent.ActionQuote:
		o.handleQuote(t)
	case intent.ActionConfirm:
		o.handleConfirm(t, prev)
	case intent.ActionCancel:
		o.handleCancel(t)
	case intent.ActionStatus:
		o.handleStatus(t)
	case intent.ActionBalance:
		o.say(t, msgBalance)
		o.settle()
	case intent.ActionHelp:
		o.say(t, msgHelp)
		o.settle()
	case intent.ActionEnableSession:
		o.handleEnableSession(t)
	case intent.ActionDisableSession:
		o.handleDisableSession(t)
	case intent.ActionSessionStatus:
		// 语音查询读取实时投影，缓存只服务于 API。
		info := session.Info{}
		if o.authorizer != nil {
			info = o.authorizer.Info()
		}
		o.say(t, sessionStatusMessage(info))
		o.settle()
	case intent.ActionGasTankStatus:
		o.handleGasTankStatus(t)
	case intent.ActionGasTankRefill:
		o.handleGasTankRefill(t)
	default:
		o.say(t, msgNotUnderstood)
		o.settle()
	}
}

// say 播报并记录到本轮回复。播报失败只记录日志。
func (o *Orchestrator) say(t *turn, text string) {
	t.replies = append(t.replies, text)
	if o.channel == nil {
		return
	}
	if err := o.channel.Speak(t.ctx, text, true); err != nil {
		o.logger.Warn("播报失败", slog.Any("error", err))
	}
}

func (o *Orchestrator) setState(state State) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// settle 让信息类指令回到稳定状态：仍有待确认兑换时为 confirming，否则空闲。
func (o *Orchestrator) settle() {
	o.mu.Lock()
	o.state = o.restLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) restLocked() State {
	switch {
	case o.pending != nil:
		return StateConfirming
	case o.listening:
		return StateListening
	default:
		return StateIdle
	}
}

func (o *Orchestrator) refreshSession() {
	if o.cache != nil {
		o.cache.Refresh()
	}
}

func (o *Orchestrator) walletAddress() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.wallet
}

func (o *Orchestrator) estimateUSD(ctx context.Context, in intent.SwapIntent) (decimal.Decimal, bool) {
	amount, ok := in.Amount()
	if !ok {
		return decimal.Zero, false
	}
	usd, err := o.estimator.EstimateUSD(ctx, in.TokenIn, amount)
	if err != nil {
		o.logger.Warn("估算美元价值失败，改为人工确认", slog.String("token", in.TokenIn), slog.Any("error", err))
		return decimal.Zero, false
	}
	return usd, true
}
