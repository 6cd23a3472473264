package agent

import (
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/events"
	"VoiceSwap/internal/history"
	"VoiceSwap/internal/session"
	"VoiceSwap/internal/swap"
)

const (
	pathManual    = "manual"
	pathDelegated = "delegated"
)

// validate 检查兑换字段，缺失时播报并回到稳定状态。
func (o *Orchestrator) validate(t *turn) bool {
	v := o.parser.Validate(t.intent)
	if v.Valid {
		return true
	}
	o.say(t, missingFieldsMessage(v.Missing))
	o.settle()
	return false
}

// fetchQuote 进入 processing 并请求报价。
func (o *Orchestrator) fetchQuote(t *turn) (*swap.Quote, bool) {
	o.setState(StateProcessing)
	amount, _ := t.intent.Amount()
	quote, err := o.swaps.GetQuote(t.ctx, swap.QuoteRequest{
		TokenIn:  t.intent.TokenIn,
		TokenOut: t.intent.TokenOut,
		AmountIn: amount,
	})
	if err == nil && quote == nil {
		err = xerrors.New(swap.CodeBackendFailure, "the swap service returned an empty quote")
	}
	if err != nil {
		o.handleError(t, err)
		return nil, false
	}

	o.mu.Lock()
	copied := t.intent
	o.lastIntent = &copied
	o.lastQuote = quote
	o.mu.Unlock()

	o.publisher.Publish(t.ctx, events.SwapQuoted, map[string]any{
		"tokenIn":  quote.TokenIn,
		"tokenOut": quote.TokenOut,
		"quoteId":  quote.QuoteID,
	})
	return quote, true
}

func (o *Orchestrator) handleQuote(t *turn) {
	if !o.validate(t) {
		return
	}
	quote, ok := o.fetchQuote(t)
	if !ok {
		return
	}
	o.say(t, quoteMessage(quote))
	o.settle()
}

func (o *Orchestrator) handleSwap(t *turn) {
	if !o.validate(t) {
		return
	}
	quote, ok := o.fetchQuote(t)
	if !ok {
		return
	}

	// 估算美元价值并询问会话是否覆盖。
	estimated, priced := o.estimateUSD(t.ctx, t.intent)
	decision := session.Decision{}
	if priced && o.authorizer != nil {
		decision = o.authorizer.CanExecute(estimated, session.KindSwap)
	}

	pending := &PendingSwap{
		Intent:       t.intent,
		Quote:        quote,
		EstimatedUSD: estimated,
		CreatedAt:    o.now(),
	}

	if decision.Allowed {
		// 新的兑换取代尚未确认的旧兑换。
		o.mu.Lock()
		o.pending = nil
		o.mu.Unlock()
		o.execute(t, pending, true)
		return
	}

	if decision.Reason != "" {
		o.say(t, "I can't use your session for this swap: "+decision.Reason+".")
	}
	o.mu.Lock()
	o.pending = pending
	o.state = StateConfirming
	o.mu.Unlock()
	o.say(t, confirmPrompt(quote))
}

func (o *Orchestrator) handleConfirm(t *turn, prev State) {
	o.mu.RLock()
	pending := o.pending
	o.mu.RUnlock()

	if prev != StateConfirming || pending == nil {
		o.say(t, msgNothingToConfirm)
		o.settle()
		return
	}
	o.execute(t, pending, false)
}

func (o *Orchestrator) handleCancel(t *turn) {
	o.mu.Lock()
	hadPending := o.pending != nil
	o.pending = nil
	o.lastIntent = nil
	o.lastQuote = nil
	o.state = o.restLocked()
	o.mu.Unlock()

	if hadPending {
		o.say(t, msgCancelled)
		return
	}
	o.say(t, msgNothingCancelled)
}

// execute 是人工确认与会话委托共用的执行路径，二者只在签名来源上不同。
func (o *Orchestrator) execute(t *turn, pending *PendingSwap, delegated bool) {
	o.setState(StateExecuting)

	wallet := o.walletAddress()
	if wallet == "" {
		o.handleError(t, xerrors.New(session.CodeWalletMissing, msgNoWallet))
		return
	}

	amount, _ := pending.Intent.Amount()
	req := swap.ExecuteRequest{
		TokenIn:           pending.Intent.TokenIn,
		TokenOut:          pending.Intent.TokenOut,
		AmountIn:          amount,
		Recipient:         wallet,
		SlippageTolerance: o.slippage,
	}

	path := pathManual
	var signed *session.SignedOperation
	if delegated {
		path = pathDelegated
		var ok bool
		signed, ok = o.signDelegated(t, pending, amount, wallet)
		if !ok {
			return
		}
		req.SessionSignature = signed.Signature
	}

	result, err := o.swaps.ExecuteSwap(t.ctx, req)
	if err == nil && result == nil {
		err = xerrors.New(swap.CodeBackendFailure, "the swap service returned no execution result")
	}
	if err == nil && result.Status == swap.ExecutionFailed {
		message := strings.TrimSpace(result.Error)
		if message == "" {
			message = "the swap could not be executed"
		}
		err = xerrors.New(swap.CodeBackendFailure, message)
	}
	if err != nil {
		if signed != nil {
			// 未提交的委托执行不占用会话额度。
			o.authorizer.ReleaseSpend(signed.UserOp)
			o.refreshSession()
		}
		if o.recorder != nil {
			o.recorder.ObserveSwap(path, "failed")
		}
		o.handleError(t, err)
		return
	}
	if o.recorder != nil {
		o.recorder.ObserveSwap(path, "submitted")
	}

	// 已提交，待确认兑换到此消费完毕。
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()

	o.recordSubmission(t, pending, result.TxHash, delegated)
	o.say(t, submittedMessage(pending.Quote, delegated))
	o.nudgeLowGasTank(t)
	o.setState(StateComplete)
}

func (o *Orchestrator) signDelegated(t *turn, pending *PendingSwap, amount decimal.Decimal, wallet string) (*session.SignedOperation, bool) {
	route, err := o.swaps.GetRoute(t.ctx, swap.RouteRequest{
		TokenIn:           pending.Intent.TokenIn,
		TokenOut:          pending.Intent.TokenOut,
		AmountIn:          amount,
		Recipient:         wallet,
		SlippageTolerance: o.slippage,
	})
	if err == nil && route == nil {
		err = xerrors.New(swap.CodeBackendFailure, "the swap service returned no route")
	}
	if err != nil {
		o.handleError(t, err)
		return nil, false
	}
	signed, err := o.authorizer.SignUserOperation(t.ctx, route.Calldata, pending.EstimatedUSD)
	if err != nil {
		o.handleError(t, err)
		return nil, false
	}
	o.refreshSession()
	return signed, true
}

// recordSubmission 追加历史、扣减执行费用、启动结算轮询并发布事件。
// 这些都是附带动作，失败只记录日志。
func (o *Orchestrator) recordSubmission(t *turn, pending *PendingSwap, txHash string, delegated bool) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		o.logger.Warn("执行已提交但没有交易哈希，跳过历史与轮询")
		return
	}

	o.mu.Lock()
	o.submitted[txHash] = pending.Quote
	o.mu.Unlock()

	if _, err := o.store.Add(t.ctx, history.Entry{
		Intent:       pending.Intent,
		Quote:        pending.Quote,
		TxHash:       txHash,
		Delegated:    delegated,
		EstimatedUSD: pending.EstimatedUSD,
	}); err != nil {
		o.logger.Error("写入兑换历史失败", slog.String("tx_hash", txHash), slog.Any("error", err))
		o.alert(t.ctx, err, map[string]string{"tx_hash": txHash})
	}

	if o.gasTank != nil {
		if _, err := o.gasTank.RecordSwap(t.ctx, txHash); err != nil {
			o.logger.Error("扣减执行费用失败", slog.String("tx_hash", txHash), slog.Any("error", err))
		}
	}

	o.poller.Track(txHash)

	logAuditSwap(pending, txHash, delegated)
	o.publisher.Publish(t.ctx, events.SwapSubmitted, map[string]any{
		"txHash":       txHash,
		"tokenIn":      pending.Intent.TokenIn,
		"tokenOut":     pending.Intent.TokenOut,
		"amountIn":     pending.Intent.AmountIn,
		"delegated":    delegated,
		"estimatedUsd": pending.EstimatedUSD.String(),
	})
}

func (o *Orchestrator) nudgeLowGasTank(t *turn) {
	if o.gasTank == nil {
		return
	}
	state, err := o.gasTank.State(t.ctx)
	if err != nil || !state.IsLow {
		return
	}
	if state.SwapsRemaining == 1 {
		o.say(t, "Heads up: your gas tank has enough for one more swap.")
		return
	}
	o.say(t, "Heads up: your gas tank is running low. "+o.gasTank.FormatDepositInstructionsForSpeech())
}

// handleStatus 尽力查询最近一笔交易的状态。
func (o *Orchestrator) handleStatus(t *turn) {
	defer o.settle()

	latest, found, err := o.store.Latest(t.ctx)
	if err != nil {
		o.logger.Warn("读取最近历史失败", slog.Any("error", err))
		found = false
	}

	hash := ""
	if found {
		hash = latest.TxHash
	}
	result, err := o.swaps.GetStatus(t.ctx, hash)
	switch {
	case err == nil && result != nil:
		if found && result.Status.Terminal() && !latest.Status.Final() {
			if updateErr := o.store.UpdateStatus(t.ctx, latest.TxHash, history.StatusFromTx(result.Status)); updateErr != nil &&
				xerrors.CodeOf(updateErr) != history.CodeAlreadyFinal {
				o.logger.Warn("回写交易状态失败", slog.String("tx_hash", latest.TxHash), slog.Any("error", updateErr))
			}
		}
		o.say(t, txStatusMessage(result.Status))
	case found:
		if err != nil {
			o.logger.Warn("查询交易状态失败，使用历史记录", slog.String("tx_hash", latest.TxHash), slog.Any("error", err))
		}
		o.say(t, historyStatusMessage(latest.Status))
	default:
		if err != nil && xerrors.CodeOf(err) != xerrors.CodeNotFound {
			o.logger.Warn("查询最近交易失败", slog.Any("error", err))
		}
		o.say(t, msgNoRecentTx)
	}
}

func historyStatusMessage(status history.Status) string {
	switch status {
	case history.StatusConfirmed:
		return txStatusMessage(swap.TxConfirmed)
	case history.StatusFailed:
		return txStatusMessage(swap.TxFailed)
	default:
		return txStatusMessage(swap.TxPending)
	}
}
