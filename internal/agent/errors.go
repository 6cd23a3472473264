package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	xerrors "VoiceSwap/internal/errors"
	"VoiceSwap/internal/events"
	"VoiceSwap/internal/observability/alerting"
	"VoiceSwap/internal/settlement"
	"VoiceSwap/internal/swap"
	"VoiceSwap/pkg/logger"
)

// handleError 是后端与网络失败的唯一出口：按错误码选择播报内容，
// 清除待确认兑换并进入 error 状态。
func (o *Orchestrator) handleError(t *turn, err error) {
	code := xerrors.CodeOf(err)
	o.say(t, o.errorMessage(err))

	o.mu.Lock()
	o.pending = nil
	o.state = StateError
	o.mu.Unlock()

	o.logger.Warn("指令执行失败",
		slog.String("action", string(t.intent.Action)),
		slog.String("code", string(code)),
		slog.Any("error", err),
	)
	if o.recorder != nil {
		o.recorder.ObserveError(string(code))
	}
	o.alert(t.ctx, err, map[string]string{"action": string(t.intent.Action)})
}

func (o *Orchestrator) errorMessage(err error) string {
	switch xerrors.CodeOf(err) {
	case swap.CodeInsufficientGasTank:
		remaining, _ := swap.SwapsRemainingOf(err)
		if remaining <= 0 {
			msg := "Your gas tank is empty, so a refill is required before I can swap."
			if o.gasTank != nil {
				msg += " " + o.gasTank.FormatDepositInstructionsForSpeech()
			}
			return msg
		}
		if remaining == 1 {
			return "Your gas tank is low, with 1 swap remaining. Please refill soon."
		}
		return fmt.Sprintf("Your gas tank is low, with %d swaps remaining. Please refill soon.", remaining)
	case swap.CodePaymentRequired:
		req, _ := swap.PaymentRequirementOf(err)
		msg := "The swap service needs a payment"
		if req.Price != "" {
			msg += " of " + req.Price
			if req.Asset != "" {
				msg += " " + req.Asset
			}
			if req.Network != "" {
				msg += " on " + req.Network
			}
		}
		msg += " before it can continue. Refilling your gas tank covers these fees."
		if o.gasTank != nil {
			msg += " " + o.gasTank.FormatDepositInstructionsForSpeech()
		}
		return msg
	default:
		return verbatim(err)
	}
}

func verbatim(err error) string {
	msg := strings.TrimSpace(xerrors.MessageOf(err))
	if msg == "" {
		msg = "something went wrong"
	}
	if !strings.HasSuffix(msg, ".") {
		msg += "."
	}
	r, size := utf8.DecodeRuneInString(msg)
	return string(unicode.ToUpper(r)) + msg[size:]
}

// reportCommandFailure 用于会话与余额管理指令：播报失败原因，但不进入 error 状态。
func (o *Orchestrator) reportCommandFailure(t *turn, command string, err error) {
	o.say(t, verbatim(err))
	o.logger.Warn("管理指令失败",
		slog.String("command", command),
		slog.String("code", string(xerrors.CodeOf(err))),
		slog.Any("error", err),
	)
	o.alert(t.ctx, err, map[string]string{"action": command})
}

func (o *Orchestrator) alert(ctx context.Context, err error, metadata map[string]string) {
	if o.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	if notifyErr := o.alerts.Notify(ctx, alerting.FromError(err, metadata)); notifyErr != nil {
		o.logger.Warn("发送告警失败", slog.Any("error", notifyErr))
	}
}

// announceSettlement 由结算轮询器在终态时回调，与当前对话状态无关。
func (o *Orchestrator) announceSettlement(ctx context.Context, outcome settlement.Outcome) {
	o.mu.Lock()
	quote := o.submitted[outcome.TxHash]
	delete(o.submitted, outcome.TxHash)
	o.mu.Unlock()

	o.publisher.Publish(ctx, events.SwapSettled, map[string]any{
		"txHash":      outcome.TxHash,
		"status":      outcome.Status,
		"blockNumber": outcome.BlockNumber,
	})
	if o.channel == nil {
		return
	}
	if err := o.channel.Speak(ctx, settledMessage(outcome.Status, quote), true); err != nil {
		o.logger.Warn("播报结算结果失败", slog.String("tx_hash", outcome.TxHash), slog.Any("error", err))
	}
}

// forgetSubmission 在轮询停止后丢弃为播报保留的报价，包括次数用尽和取消的情况。
func (o *Orchestrator) forgetSubmission(txHash string) {
	o.mu.Lock()
	delete(o.submitted, txHash)
	o.mu.Unlock()
}

func logAuditSwap(pending *PendingSwap, txHash string, delegated bool) {
	path := pathManual
	if delegated {
		path = pathDelegated
	}
	logger.Audit().Info("swap executed",
		slog.String("tx_hash", txHash),
		slog.String("path", path),
		slog.String("token_in", pending.Intent.TokenIn),
		slog.String("token_out", pending.Intent.TokenOut),
		slog.String("amount_in", pending.Intent.AmountIn),
		slog.String("estimated_usd", pending.EstimatedUSD.String()),
	)
}
