package agent

import (
	"log/slog"

	"VoiceSwap/internal/events"
	"VoiceSwap/internal/session"
)

// handleEnableSession 已有有效会话时只播报额度，否则按默认值或口述参数创建。
func (o *Orchestrator) handleEnableSession(t *turn) {
	defer o.settle()
	if o.authorizer == nil {
		o.say(t, "Sessions aren't available.")
		return
	}

	if o.authorizer.HasValidSession() {
		o.say(t, "You already have a session. "+sessionStatusMessage(o.authorizer.Info()))
		return
	}

	var opts *session.Options
	if spoken := t.intent.Session; spoken != nil {
		opts = &session.Options{
			PerTxLimitUSD: spoken.PerTxUSD,
			TotalLimitUSD: spoken.TotalUSD,
			Duration:      spoken.Duration,
		}
	}

	// 创建过程会等待在场校验完成。
	created, err := o.authorizer.CreateSession(t.ctx, opts)
	if err != nil {
		o.reportCommandFailure(t, "enable_session", err)
		return
	}
	o.refreshSession()
	o.publisher.Publish(t.ctx, events.SessionCreated, map[string]any{
		"sessionId":  created.ID,
		"perTxUsd":   created.PerTxLimitUSD.String(),
		"totalUsd":   created.TotalLimitUSD.String(),
		"expiresAt":  created.ExpiresAt,
		"sessionKey": created.SessionKey,
	})
	o.say(t, sessionCreatedMessage(created))
}

func (o *Orchestrator) handleDisableSession(t *turn) {
	defer o.settle()
	if o.authorizer == nil {
		o.say(t, msgNoSession)
		return
	}
	revoked, err := o.authorizer.RevokeSession(t.ctx)
	if err != nil {
		o.reportCommandFailure(t, "disable_session", err)
		return
	}
	if !revoked {
		o.say(t, msgNoSession)
		return
	}
	o.refreshSession()
	o.publisher.Publish(t.ctx, events.SessionRevoked, nil)
	o.say(t, msgSessionDisabled)
}

func (o *Orchestrator) handleGasTankStatus(t *turn) {
	defer o.settle()
	if o.gasTank == nil {
		o.say(t, msgNoGasTank)
		return
	}
	text, err := o.gasTank.FormatBalanceForSpeech(t.ctx)
	if err != nil {
		o.reportCommandFailure(t, "gas_tank_status", err)
		return
	}
	o.say(t, text)
}

func (o *Orchestrator) handleGasTankRefill(t *turn) {
	defer o.settle()
	if o.gasTank == nil {
		o.say(t, msgNoGasTank)
		return
	}
	o.say(t, o.gasTank.FormatDepositInstructionsForSpeech())
	if text, err := o.gasTank.FormatBalanceForSpeech(t.ctx); err == nil {
		o.say(t, text)
	} else {
		o.logger.Warn("读取余额失败", slog.Any("error", err))
	}
}
