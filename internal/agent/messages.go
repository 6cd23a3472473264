package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/session"
	"VoiceSwap/internal/swap"
)

const (
	msgNothingToConfirm = "There's nothing to confirm right now."
	msgCancelled        = "Okay, I cancelled that swap."
	msgNothingCancelled = "Okay, cancelled."
	msgNoRecentTx       = "There's no recent transaction to check."
	msgBalance          = "Checking wallet balances isn't available yet. Please use the companion app."
	msgNotUnderstood    = "Sorry, I didn't understand that. Say help to hear what I can do."
	msgNoSession        = "There's no active session to disable."
	msgSessionDisabled  = "Your session is disabled. Every swap will need your confirmation again."
	msgNoGasTank        = "The gas tank isn't configured."
	msgNoWallet         = "connect a wallet before swapping"
	msgHelp             = "You can say things like: swap 100 USDC for ETH, get a quote for 1 ETH to USDC, " +
		"confirm, cancel, what's the status of my swap, enable session, disable session, " +
		"session status, gas tank balance, or how do I refill my gas tank."
)

var fieldNames = map[string]string{
	"tokenIn":  "the token to sell",
	"tokenOut": "the token to buy",
	"amountIn": "the amount",
}

func missingFieldsMessage(missing []string) string {
	parts := make([]string, 0, len(missing))
	for _, field := range missing {
		name, ok := fieldNames[field]
		if !ok {
			name = field
		}
		parts = append(parts, name)
	}
	return "I need more info: " + joinWords(parts) + "."
}

func joinWords(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

func formatAmount(d decimal.Decimal) string {
	if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return d.Round(4).String()
	}
	return d.Round(8).String()
}

func quoteSummary(q *swap.Quote) string {
	return fmt.Sprintf("%s %s gets you about %s %s",
		formatAmount(q.TokenIn.Amount), q.TokenIn.Symbol,
		formatAmount(q.TokenOut.Amount), q.TokenOut.Symbol)
}

func quoteMessage(q *swap.Quote) string {
	var b strings.Builder
	b.WriteString(quoteSummary(q))
	if q.GasFeeUSD.IsPositive() {
		fmt.Fprintf(&b, ", with about %s dollars in network fees", q.GasFeeUSD.StringFixed(2))
	}
	b.WriteString(".")
	return b.String()
}

func confirmPrompt(q *swap.Quote) string {
	return quoteMessage(q) + " Say confirm to proceed or cancel to stop."
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "now"
	}
	d = d.Round(time.Minute)
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	switch {
	case hours == 0 && minutes <= 1:
		return "about a minute"
	case hours == 0:
		return fmt.Sprintf("%d minutes", minutes)
	case minutes == 0 && hours == 1:
		return "1 hour"
	case minutes == 0:
		return fmt.Sprintf("%d hours", hours)
	case hours == 1:
		return fmt.Sprintf("1 hour %d minutes", minutes)
	default:
		return fmt.Sprintf("%d hours %d minutes", hours, minutes)
	}
}

func sessionStatusMessage(info session.Info) string {
	if !info.Active {
		return "You don't have an active session. Every swap needs your confirmation."
	}
	if info.Remaining == nil {
		return fmt.Sprintf("Your session is active and expires in %s.", formatDuration(info.ExpiresIn))
	}
	return fmt.Sprintf("Your session is active with %s dollars left, up to %s dollars per swap, expiring in %s.",
		info.Remaining.Total.StringFixed(2), info.Remaining.PerTx.StringFixed(2), formatDuration(info.ExpiresIn))
}

func sessionCreatedMessage(s *session.Session) string {
	return fmt.Sprintf("Session enabled. I can swap up to %s dollars per swap and %s dollars in total without asking, for the next %s.",
		s.PerTxLimitUSD.StringFixed(2), s.TotalLimitUSD.StringFixed(2), formatDuration(s.ExpiresAt.Sub(s.CreatedAt)))
}

func submittedMessage(q *swap.Quote, delegated bool) string {
	prefix := "Swap submitted."
	if delegated {
		prefix = "Swap submitted using your session."
	}
	return fmt.Sprintf("%s %s %s for %s. I'll let you know when it settles.",
		prefix, formatAmount(q.TokenIn.Amount), q.TokenIn.Symbol, q.TokenOut.Symbol)
}

func txStatusMessage(status swap.TxStatus) string {
	switch status {
	case swap.TxConfirmed:
		return "Your last swap is confirmed."
	case swap.TxFailed:
		return "Your last swap failed on chain."
	default:
		return "Your last swap is still pending."
	}
}

func settledMessage(status swap.TxStatus, q *swap.Quote) string {
	subject := "Your swap"
	if q != nil {
		subject = fmt.Sprintf("Your swap of %s %s for %s", formatAmount(q.TokenIn.Amount), q.TokenIn.Symbol, q.TokenOut.Symbol)
	}
	if status == swap.TxConfirmed {
		return subject + " is confirmed."
	}
	return subject + " failed on chain."
}
