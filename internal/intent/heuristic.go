package intent

import (
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/tokens"
)

// dollarStable 是口述 "dollars" 时默认使用的稳定币。
const dollarStable = "USDC"

var (
	cancelPhrases = []string{"cancel", "never mind", "nevermind", "abort", "forget it", "don't do it", "do not do it"}
	// declinePhrases 只在句首生效，避免 "no" 出现在普通句子中被误判为取消。
	declinePhrases = []string{"no", "nope", "nah", "no thanks", "no thank you"}
	confirmPhrases = []string{"confirm", "yes", "yeah", "yep", "do it", "go ahead", "approve", "sounds good", "execute it", "send it"}
	helpPhrases    = []string{"help", "what can you do", "what can i say", "how does this work"}
	statusPhrases  = []string{"status", "did it go through", "did my swap go through", "is it done", "transaction", "check my swap", "check on my swap"}
	balancePhrases = []string{"balance", "how much do i have", "my wallet"}
	quotePhrases   = []string{"quote", "price", "would i get", "will i get", "how much is", "how much for", "rate for", "what's the rate"}
	swapVerbs      = []string{"swap", "trade", "exchange", "convert", "buy", "sell", "change"}

	sessionDisable = []string{"disable", "revoke", "end", "stop", "turn off", "cancel", "kill", "close"}
	sessionEnable  = []string{"enable", "start", "create", "turn on", "open", "new", "allow", "activate"}
	refillPhrases  = []string{"refill", "top up", "topup", "deposit", "add funds", "fund", "add money", "recharge"}
	gasTankPhrases = []string{"gas tank", "gastank", "gas balance", "gas budget", "prepaid gas"}
)

type heuristicParser struct {
	catalog *tokens.Catalog
}

// normalize 小写化并把标点替换为空格，保留数字中的小数点与 $ 前缀。
func normalize(text string) []string {
	lowered := strings.ToLower(text)
	runes := []rune(lowered)
	var b strings.Builder
	for idx, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '$' || r == '\'':
			b.WriteRune(r)
		case (r == '.' || r == ',') && idx > 0 && idx+1 < len(runes) &&
			unicode.IsDigit(runes[idx-1]) && unicode.IsDigit(runes[idx+1]):
			b.WriteRune(r)
		case r == '.' && idx+1 < len(runes) && unicode.IsDigit(runes[idx+1]) && (idx == 0 || !unicode.IsLetter(runes[idx-1])):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

func containsPhrase(joined string, phrases []string) bool {
	padded := " " + joined + " "
	for _, phrase := range phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}

func startsWithPhrase(joined string, phrases []string) bool {
	for _, phrase := range phrases {
		if joined == phrase || strings.HasPrefix(joined, phrase+" ") {
			return true
		}
	}
	return false
}

func (p heuristicParser) parse(text string) SwapIntent {
	words := normalize(text)
	joined := strings.Join(words, " ")
	result := SwapIntent{Action: ActionUnknown, ParsedBy: ParsedByHeuristic, Raw: text}
	if len(words) == 0 {
		result.ParsedBy = ParsedByNone
		return result
	}

	switch {
	case containsPhrase(joined, []string{"session", "sessions", "auto approve", "autopilot"}):
		switch {
		case containsPhrase(joined, sessionDisable):
			result.Action = ActionDisableSession
		case containsPhrase(joined, sessionEnable):
			result.Action = ActionEnableSession
			result.Session = parseSessionOptions(words)
		default:
			result.Action = ActionSessionStatus
		}
		return result
	case containsPhrase(joined, gasTankPhrases):
		if containsPhrase(joined, refillPhrases) {
			result.Action = ActionGasTankRefill
		} else {
			result.Action = ActionGasTankStatus
		}
		return result
	case containsPhrase(joined, cancelPhrases),
		startsWithPhrase(joined, declinePhrases) && !containsPhrase(joined, swapVerbs):
		result.Action = ActionCancel
		return result
	case startsWithPhrase(joined, confirmPhrases) && !containsPhrase(joined, swapVerbs):
		result.Action = ActionConfirm
		return result
	case containsPhrase(joined, helpPhrases):
		result.Action = ActionHelp
		return result
	}

	matches := p.catalog.Scan(words)
	isQuote := containsPhrase(joined, quotePhrases)
	isSwap := containsPhrase(joined, swapVerbs)

	switch {
	case containsPhrase(joined, statusPhrases) && len(matches) == 0:
		result.Action = ActionStatus
		return result
	case isQuote:
		result.Action = ActionQuote
	case isSwap:
		result.Action = ActionSwap
	case containsPhrase(joined, balancePhrases):
		result.Action = ActionBalance
		return result
	case len(matches) >= 2:
		result.Action = ActionSwap
	default:
		if containsPhrase(joined, refillPhrases) {
			result.Action = ActionGasTankRefill
		}
		return result
	}

	p.fillSwapFields(&result, words, matches, containsPhrase(joined, []string{"buy"}) && !containsPhrase(joined, []string{"sell"}))
	return result
}

type amountHit struct {
	value  decimal.Decimal
	start  int
	end    int
	dollar bool
}

func findAmount(words []string) (amountHit, bool) {
	for i := 0; i < len(words); i++ {
		value, n := parseNumberAt(words, i)
		if n == 0 {
			continue
		}
		hit := amountHit{value: value, start: i, end: i + n}
		if strings.HasPrefix(words[i], "$") {
			hit.dollar = true
		}
		if hit.end < len(words) {
			switch words[hit.end] {
			case "dollar", "dollars", "bucks", "usd":
				hit.dollar = true
				hit.end++
			}
		}
		return hit, true
	}
	return amountHit{}, false
}

func (p heuristicParser) fillSwapFields(result *SwapIntent, words []string, matches []tokens.Match, buying bool) {
	amount, hasAmount := findAmount(words)
	if hasAmount && amount.value.IsPositive() {
		result.AmountIn = amount.value.String()
	}

	// "usd" 单独出现时 Scan 不会命中，交给 dollar 逻辑处理。
	adjacent := -1
	if hasAmount {
		for idx, m := range matches {
			if m.Start == amount.end || (m.Start == amount.end+1 && words[amount.end] == "of") {
				adjacent = idx
				break
			}
		}
	}

	switch {
	case len(matches) == 0:
		if hasAmount && amount.dollar {
			result.TokenIn = dollarStable
		}
	case len(matches) == 1:
		symbol := matches[0].Symbol
		if buying {
			result.TokenOut = symbol
			if hasAmount && amount.dollar && symbol != dollarStable {
				result.TokenIn = dollarStable
			} else if adjacent == 0 {
				result.AmountIn = ""
			}
			return
		}
		if hasAmount && amount.dollar && adjacent != 0 {
			result.TokenIn = dollarStable
			result.TokenOut = symbol
			return
		}
		result.TokenIn = symbol
	default:
		first, second := matches[0].Symbol, matches[1].Symbol
		switch {
		case buying:
			// "buy ETH with 100 USDC"：第一个代币是买入目标。
			result.TokenOut, result.TokenIn = first, second
			if hasAmount && adjacent == 0 && !amount.dollar {
				result.AmountIn = ""
			}
		case adjacent == 1:
			result.TokenIn, result.TokenOut = second, first
		default:
			result.TokenIn, result.TokenOut = first, second
		}
	}
}

// parseSessionOptions 解析 "50 dollars per swap 200 total for 2 hours" 这类口述额度。
func parseSessionOptions(words []string) *SessionOptions {
	opts := &SessionOptions{}
	found := false
	for i := 0; i < len(words); {
		value, n := parseNumberAt(words, i)
		if n == 0 {
			i++
			continue
		}
		window := strings.Join(words[i+n:min(len(words), i+n+3)], " ")
		next := i + n
		switch {
		case hasAnyPrefix(window, "hour", "hr"):
			opts.Duration = time.Duration(value.Mul(decimal.NewFromInt(int64(time.Hour))).IntPart())
		case hasAnyPrefix(window, "minute", "min"):
			opts.Duration = time.Duration(value.Mul(decimal.NewFromInt(int64(time.Minute))).IntPart())
		case hasAnyPrefix(window, "day"):
			opts.Duration = time.Duration(value.Mul(decimal.NewFromInt(int64(24 * time.Hour))).IntPart())
		case containsPhrase(window, []string{"per", "each", "a swap", "a trade", "max per"}):
			opts.PerTxUSD = value
		case containsPhrase(window, []string{"total", "overall", "in total", "budget", "altogether"}):
			opts.TotalUSD = value
		case opts.PerTxUSD.IsZero():
			opts.PerTxUSD = value
		default:
			opts.TotalUSD = value
		}
		found = true
		i = next
	}
	if !found {
		return nil
	}
	return opts
}

func hasAnyPrefix(window string, prefixes ...string) bool {
	fields := strings.Fields(window)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	if first == "dollar" || first == "dollars" || first == "usd" || first == "bucks" {
		return false
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	return false
}
