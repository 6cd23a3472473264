package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"VoiceSwap/internal/llm"
	"VoiceSwap/internal/tokens"
	"VoiceSwap/pkg/logger"
)

// Parser 先用启发式规则解析，无法识别时再交给语义解析兜底。
type Parser struct {
	catalog   *tokens.Catalog
	heuristic heuristicParser
	semantic  llm.Client
	timeout   time.Duration
	logger    *slog.Logger
}

// Option 定义 Parser 的可选配置。
type Option func(*Parser)

// WithSemanticClient 设置语义兜底所用的大模型客户端。
func WithSemanticClient(client llm.Client) Option {
	return func(p *Parser) {
		p.semantic = client
	}
}

// WithSemanticTimeout 限制单次语义解析的耗时。
func WithSemanticTimeout(timeout time.Duration) Option {
	return func(p *Parser) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewParser 创建解析器。catalog 为空时使用内置代币目录。
func NewParser(catalog *tokens.Catalog, opts ...Option) *Parser {
	if catalog == nil {
		catalog = tokens.Default()
	}
	p := &Parser{
		catalog:   catalog,
		heuristic: heuristicParser{catalog: catalog},
		timeout:   10 * time.Second,
		logger:    logger.Named("intent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Parse 只运行启发式解析，不会阻塞。
func (p *Parser) Parse(text string) SwapIntent {
	return p.heuristic.parse(text)
}

// ParseAsync 解析一条转写文本。启发式结果为 unknown 且配置了语义客户端时
// 尝试语义解析；语义解析失败时返回启发式结果，不向上报错。
func (p *Parser) ParseAsync(ctx context.Context, text string) (SwapIntent, error) {
	result := p.heuristic.parse(text)
	if result.Action != ActionUnknown || p.semantic == nil || result.ParsedBy == ParsedByNone {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	semanticCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed, err := p.parseSemantic(semanticCtx, text)
	if err != nil {
		p.logger.Warn("语义解析失败，使用启发式结果", "error", err)
		return result, nil
	}
	return parsed, nil
}

// Validate 检查兑换类指令的必填字段。
func (p *Parser) Validate(i SwapIntent) Validation {
	return Validate(i)
}

type semanticPayload struct {
	Action   string `json:"action"`
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	AmountIn any    `json:"amountIn"`
	Session  *struct {
		PerTxUSD        any     `json:"perTxUsd"`
		TotalUSD        any     `json:"totalUsd"`
		DurationMinutes float64 `json:"durationMinutes"`
	} `json:"session"`
}

func (p *Parser) parseSemantic(ctx context.Context, text string) (SwapIntent, error) {
	resp, err := p.semantic.Generate(ctx, llm.Request{
		Utterance: text,
		Symbols:   p.catalog.Symbols(),
		Actions:   knownActions(),
	})
	if err != nil {
		return SwapIntent{}, err
	}

	var payload semanticPayload
	if err := json.Unmarshal([]byte(resp.Content), &payload); err != nil {
		return SwapIntent{}, fmt.Errorf("decode semantic intent: %w", err)
	}

	action := Action(strings.ToLower(strings.TrimSpace(payload.Action)))
	if !action.Known() {
		return SwapIntent{}, fmt.Errorf("semantic parser returned unknown action %q", payload.Action)
	}

	result := SwapIntent{
		Action:   action,
		TokenIn:  p.resolveSymbol(payload.TokenIn),
		TokenOut: p.resolveSymbol(payload.TokenOut),
		ParsedBy: ParsedBySemantic,
		Raw:      text,
	}
	if amount, ok := decimalFrom(payload.AmountIn); ok && amount.IsPositive() {
		result.AmountIn = amount.String()
	}
	if action == ActionEnableSession && payload.Session != nil {
		opts := &SessionOptions{Duration: time.Duration(payload.Session.DurationMinutes * float64(time.Minute))}
		if v, ok := decimalFrom(payload.Session.PerTxUSD); ok {
			opts.PerTxUSD = v
		}
		if v, ok := decimalFrom(payload.Session.TotalUSD); ok {
			opts.TotalUSD = v
		}
		result.Session = opts
	}
	return result, nil
}

func (p *Parser) resolveSymbol(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if symbol, ok := p.catalog.Resolve(raw); ok {
		return symbol
	}
	return strings.ToUpper(raw)
}

func decimalFrom(v any) (decimal.Decimal, bool) {
	switch value := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(value), "$"))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(value), true
	default:
		return decimal.Zero, false
	}
}

func knownActions() []string {
	return []string{
		string(ActionSwap), string(ActionQuote), string(ActionConfirm), string(ActionCancel),
		string(ActionStatus), string(ActionBalance), string(ActionHelp),
		string(ActionEnableSession), string(ActionDisableSession), string(ActionSessionStatus),
		string(ActionGasTankStatus), string(ActionGasTankRefill), string(ActionUnknown),
	}
}
