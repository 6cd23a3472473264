package tokens

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Token 描述目录中的一个可兑换资产。
type Token struct {
	Symbol   string   `json:"symbol"`
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases"`
	Decimals int      `json:"decimals"`
	Stable   bool     `json:"stable"`
}

// Catalog 提供符号与口语别名到标准符号的映射。
type Catalog struct {
	items    []Token
	bySymbol map[string]Token
	phrases  map[string]string
	maxWords int
}

// NewCatalog 根据给定条目构建目录。符号统一转为大写。
func NewCatalog(items []Token) *Catalog {
	c := &Catalog{
		bySymbol: make(map[string]Token, len(items)),
		phrases:  make(map[string]string),
		maxWords: 1,
	}
	for _, item := range items {
		symbol := strings.ToUpper(strings.TrimSpace(item.Symbol))
		if symbol == "" {
			continue
		}
		item.Symbol = symbol
		c.items = append(c.items, item)
		c.bySymbol[symbol] = item
		c.addPhrase(symbol, symbol)
		if item.Name != "" {
			c.addPhrase(item.Name, symbol)
		}
		for _, alias := range item.Aliases {
			c.addPhrase(alias, symbol)
		}
	}
	return c
}

func (c *Catalog) addPhrase(phrase, symbol string) {
	words := strings.Fields(strings.ToLower(phrase))
	if len(words) == 0 {
		return
	}
	key := strings.Join(words, " ")
	if _, exists := c.phrases[key]; exists {
		return
	}
	c.phrases[key] = symbol
	if len(words) > c.maxWords {
		c.maxWords = len(words)
	}
}

// Load 从 JSON 文件加载代币目录。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("代币目录路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析代币目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取代币目录失败: %w", err)
	}
	defer file.Close()

	var entries []Token
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析代币目录失败: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("代币目录为空: %s", path)
	}
	return NewCatalog(entries), nil
}

// Default 返回内置的常用代币目录。
func Default() *Catalog {
	return NewCatalog([]Token{
		{Symbol: "ETH", Name: "Ether", Aliases: []string{"ethereum", "eth", "eath", "e t h"}, Decimals: 18},
		{Symbol: "WETH", Name: "Wrapped Ether", Aliases: []string{"wrapped eth", "wrapped ethereum"}, Decimals: 18},
		{Symbol: "USDC", Name: "USD Coin", Aliases: []string{"usd c", "u s d c", "usdc coin"}, Decimals: 6, Stable: true},
		{Symbol: "USDT", Name: "Tether", Aliases: []string{"usd t", "u s d t", "tether usd"}, Decimals: 6, Stable: true},
		{Symbol: "DAI", Name: "Dai", Aliases: []string{"die", "dye"}, Decimals: 18, Stable: true},
		{Symbol: "WBTC", Name: "Wrapped Bitcoin", Aliases: []string{"bitcoin", "btc", "wrapped btc"}, Decimals: 8},
		{Symbol: "CBETH", Name: "Coinbase Wrapped Staked ETH", Aliases: []string{"coinbase eth", "cb eth"}, Decimals: 18},
	})
}

// Lookup 按符号精确查找，不区分大小写。
func (c *Catalog) Lookup(symbol string) (Token, bool) {
	if c == nil {
		return Token{}, false
	}
	token, ok := c.bySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return token, ok
}

// Resolve 将符号、名称或别名解析为标准符号。
func (c *Catalog) Resolve(phrase string) (string, bool) {
	if c == nil {
		return "", false
	}
	key := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
	symbol, ok := c.phrases[key]
	return symbol, ok
}

// IsStable 判断符号是否为稳定币。
func (c *Catalog) IsStable(symbol string) bool {
	token, ok := c.Lookup(symbol)
	return ok && token.Stable
}

// Symbols 返回目录中的全部符号，按字典序排列。
func (c *Catalog) Symbols() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.Symbol)
	}
	sort.Strings(out)
	return out
}

// Match 是 Scan 找到的一次命中。Start/End 为词序号区间 [Start, End)。
type Match struct {
	Symbol string
	Start  int
	End    int
}

// Scan 在已分词的文本中按最长匹配查找代币，返回按出现顺序排列的结果。
func (c *Catalog) Scan(words []string) []Match {
	if c == nil {
		return nil
	}
	var matches []Match
	for i := 0; i < len(words); {
		matched := false
		for n := min(c.maxWords, len(words)-i); n >= 1; n-- {
			phrase := strings.ToLower(strings.Join(words[i:i+n], " "))
			if symbol, ok := c.phrases[phrase]; ok {
				matches = append(matches, Match{Symbol: symbol, Start: i, End: i + n})
				i += n
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return matches
}
