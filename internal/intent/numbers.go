package intent

import (
	"strings"

	"github.com/shopspring/decimal"
)

var smallNumbers = map[string]int64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60, "seventy": 70,
	"eighty": 80, "ninety": 90,
}

var digitWords = map[string]string{
	"zero": "0", "oh": "0", "one": "1", "two": "2", "three": "3", "four": "4",
	"five": "5", "six": "6", "seven": "7", "eight": "8", "nine": "9",
}

// parseNumberAt 从 words[i] 开始读取一个数量，支持阿拉伯数字（可带 $ 与千分位）
// 以及 "two hundred fifty"、"one point five"、"half" 这类口语写法。
// 返回值与消耗的词数，未命中时 n 为 0。
func parseNumberAt(words []string, i int) (decimal.Decimal, int) {
	if i >= len(words) {
		return decimal.Zero, 0
	}
	word := strings.TrimPrefix(words[i], "$")
	word = strings.ReplaceAll(word, ",", "")
	if word != "" && (word[0] >= '0' && word[0] <= '9' || word[0] == '.') {
		if d, err := decimal.NewFromString(word); err == nil {
			return d, 1
		}
		return decimal.Zero, 0
	}

	if word == "half" {
		return decimal.RequireFromString("0.5"), 1
	}
	if (word == "a" || word == "one") && i+1 < len(words) && words[i+1] == "half" {
		return decimal.RequireFromString("0.5"), 2
	}

	var total, current int64
	consumed := 0
	sawNumber := false
	for j := i; j < len(words); j++ {
		w := words[j]
		if v, ok := smallNumbers[w]; ok {
			current += v
			sawNumber = true
			consumed = j - i + 1
			continue
		}
		switch w {
		case "hundred":
			if !sawNumber {
				return decimal.Zero, 0
			}
			if current == 0 {
				current = 1
			}
			current *= 100
			consumed = j - i + 1
			continue
		case "thousand":
			if !sawNumber {
				return decimal.Zero, 0
			}
			if current == 0 {
				current = 1
			}
			total += current * 1000
			current = 0
			consumed = j - i + 1
			continue
		case "and":
			if sawNumber && j+1 < len(words) {
				if _, ok := smallNumbers[words[j+1]]; ok {
					continue
				}
			}
		case "point":
			if sawNumber {
				fraction, n := readDigits(words, j+1)
				if n > 0 {
					whole := decimal.NewFromInt(total + current)
					value, err := decimal.NewFromString(whole.String() + "." + fraction)
					if err == nil {
						return value, j - i + 1 + n
					}
				}
			}
		}
		break
	}
	if !sawNumber {
		return decimal.Zero, 0
	}
	return decimal.NewFromInt(total + current), consumed
}

func readDigits(words []string, i int) (string, int) {
	var b strings.Builder
	n := 0
	for j := i; j < len(words); j++ {
		digit, ok := digitWords[words[j]]
		if !ok {
			break
		}
		b.WriteString(digit)
		n++
	}
	return b.String(), n
}
