// Package parser 实现定长（CNAB 风格）交易行的解析，纯函数、无 I/O。
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 各字段在行内的固定偏移（按字符计，店主/店名可能包含多字节字符）。
const (
	posNature     = 0
	posDate       = 1
	posAmount     = 9
	posCPF        = 19
	posCard       = 30
	posTime       = 42
	posStoreOwner = 48
	posStoreName  = 62
	lenStoreName  = 19
)

// natureSigns 把交易性质码映射到金额符号：+1 收入，-1 支出。
var natureSigns = map[int]int64{
	1: +1, // 借记
	2: -1, // 银行票据
	3: -1, // 融资
	4: +1, // 贷记
	5: +1, // 贷款回款
	6: +1, // 销售
	7: +1, // TED 转入
	8: +1, // DOC 转入
	9: -1, // 租金
}

// Record 是一行交易解析后的结构化结果。
type Record struct {
	NatureCode  int
	AmountCents int64 // 带符号金额（分）
	CPF         string
	CardNumber  string
	OccurredAt  time.Time
	StoreOwner  string
	StoreName   string
	LineIndex   int64
}

// ParseError 携带行号与具体诊断信息，解析失败是确定性的，调用方不应重试。
type ParseError struct {
	LineIndex int64
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("第 %d 行解析失败: %s", e.LineIndex, e.Reason)
}

// Parse 将一行定长文本解析为 Record。
func Parse(line string, lineIndex int64) (*Record, error) {
	runes := []rune(strings.TrimRight(line, "\r\n"))
	if len(runes) < posStoreName {
		return nil, &ParseError{LineIndex: lineIndex, Reason: fmt.Sprintf("行长度不足，期望至少 %d 个字符，实际 %d", posStoreName, len(runes))}
	}

	nature, err := strconv.Atoi(string(runes[posNature : posNature+1]))
	if err != nil {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "交易性质码不是数字"}
	}
	sign, ok := natureSigns[nature]
	if !ok {
		return nil, &ParseError{LineIndex: lineIndex, Reason: fmt.Sprintf("未知的交易性质码 %d", nature)}
	}

	amountRaw, err := strconv.ParseInt(string(runes[posAmount:posAmount+10]), 10, 64)
	if err != nil || amountRaw < 0 {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "金额字段不是合法的非负整数"}
	}

	cpf := string(runes[posCPF : posCPF+11])
	if !isDigits(cpf) {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "CPF 字段包含非数字字符"}
	}

	// 日期与时间字段组合为交易发生时间
	occurredAt, err := time.Parse("20060102150405", string(runes[posDate:posDate+8])+string(runes[posTime:posTime+6]))
	if err != nil {
		return nil, &ParseError{LineIndex: lineIndex, Reason: "日期或时间字段不合法"}
	}

	nameEnd := posStoreName + lenStoreName
	if nameEnd > len(runes) {
		nameEnd = len(runes)
	}

	return &Record{
		NatureCode:  nature,
		AmountCents: sign * amountRaw,
		CPF:         cpf,
		CardNumber:  string(runes[posCard : posCard+12]),
		OccurredAt:  occurredAt,
		StoreOwner:  strings.TrimSpace(string(runes[posStoreOwner : posStoreOwner+14])),
		StoreName:   strings.TrimSpace(string(runes[posStoreName:nameEnd])),
		LineIndex:   lineIndex,
	}, nil
}

// SplitLines 将整个文件内容切分为非空行。
func SplitLines(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
