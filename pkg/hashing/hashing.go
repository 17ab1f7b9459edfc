// Package hashing 提供内容哈希计算，作为文件与行级去重键的来源。
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sum 计算内容的 SHA-256 十六进制摘要。
func Sum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// SumString 计算字符串内容的 SHA-256 十六进制摘要。
func SumString(content string) string {
	return Sum([]byte(content))
}

// IdempotencyKey 生成行级幂等键，格式为 "{fileHash}:{lineIndex}"。
// 消费方应将其视为不透明字符串。
func IdempotencyKey(fileHash string, lineIndex int64) string {
	return fmt.Sprintf("%s:%d", fileHash, lineIndex)
}
