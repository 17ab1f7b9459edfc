// Package pipeline 实现上传处理的核心流程：行级处理、检查点与处理策略。
package pipeline

// Result 状态码，与 HTTP 语义对齐，由 handler 层直接映射为响应码。
const (
	StatusSuccess       = 200 // 处理完成
	StatusAccepted      = 202 // 已接受，异步处理中
	StatusUnprocessable = 422 // 文件内容不合法，客户端可修正后重新提交
	StatusInternalError = 500 // 基础设施故障，稍后重试
)

// Result 是处理策略返回给调用方的统一结果。
type Result struct {
	TransactionCount int64  `json:"transactionCount"`
	StatusCode       int    `json:"statusCode"`
	UploadID         uint   `json:"uploadId"`
	Message          string `json:"message"`
}

// LineStatus 是单行处理的结果枚举。
type LineStatus int

const (
	LineSuccess LineStatus = iota // 恰好创建了一条交易记录
	LineSkipped                   // 重复行，没有任何副作用
	LineFailed                    // 解析失败或重试耗尽
)

// LineResult 携带单行处理的结果、尝试次数与诊断信息。
type LineResult struct {
	Status     LineStatus
	Attempts   int
	Diagnostic string
	// Transient 为 true 表示失败源于基础设施（重试耗尽）而非文件内容本身
	Transient bool
}
