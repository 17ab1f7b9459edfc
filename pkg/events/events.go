// Package events 定义了发布到 Kafka 的事件结构。
package events

import "time"

// UploadProcessedEvent 在一次上传处理结束后发出（无论成功与否），
// 供下游消费者做后续处理。
type UploadProcessedEvent struct {
	UploadID     uint      `json:"upload_id"`
	FileHash     string    `json:"file_hash"`
	Status       int       `json:"status"`
	Processed    int64     `json:"processed"`
	Failed       int64     `json:"failed"`
	Skipped      int64     `json:"skipped"`
	ErrorMessage string    `json:"error_message,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}
