package model

import "time"

// EsTransaction 定义了索引到 Elasticsearch 中的交易文档结构。
// 文档 ID 使用幂等键，重复索引会覆盖同一文档而不是产生副本。
type EsTransaction struct {
	IdempotencyKey string    `json:"idempotency_key"`
	UploadID       uint      `json:"upload_id"`
	LineIndex      int64     `json:"line_index"`
	NatureCode     int       `json:"nature_code"`
	AmountCents    int64     `json:"amount_cents"`
	CPF            string    `json:"cpf"`
	CardNumber     string    `json:"card_number"`
	OccurredAt     time.Time `json:"occurred_at"`
	StoreOwner     string    `json:"store_owner"`
	StoreName      string    `json:"store_name"`
}
