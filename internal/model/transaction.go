package model

import "time"

// Transaction 定义了 transactions 表的 ORM 模型，对应批量文件中的一行交易记录。
// IdempotencyKey 形如 "{fileHash}:{lineIndex}"，唯一索引保证同一逻辑行至多落库一次。
type Transaction struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	IdempotencyKey string    `gorm:"type:varchar(80);not null;uniqueIndex:uq_txn_idem_key" json:"idempotencyKey"`
	UploadID       uint      `gorm:"not null;index" json:"uploadId"`
	LineIndex      int64     `gorm:"not null" json:"lineIndex"`
	NatureCode     int       `gorm:"type:tinyint;not null" json:"natureCode"`
	AmountCents    int64     `gorm:"not null" json:"amountCents"` // 带符号金额（分），支出为负
	CPF            string    `gorm:"type:varchar(11);not null" json:"cpf"`
	CardNumber     string    `gorm:"type:varchar(12);not null" json:"cardNumber"`
	OccurredAt     time.Time `gorm:"not null" json:"occurredAt"`
	StoreOwner     string    `gorm:"type:varchar(14);not null" json:"storeOwner"`
	StoreName      string    `gorm:"type:varchar(19);not null" json:"storeName"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Transaction) TableName() string {
	return "transactions"
}

// LineHash 定义了 line_hashes 表的 ORM 模型。
// 它把一行内容的哈希映射到首次出现的上传记录，哈希全局唯一，
// 使得同一行内容出现在另一个文件中时也能被识别为重复。
type LineHash struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Hash      string    `gorm:"type:varchar(64);not null;uniqueIndex:uq_line_hashes_hash" json:"hash"`
	UploadID  uint      `gorm:"not null;index" json:"uploadId"`
	LineIndex int64     `gorm:"not null" json:"lineIndex"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (LineHash) TableName() string {
	return "line_hashes"
}
