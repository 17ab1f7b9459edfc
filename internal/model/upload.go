// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Upload 状态枚举。
const (
	UploadStatusPending    = 0 // 已接收，尚未处理
	UploadStatusProcessing = 1 // 处理中
	UploadStatusSuccess    = 2 // 处理完成
	UploadStatusFailed     = 3 // 处理失败
)

// Upload 定义了 uploads 表的 ORM 模型。
// 它是整个上传处理进度的聚合根：文件级去重键、行计数器与检查点都记录在这里。
type Upload struct {
	ID               uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	FileHash         string     `gorm:"type:varchar(64);not null;uniqueIndex:uq_uploads_file_hash" json:"fileHash"`
	FileName         string     `gorm:"type:varchar(255);not null" json:"fileName"`
	TotalLines       int64      `gorm:"not null;default:0" json:"totalLines"`
	ProcessedLines   int64      `gorm:"not null;default:0" json:"processedLines"`
	FailedLines      int64      `gorm:"not null;default:0" json:"failedLines"`
	SkippedLines     int64      `gorm:"not null;default:0" json:"skippedLines"`
	CheckpointLine   int64      `gorm:"not null;default:-1" json:"checkpointLine"` // -1 表示尚无检查点
	CheckpointAt     *time.Time `gorm:"default:null" json:"checkpointAt"`
	Status           int        `gorm:"type:tinyint;not null;default:0" json:"status"`
	RetryCount       int        `gorm:"not null;default:0" json:"retryCount"`
	ErrorMessage     string     `gorm:"type:varchar(1024)" json:"errorMessage"`
	StorageReference string     `gorm:"type:varchar(255)" json:"storageReference"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Upload) TableName() string {
	return "uploads"
}
