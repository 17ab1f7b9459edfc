// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"time"

	"txn-ingest-go/internal/model"

	"gorm.io/gorm"
)

// UploadRepository 接口定义了上传记录相关的数据持久化操作。
type UploadRepository interface {
	Create(upload *model.Upload) error
	GetByID(id uint) (*model.Upload, error)
	GetByFileHash(fileHash string) (*model.Upload, error)
	UpdateStatus(id uint, status int, errorMessage string) error
	UpdateStorageReference(id uint, storageRef string) error
	// MarkCompleted 写入终态与最终计数，同步策略与队列消费者在处理结束时调用。
	MarkCompleted(id uint, status int, processed, failed, skipped int64, errorMessage string) error
	// SaveCheckpoint 持久化处理进度，供崩溃后从 lastLine+1 恢复。
	SaveCheckpoint(ctx context.Context, id uint, lastLine, processed, failed, skipped int64) error
	IncrementRetryCount(id uint) (int, error)
}

// uploadRepository 是 UploadRepository 接口的 GORM 实现。
type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository 创建一个新的 UploadRepository 实例。
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

// Create 在数据库中创建一条新的上传记录。
func (r *uploadRepository) Create(upload *model.Upload) error {
	return r.db.Create(upload).Error
}

// GetByID 根据主键检索上传记录。
func (r *uploadRepository) GetByID(id uint) (*model.Upload, error) {
	var upload model.Upload
	if err := r.db.First(&upload, id).Error; err != nil {
		return nil, err
	}
	return &upload, nil
}

// GetByFileHash 根据文件内容哈希检索上传记录（文件级全局去重键）。
func (r *uploadRepository) GetByFileHash(fileHash string) (*model.Upload, error) {
	var upload model.Upload
	if err := r.db.Where("file_hash = ?", fileHash).First(&upload).Error; err != nil {
		return nil, err
	}
	return &upload, nil
}

// UpdateStatus 更新上传记录的生命周期状态。
func (r *uploadRepository) UpdateStatus(id uint, status int, errorMessage string) error {
	return r.db.Model(&model.Upload{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	}).Error
}

// UpdateStorageReference 记录原始文件在对象存储中的引用。
func (r *uploadRepository) UpdateStorageReference(id uint, storageRef string) error {
	return r.db.Model(&model.Upload{}).Where("id = ?", id).
		Update("storage_reference", storageRef).Error
}

// MarkCompleted 写入终态与最终计数。
func (r *uploadRepository) MarkCompleted(id uint, status int, processed, failed, skipped int64, errorMessage string) error {
	return r.db.Model(&model.Upload{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":          status,
		"processed_lines": processed,
		"failed_lines":    failed,
		"skipped_lines":   skipped,
		"error_message":   errorMessage,
	}).Error
}

// SaveCheckpoint 持久化进度计数器与当前行位置。
func (r *uploadRepository) SaveCheckpoint(ctx context.Context, id uint, lastLine, processed, failed, skipped int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.Upload{}).Where("id = ?", id).Updates(map[string]interface{}{
		"checkpoint_line": lastLine,
		"checkpoint_at":   &now,
		"processed_lines": processed,
		"failed_lines":    failed,
		"skipped_lines":   skipped,
	}).Error
}

// IncrementRetryCount 原子地递增重试计数并返回新值。
func (r *uploadRepository) IncrementRetryCount(id uint) (int, error) {
	err := r.db.Model(&model.Upload{}).Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return 0, err
	}
	upload, err := r.GetByID(id)
	if err != nil {
		return 0, err
	}
	return upload.RetryCount, nil
}
