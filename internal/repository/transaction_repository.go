package repository

import (
	"context"
	"errors"

	"txn-ingest-go/internal/model"

	"gorm.io/gorm"
)

// ErrDuplicate 表示插入因唯一键冲突而失败。
// 在并发重复提交的场景下这是预期结果，调用方应将其解释为"跳过"而不是失败。
var ErrDuplicate = errors.New("记录已存在")

// TransactionRepository 接口定义了交易行与行哈希的持久化操作。
type TransactionRepository interface {
	// InsertLineUniquely 在独立事务中插入一条交易记录。
	// 幂等键冲突返回 ErrDuplicate；其他错误视为瞬时持久化失败，可以重试。
	InsertLineUniquely(ctx context.Context, txn *model.Transaction) error
	// RecordLineHash 记录行哈希到首次出现位置的映射，哈希冲突返回 ErrDuplicate。
	RecordLineHash(ctx context.Context, hash string, uploadID uint, lineIndex int64) error
	// LineHashExists 查询某行内容哈希是否已在任意上传中出现过。
	LineHashExists(ctx context.Context, hash string) (bool, error)
	CountByUpload(uploadID uint) (int64, error)
	GetByIdempotencyKey(key string) (*model.Transaction, error)
}

// transactionRepository 是 TransactionRepository 接口的 GORM 实现。
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 创建一个新的 TransactionRepository 实例。
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// InsertLineUniquely 在独立事务中插入交易记录，唯一键冲突翻译为 ErrDuplicate。
// 每次调用是一个原子持久化单元：失败时不会留下半提交的数据。
func (r *transactionRepository) InsertLineUniquely(ctx context.Context, txn *model.Transaction) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(txn).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// RecordLineHash 记录行哈希。唯一索引保证哈希全局唯一。
func (r *transactionRepository) RecordLineHash(ctx context.Context, hash string, uploadID uint, lineIndex int64) error {
	record := &model.LineHash{
		Hash:      hash,
		UploadID:  uploadID,
		LineIndex: lineIndex,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// LineHashExists 查询行哈希是否已存在（快路径去重检查）。
func (r *transactionRepository) LineHashExists(ctx context.Context, hash string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LineHash{}).Where("hash = ?", hash).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountByUpload 统计某次上传已落库的交易行数。
func (r *transactionRepository) CountByUpload(uploadID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.Transaction{}).Where("upload_id = ?", uploadID).Count(&count).Error
	return count, err
}

// GetByIdempotencyKey 根据幂等键检索交易记录。
func (r *transactionRepository) GetByIdempotencyKey(key string) (*model.Transaction, error) {
	var txn model.Transaction
	if err := r.db.Where("idempotency_key = ?", key).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}
