package pipeline

import (
	"context"
	"errors"
	"time"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/parser"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/hashing"
	"txn-ingest-go/pkg/log"
)

// TransactionIndexer 是搜索索引的可选端口，成功落库后尽力而为地索引交易文档。
type TransactionIndexer interface {
	IndexTransaction(ctx context.Context, txn *model.Transaction) error
}

// LineProcessor 负责单行交易的解析、去重与幂等持久化，持久化失败时有界重试。
type LineProcessor struct {
	txnRepo    repository.TransactionRepository
	indexer    TransactionIndexer // 可以为 nil
	maxRetries int
	retryDelay time.Duration
}

// NewLineProcessor 创建一个新的 LineProcessor 实例。
func NewLineProcessor(txnRepo repository.TransactionRepository, indexer TransactionIndexer, maxRetries int, retryDelay time.Duration) *LineProcessor {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &LineProcessor{
		txnRepo:    txnRepo,
		indexer:    indexer,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// ProcessLine 处理一行交易记录。
// 返回的 error 仅在取消时非 nil（ctx.Err()），普通失败通过 LineResult 表达。
//
// 流程：
//  1. 计算行内容哈希，查 line_hashes 快路径去重（在任何解析/持久化之前）。
//  2. 解析失败直接返回 LineFailed，不重试（解析失败是确定性的）。
//  3. 在有界重试循环内插入交易记录，每次尝试是独立的原子事务，
//     退避间隔随尝试次数线性增长。
//  4. 唯一键冲突意味着并发处理者赢得了竞争，按 LineSkipped 处理。
//  5. 成功后尽力而为地写入行哈希与搜索索引，二者失败都不会推翻已提交的交易。
func (p *LineProcessor) ProcessLine(ctx context.Context, line string, lineIndex int64, uploadID uint, uploadFileHash string) (LineResult, error) {
	if err := ctx.Err(); err != nil {
		return LineResult{}, err
	}

	lineHash := hashing.SumString(line)

	exists, err := p.txnRepo.LineHashExists(ctx, lineHash)
	if err != nil {
		// 快路径查询失败不阻塞处理：唯一约束仍然是最终仲裁者
		log.Warnf("[LineProcessor] 行哈希快路径查询失败，继续走持久化路径, line=%d, error: %v", lineIndex, err)
	} else if exists {
		return LineResult{Status: LineSkipped, Diagnostic: "行内容已在其他上传中出现"}, nil
	}

	record, err := parser.Parse(line, lineIndex)
	if err != nil {
		return LineResult{Status: LineFailed, Diagnostic: err.Error()}, nil
	}

	key := hashing.IdempotencyKey(uploadFileHash, lineIndex)

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return LineResult{}, err
		}

		txn := &model.Transaction{
			IdempotencyKey: key,
			UploadID:       uploadID,
			LineIndex:      lineIndex,
			NatureCode:     record.NatureCode,
			AmountCents:    record.AmountCents,
			CPF:            record.CPF,
			CardNumber:     record.CardNumber,
			OccurredAt:     record.OccurredAt,
			StoreOwner:     record.StoreOwner,
			StoreName:      record.StoreName,
		}

		err := p.txnRepo.InsertLineUniquely(ctx, txn)
		if err == nil {
			p.afterPersist(ctx, txn, lineHash)
			return LineResult{Status: LineSuccess, Attempts: attempt}, nil
		}
		if errors.Is(err, repository.ErrDuplicate) {
			// 并发处理者先插入了同一行，预期的竞争结果
			return LineResult{Status: LineSkipped, Attempts: attempt, Diagnostic: "幂等键或行哈希已存在"}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return LineResult{}, err
		}

		lastErr = err
		log.Warnf("[LineProcessor] 持久化第 %d 行失败（第 %d/%d 次尝试）: %v", lineIndex, attempt, p.maxRetries, err)

		if attempt < p.maxRetries {
			// 线性退避
			select {
			case <-ctx.Done():
				return LineResult{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
	}

	return LineResult{
		Status:     LineFailed,
		Attempts:   p.maxRetries,
		Diagnostic: lastErr.Error(),
		Transient:  true,
	}, nil
}

// afterPersist 在交易成功提交后执行两个尽力而为的次级写入：
// 行哈希记录与搜索索引。任何失败只记录日志，不会把成功改判为失败。
func (p *LineProcessor) afterPersist(ctx context.Context, txn *model.Transaction, lineHash string) {
	if err := p.txnRepo.RecordLineHash(ctx, lineHash, txn.UploadID, txn.LineIndex); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		log.Warnf("[LineProcessor] 记录行哈希失败（不影响已提交的交易）, line=%d, error: %v", txn.LineIndex, err)
	}

	if p.indexer != nil {
		if err := p.indexer.IndexTransaction(ctx, txn); err != nil {
			log.Warnf("[LineProcessor] 交易索引到搜索引擎失败（不影响已提交的交易）, key=%s, error: %v", txn.IdempotencyKey, err)
		}
	}
}
