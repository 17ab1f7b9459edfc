package service

import (
	"context"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/internal/model"
	"txn-ingest-go/pkg/es"
)

// SearchService 接口定义了已落库交易的检索操作。
type SearchService interface {
	SearchTransactions(ctx context.Context, query string, limit int) ([]model.EsTransaction, error)
}

type searchService struct {
	esCfg config.ElasticsearchConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(esCfg config.ElasticsearchConfig) SearchService {
	return &searchService{esCfg: esCfg}
}

// SearchTransactions 在店主/店名字段上检索交易。
func (s *searchService) SearchTransactions(ctx context.Context, query string, limit int) ([]model.EsTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return es.SearchTransactions(ctx, s.esCfg.IndexName, query, limit)
}

// EsIndexer 是 pipeline.TransactionIndexer 的 Elasticsearch 实现。
type EsIndexer struct {
	IndexName string
}

// IndexTransaction 把成功落库的交易索引到搜索引擎。
func (i EsIndexer) IndexTransaction(ctx context.Context, txn *model.Transaction) error {
	return es.IndexTransaction(ctx, i.IndexName, model.EsTransaction{
		IdempotencyKey: txn.IdempotencyKey,
		UploadID:       txn.UploadID,
		LineIndex:      txn.LineIndex,
		NatureCode:     txn.NatureCode,
		AmountCents:    txn.AmountCents,
		CPF:            txn.CPF,
		CardNumber:     txn.CardNumber,
		OccurredAt:     txn.OccurredAt,
		StoreOwner:     txn.StoreOwner,
		StoreName:      txn.StoreName,
	})
}
