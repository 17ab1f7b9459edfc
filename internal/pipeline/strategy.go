package pipeline

import (
	"context"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/pkg/events"
)

// ProcessingStrategy 是上传处理编排器的统一接口。
// 两个实现（同步/异步）由部署配置选择，调用方不感知差异。
type ProcessingStrategy interface {
	ProcessUpload(ctx context.Context, content string, upload *model.Upload) Result
}

// EventPublisher 是处理完成事件的发布端口（Kafka 实现在 pkg/kafka）。
type EventPublisher interface {
	PublishUploadEvent(ctx context.Context, evt events.UploadProcessedEvent) error
}

// Enqueuer 是异步策略所需的队列入队端口（Redis Stream 实现在 internal/queue）。
type Enqueuer interface {
	Enqueue(ctx context.Context, uploadID uint, storageRef string) (string, error)
}
