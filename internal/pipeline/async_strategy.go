package pipeline

import (
	"context"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/log"
)

// AsyncStrategy 不做任何行级处理：把整个上传投递到队列后立即返回 Accepted。
// 请求延迟与处理时间解耦，适用于生产吞吐场景；
// 实际的行级工作由队列消费者（cmd/worker）复用同一套管道完成。
type AsyncStrategy struct {
	queue      Enqueuer
	uploadRepo repository.UploadRepository
}

// NewAsyncStrategy 创建一个新的 AsyncStrategy 实例。
func NewAsyncStrategy(queue Enqueuer, uploadRepo repository.UploadRepository) *AsyncStrategy {
	return &AsyncStrategy{queue: queue, uploadRepo: uploadRepo}
}

// ProcessUpload 为整个上传入队一条消息。
// TransactionCount 为 0：此时处理尚未开始，数量未知。
func (s *AsyncStrategy) ProcessUpload(ctx context.Context, _ string, upload *model.Upload) Result {
	if upload.StorageReference == "" {
		// 消费者靠存储引用取回原始文件，没有它队列消息无法被处理
		msg := "上传缺少存储引用，无法投递到队列"
		log.Errorf("[AsyncStrategy] %s, upload=%d", msg, upload.ID)
		_ = s.uploadRepo.UpdateStatus(upload.ID, model.UploadStatusFailed, msg)
		return Result{StatusCode: StatusInternalError, UploadID: upload.ID, Message: msg}
	}

	messageID, err := s.queue.Enqueue(ctx, upload.ID, upload.StorageReference)
	if err != nil {
		// 队列不可用必须上报给调用方，绝不静默丢弃
		log.Error("[AsyncStrategy] 入队失败", err)
		_ = s.uploadRepo.UpdateStatus(upload.ID, model.UploadStatusFailed, err.Error())
		return Result{StatusCode: StatusInternalError, UploadID: upload.ID, Message: "入队失败: " + err.Error()}
	}

	log.Infof("[AsyncStrategy] 上传已入队, upload=%d, message=%s", upload.ID, messageID)
	return Result{
		TransactionCount: 0,
		StatusCode:       StatusAccepted,
		UploadID:         upload.ID,
		Message:          "已接受，等待异步处理",
	}
}
