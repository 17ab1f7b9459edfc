package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/events"
	"txn-ingest-go/pkg/log"
)

// SyncStrategy 在调用方的请求内同步处理整个文件，返回最终的、权威的结果。
// 适用于需要立即确认的场景（验证环境、小文件）。
type SyncStrategy struct {
	fileProc   *FileProcessor
	uploadRepo repository.UploadRepository
	observer   Observer
	publisher  EventPublisher // 可以为 nil
}

// NewSyncStrategy 创建一个新的 SyncStrategy 实例。
func NewSyncStrategy(fileProc *FileProcessor, uploadRepo repository.UploadRepository, observer Observer, publisher EventPublisher) *SyncStrategy {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &SyncStrategy{fileProc: fileProc, uploadRepo: uploadRepo, observer: observer, publisher: publisher}
}

// ProcessUpload 同步处理上传的所有行，结束时把终态持久化到上传记录。
func (s *SyncStrategy) ProcessUpload(ctx context.Context, content string, upload *model.Upload) (result Result) {
	startedAt := time.Now()

	// 编排层的任何意外 panic 都转换为 InternalServerError 结果，
	// 并把失败状态落到上传记录上
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("处理过程中发生意外错误: %v", r)
			log.Errorf("[SyncStrategy] %s, upload=%d", msg, upload.ID)
			_ = s.uploadRepo.UpdateStatus(upload.ID, model.UploadStatusFailed, msg)
			result = Result{StatusCode: StatusInternalError, UploadID: upload.ID, Message: msg}
		}
	}()

	if err := s.uploadRepo.UpdateStatus(upload.ID, model.UploadStatusProcessing, ""); err != nil {
		log.Error("[SyncStrategy] 更新上传状态为处理中失败", err)
		return Result{StatusCode: StatusInternalError, UploadID: upload.ID, Message: err.Error()}
	}

	summary, err := s.fileProc.Run(ctx, upload, content)
	if err != nil {
		// 取消是独立的信号，不伪装成一般性失败，也不再重试
		msg := "处理被取消"
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			msg = err.Error()
		}
		_ = s.uploadRepo.MarkCompleted(upload.ID, model.UploadStatusFailed, summary.Processed, summary.Failed, summary.Skipped, msg)
		return Result{StatusCode: StatusInternalError, UploadID: upload.ID, Message: msg}
	}

	s.observer.UploadDuration(time.Since(startedAt).Seconds())

	if summary.Failed > 0 {
		msg := fmt.Sprintf("%d 行处理失败（首个错误: %s）", summary.Failed, summary.FirstDiagnostic)
		if err := s.uploadRepo.MarkCompleted(upload.ID, model.UploadStatusFailed, summary.Processed, summary.Failed, summary.Skipped, msg); err != nil {
			log.Error("[SyncStrategy] 持久化失败状态出错", err)
		}
		s.publish(ctx, upload, model.UploadStatusFailed, summary, msg)

		// 基础设施故障（重试耗尽）报 500，纯内容错误报 422
		code := StatusUnprocessable
		if summary.InfraFailures > 0 {
			code = StatusInternalError
		}
		return Result{
			TransactionCount: summary.Processed,
			StatusCode:       code,
			UploadID:         upload.ID,
			Message:          msg,
		}
	}

	if err := s.uploadRepo.MarkCompleted(upload.ID, model.UploadStatusSuccess, summary.Processed, summary.Failed, summary.Skipped, ""); err != nil {
		log.Error("[SyncStrategy] 持久化成功状态出错", err)
	}
	s.publish(ctx, upload, model.UploadStatusSuccess, summary, "")

	log.Infof("[SyncStrategy] 上传处理完成, upload=%d, processed=%d, skipped=%d", upload.ID, summary.Processed, summary.Skipped)
	return Result{
		TransactionCount: summary.Processed,
		StatusCode:       StatusSuccess,
		UploadID:         upload.ID,
		Message:          fmt.Sprintf("处理完成，成功 %d 行，跳过 %d 行", summary.Processed, summary.Skipped),
	}
}

// publish 尽力而为地发布处理完成事件。
func (s *SyncStrategy) publish(ctx context.Context, upload *model.Upload, status int, summary Summary, errMsg string) {
	if s.publisher == nil {
		return
	}
	evt := events.UploadProcessedEvent{
		UploadID:     upload.ID,
		FileHash:     upload.FileHash,
		Status:       status,
		Processed:    summary.Processed,
		Failed:       summary.Failed,
		Skipped:      summary.Skipped,
		ErrorMessage: errMsg,
		FinishedAt:   time.Now(),
	}
	if err := s.publisher.PublishUploadEvent(ctx, evt); err != nil {
		log.Warnf("[SyncStrategy] 发布处理完成事件失败（已忽略）, upload=%d, error: %v", upload.ID, err)
	}
}
