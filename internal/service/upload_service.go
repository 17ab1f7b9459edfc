// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/parser"
	"txn-ingest-go/internal/pipeline"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/hashing"
	"txn-ingest-go/pkg/log"
	"txn-ingest-go/pkg/storage"

	"gorm.io/gorm"
)

// UploadService 接口定义了批量文件提交相关的业务操作。
type UploadService interface {
	// SubmitUpload 接收一个批量文件：文件级去重、落存储、创建上传记录并交给处理策略。
	SubmitUpload(ctx context.Context, fileName string, content []byte) pipeline.Result
	// GetUploadStatus 返回上传记录，供进度轮询。
	GetUploadStatus(ctx context.Context, id uint) (*model.Upload, error)
	// RawFileURL 为已存储的原始文件生成带签名的临时下载链接。
	RawFileURL(upload *model.Upload) (string, error)
}

type uploadService struct {
	uploadRepo repository.UploadRepository
	strategy   pipeline.ProcessingStrategy
	minioCfg   config.MinIOConfig
	// asyncMode 为 true 时原始文件必须成功写入对象存储（消费者依赖它），
	// 同步模式下存储失败只记录日志
	asyncMode bool
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(uploadRepo repository.UploadRepository, strategy pipeline.ProcessingStrategy, minioCfg config.MinIOConfig, asyncMode bool) UploadService {
	return &uploadService{
		uploadRepo: uploadRepo,
		strategy:   strategy,
		minioCfg:   minioCfg,
		asyncMode:  asyncMode,
	}
}

// SubmitUpload 处理一次文件提交。
// 同一文件的重复提交通过内容哈希识别：已完成的直接返回既有结果（安全的无操作），
// 处理中的返回 Accepted，失败的复用原记录从检查点恢复处理。
func (s *uploadService) SubmitUpload(ctx context.Context, fileName string, content []byte) pipeline.Result {
	fileHash := hashing.Sum(content)
	lines := parser.SplitLines(string(content))
	log.Infof("[SubmitUpload] 收到文件提交, name=%s, hash=%s, lines=%d", fileName, fileHash, len(lines))

	if len(lines) == 0 {
		return pipeline.Result{StatusCode: pipeline.StatusUnprocessable, Message: "文件内容为空"}
	}

	upload, err := s.uploadRepo.GetByFileHash(fileHash)
	switch {
	case err == nil:
		// 整文件级别的重复提交
		switch upload.Status {
		case model.UploadStatusSuccess:
			log.Infof("[SubmitUpload] 文件此前已处理完成，跳过, upload=%d", upload.ID)
			return pipeline.Result{
				TransactionCount: upload.ProcessedLines,
				StatusCode:       pipeline.StatusSuccess,
				UploadID:         upload.ID,
				Message:          "文件此前已处理完成",
			}
		case model.UploadStatusPending, model.UploadStatusProcessing:
			log.Infof("[SubmitUpload] 文件正在处理中, upload=%d", upload.ID)
			return pipeline.Result{
				StatusCode: pipeline.StatusAccepted,
				UploadID:   upload.ID,
				Message:    "文件正在处理中",
			}
		default:
			// 上次失败：复用原记录，从检查点恢复
			log.Infof("[SubmitUpload] 文件上次处理失败，重新提交处理, upload=%d, checkpoint=%d", upload.ID, upload.CheckpointLine)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		upload = &model.Upload{
			FileHash:   fileHash,
			FileName:   fileName,
			TotalLines: int64(len(lines)),
		}
		if err := s.uploadRepo.Create(upload); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// 并发提交了同一文件，对方赢得了创建权
				return pipeline.Result{StatusCode: pipeline.StatusAccepted, Message: "文件正在处理中"}
			}
			log.Error("[SubmitUpload] 创建上传记录失败", err)
			return pipeline.Result{StatusCode: pipeline.StatusInternalError, Message: err.Error()}
		}
	default:
		log.Error("[SubmitUpload] 查询上传记录失败", err)
		return pipeline.Result{StatusCode: pipeline.StatusInternalError, Message: err.Error()}
	}

	if upload.StorageReference == "" {
		objectName, err := storage.PutRawFile(ctx, s.minioCfg.BucketName, fileHash, content)
		if err != nil {
			if s.asyncMode {
				// 异步模式下消费者依赖对象存储中的原始文件，存储失败是致命的
				log.Error("[SubmitUpload] 原始文件写入对象存储失败", err)
				return pipeline.Result{StatusCode: pipeline.StatusInternalError, UploadID: upload.ID, Message: fmt.Sprintf("原始文件存储失败: %v", err)}
			}
			log.Warnf("[SubmitUpload] 原始文件写入对象存储失败（同步模式下继续处理）: %v", err)
		} else {
			upload.StorageReference = objectName
			if err := s.uploadRepo.UpdateStorageReference(upload.ID, objectName); err != nil {
				log.Warnf("[SubmitUpload] 记录存储引用失败: %v", err)
			}
		}
	}

	return s.strategy.ProcessUpload(ctx, string(content), upload)
}

// GetUploadStatus 返回指定上传记录。
func (s *uploadService) GetUploadStatus(ctx context.Context, id uint) (*model.Upload, error) {
	_ = ctx
	return s.uploadRepo.GetByID(id)
}

// RawFileURL 为上传对应的原始文件生成 15 分钟有效的预签名下载链接。
func (s *uploadService) RawFileURL(upload *model.Upload) (string, error) {
	if upload.StorageReference == "" {
		return "", errors.New("上传记录没有关联的存储引用")
	}
	return storage.GetPresignedURL(s.minioCfg.BucketName, upload.StorageReference, 15*time.Minute)
}
