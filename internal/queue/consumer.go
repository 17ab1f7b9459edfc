package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/pipeline"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/events"
	"txn-ingest-go/pkg/log"

	"gorm.io/gorm"
)

// Broker 抽象了消费者对队列服务的依赖，便于在测试中替换。
// *Service 是它的 Redis Stream 实现。
type Broker interface {
	InitializeConsumerGroup(ctx context.Context, group string) error
	Dequeue(ctx context.Context, group, consumer string) (*Message, error)
	Acknowledge(ctx context.Context, group, messageID string) error
	MoveToDeadLetter(ctx context.Context, originalMessageID string, uploadID uint, reason string, retryCount int) error
}

// FileFetcher 按存储引用取回原始文件内容（生产环境由 MinIO 承担）。
type FileFetcher func(ctx context.Context, storageRef string) ([]byte, error)

// Consumer 消费队列消息并复用行级处理管道完成实际工作。
// 处理失败时递增上传记录的重试计数；耗尽额度的消息先写入死信流、
// 再确认原消息，二者顺序不可颠倒。
type Consumer struct {
	broker        Broker
	fileProc      *pipeline.FileProcessor
	uploadRepo    repository.UploadRepository
	fetch         FileFetcher
	observer      pipeline.Observer
	publisher     pipeline.EventPublisher // 可以为 nil
	group         string
	consumerID    string
	maxDeliveries int
}

// NewConsumer 创建一个新的队列消费者。
func NewConsumer(broker Broker, fileProc *pipeline.FileProcessor, uploadRepo repository.UploadRepository,
	fetch FileFetcher, observer pipeline.Observer, publisher pipeline.EventPublisher,
	group, consumerID string, maxDeliveries int) *Consumer {
	if observer == nil {
		observer = pipeline.NoopObserver{}
	}
	if maxDeliveries < 1 {
		maxDeliveries = 3
	}
	return &Consumer{
		broker:        broker,
		fileProc:      fileProc,
		uploadRepo:    uploadRepo,
		fetch:         fetch,
		observer:      observer,
		publisher:     publisher,
		group:         group,
		consumerID:    consumerID,
		maxDeliveries: maxDeliveries,
	}
}

// Start 运行消费循环直到 ctx 被取消。
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.broker.InitializeConsumerGroup(ctx, c.group); err != nil {
		return err
	}
	log.Infof("[Consumer] 队列消费者已启动, group=%s, consumer=%s", c.group, c.consumerID)

	for {
		if ctx.Err() != nil {
			log.Info("[Consumer] 收到取消信号，消费循环退出")
			return ctx.Err()
		}

		msg, err := c.broker.Dequeue(ctx, c.group, c.consumerID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			log.Error("[Consumer] 取消息失败，稍后重试", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue // 阻塞超时，无新消息
		}

		c.handle(ctx, msg)
	}
}

// handle 处理一条队列消息。
func (c *Consumer) handle(ctx context.Context, msg *Message) {
	log.Infof("[Consumer] 收到消息 %s, upload=%d", msg.ID, msg.UploadID)

	upload, err := c.uploadRepo.GetByID(msg.UploadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 消息引用的上传记录不存在（入队先于记录提交是不可能的），
			// 重投递不会让它出现：毒消息直接进入死信流
			c.deadLetter(ctx, msg, fmt.Sprintf("上传记录 %d 不存在", msg.UploadID), 0)
			return
		}
		// 瞬时的数据库故障：保持消息未确认，等待重投递
		log.Errorf("[Consumer] 加载上传记录失败，消息 %s 等待重投递: %v", msg.ID, err)
		return
	}

	if upload.Status == model.UploadStatusSuccess {
		// 至少一次投递下的重复消息：工作早已完成，确认即可
		log.Infof("[Consumer] 上传 %d 已处理完成，确认重复消息 %s", upload.ID, msg.ID)
		c.ack(ctx, msg.ID)
		return
	}

	content, err := c.fetch(ctx, msg.StorageRef)
	if err != nil {
		c.fail(ctx, msg, upload.ID, fmt.Sprintf("取回原始文件失败: %v", err))
		return
	}

	if err := c.uploadRepo.UpdateStatus(upload.ID, model.UploadStatusProcessing, ""); err != nil {
		c.fail(ctx, msg, upload.ID, fmt.Sprintf("更新处理状态失败: %v", err))
		return
	}

	startedAt := time.Now()
	summary, err := c.fileProc.Run(ctx, upload, string(content))
	if err != nil {
		// 取消：进度已由检查点保留，不确认消息，重启后继续
		log.Warnf("[Consumer] 处理被取消, upload=%d, message=%s", upload.ID, msg.ID)
		return
	}
	c.observer.UploadDuration(time.Since(startedAt).Seconds())

	status := model.UploadStatusSuccess
	errMsg := ""
	if summary.Failed > 0 {
		status = model.UploadStatusFailed
		errMsg = fmt.Sprintf("%d 行处理失败（首个错误: %s）", summary.Failed, summary.FirstDiagnostic)
	}
	if err := c.uploadRepo.MarkCompleted(upload.ID, status, summary.Processed, summary.Failed, summary.Skipped, errMsg); err != nil {
		c.fail(ctx, msg, upload.ID, fmt.Sprintf("持久化终态失败: %v", err))
		return
	}

	c.publish(ctx, upload, status, summary, errMsg)
	c.ack(ctx, msg.ID)
	log.Infof("[Consumer] 消息 %s 处理完成, upload=%d, processed=%d, failed=%d, skipped=%d",
		msg.ID, upload.ID, summary.Processed, summary.Failed, summary.Skipped)
}

// fail 记录一次处理失败。重试额度未耗尽时不确认消息，
// 留在 pending 列表等待重新认领；耗尽时先写死信流、再确认原消息。
func (c *Consumer) fail(ctx context.Context, msg *Message, uploadID uint, reason string) {
	log.Errorf("[Consumer] 消息 %s 处理失败: %s", msg.ID, reason)

	retries, err := c.uploadRepo.IncrementRetryCount(uploadID)
	if err != nil {
		// 计数不可用时无法判断额度，宁可立即死信也不能让消息无限重投递
		log.Error("[Consumer] 递增重试计数失败，消息直接进入死信流", err)
		retries = c.maxDeliveries
	}
	_ = c.uploadRepo.UpdateStatus(uploadID, model.UploadStatusFailed, reason)

	if retries < c.maxDeliveries {
		log.Warnf("[Consumer] 消息 %s 第 %d/%d 次失败，等待重投递", msg.ID, retries, c.maxDeliveries)
		return
	}

	c.deadLetter(ctx, msg, reason, retries)
}

// deadLetter 先把消息写入死信流，成功后再确认原消息，顺序不可颠倒。
func (c *Consumer) deadLetter(ctx context.Context, msg *Message, reason string, retries int) {
	if err := c.broker.MoveToDeadLetter(ctx, msg.ID, msg.UploadID, reason, retries); err != nil {
		// 死信写入失败则保持消息未确认，下一次认领会重走这条路径
		log.Error("[Consumer] 写入死信流失败，保持消息未确认", err)
		return
	}
	c.observer.MessageDeadLettered()
	c.ack(ctx, msg.ID)
	log.Warnf("[Consumer] 消息 %s 已移入死信流（重试 %d 次后放弃）", msg.ID, retries)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.broker.Acknowledge(ctx, c.group, messageID); err != nil {
		log.Error("[Consumer] 确认消息失败", err)
	}
}

// publish 尽力而为地发布处理完成事件。
func (c *Consumer) publish(ctx context.Context, upload *model.Upload, status int, summary pipeline.Summary, errMsg string) {
	if c.publisher == nil {
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
	if err := c.publisher.PublishUploadEvent(ctx, evt); err != nil {
		log.Warnf("[Consumer] 发布处理完成事件失败（已忽略）, upload=%d, error: %v", upload.ID, err)
	}
}
