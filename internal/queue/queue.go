// Package queue 基于 Redis Stream 实现追加型消息队列：
// 消费者组、确认、死信流与保留长度裁剪。
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// Message 是主流上的消息封装：{uploadId, storageReference, enqueuedAt}。
type Message struct {
	ID         string
	UploadID   uint
	StorageRef string
	EnqueuedAt time.Time
}

// GroupStats 描述一个消费者组的状态。
type GroupStats struct {
	Name      string `json:"name"`
	Consumers int64  `json:"consumers"`
	Pending   int64  `json:"pending"`
}

// QueueStats 是 Stats 返回的队列概览。
type QueueStats struct {
	StreamLength int64        `json:"streamLength"`
	Pending      int64        `json:"pending"`
	Processed    int64        `json:"processed"` // 近似值：流长度减去未确认消息数
	DeadLettered int64        `json:"deadLettered"`
	Groups       []GroupStats `json:"consumerGroups"`
}

// Service 是 Redis Stream 队列服务。投递语义为至少一次：
// 消息被取出后在确认之前一直留在 pending 列表中，可被组内重新认领。
type Service struct {
	rdb          *redis.Client
	stream       string
	dlqStream    string
	maxLen       int64
	block        time.Duration
	claimMinIdle time.Duration
}

// NewService 创建一个新的队列服务实例。
func NewService(rdb *redis.Client, cfg config.QueueConfig) *Service {
	block := time.Duration(cfg.BlockMs) * time.Millisecond
	if block <= 0 {
		block = 5 * time.Second
	}
	claimMinIdle := time.Duration(cfg.ClaimMinIdleMs) * time.Millisecond
	if claimMinIdle <= 0 {
		claimMinIdle = time.Minute
	}
	return &Service{
		rdb:          rdb,
		stream:       cfg.Stream,
		dlqStream:    cfg.DeadLetterStream,
		maxLen:       cfg.MaxLen,
		block:        block,
		claimMinIdle: claimMinIdle,
	}
}

// Enqueue 把一个上传任务追加到主流，返回消息 ID。
// MaxLen 裁剪是近似且尽力而为的，只关乎运维卫生，与正确性无关。
func (s *Service) Enqueue(ctx context.Context, uploadID uint, storageRef string) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"upload_id":   strconv.FormatUint(uint64(uploadID), 10),
			"storage_ref": storageRef,
			"enqueued_at": time.Now().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("XADD 失败: %w", err)
	}
	return id, nil
}

// InitializeConsumerGroup 创建消费者组（流不存在时一并创建）。
// 幂等：组已存在不是错误。
func (s *Service) InitializeConsumerGroup(ctx context.Context, group string) error {
	err := s.rdb.XGroupCreateMkStream(ctx, s.stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费者组失败: %w", err)
	}
	return nil
}

// Dequeue 为指定消费者取出一条消息；没有可用消息时返回 (nil, nil)。
// 优先认领组内闲置过久的 pending 消息（处理者崩溃后的重投递），
// 然后才读取新消息。
func (s *Service) Dequeue(ctx context.Context, group, consumer string) (*Message, error) {
	claimed, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  s.claimMinIdle,
		Start:    "0",
		Count:    1,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("XAUTOCLAIM 失败: %w", err)
	}
	if len(claimed) > 0 {
		log.Infof("[Queue] 认领到闲置的 pending 消息: %s", claimed[0].ID)
		msg, err := parseMessage(claimed[0])
		if err != nil {
			s.quarantine(ctx, group, claimed[0].ID, err)
			return nil, nil
		}
		return msg, nil
	}

	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{s.stream, ">"},
		Count:    1,
		Block:    s.block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 阻塞超时，无新消息
		}
		return nil, fmt.Errorf("XREADGROUP 失败: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	msg, err := parseMessage(streams[0].Messages[0])
	if err != nil {
		s.quarantine(ctx, group, streams[0].Messages[0].ID, err)
		return nil, nil
	}
	return msg, nil
}

// quarantine 把无法解析的消息移入死信流并确认，防止它永远留在 pending
// 列表里被反复认领。死信写入失败时保持消息未确认，下次认领重试隔离。
func (s *Service) quarantine(ctx context.Context, group, messageID string, cause error) {
	if err := s.MoveToDeadLetter(ctx, messageID, 0, fmt.Sprintf("消息解析失败: %v", cause), 0); err != nil {
		log.Error("[Queue] 隔离无法解析的消息失败", err)
		return
	}
	if err := s.Acknowledge(ctx, group, messageID); err != nil {
		log.Error("[Queue] 确认被隔离的消息失败", err)
		return
	}
	log.Warnf("[Queue] 无法解析的消息 %s 已移入死信流", messageID)
}

// Acknowledge 确认一条消息处理完成，将其移出 pending 列表。
func (s *Service) Acknowledge(ctx context.Context, group, messageID string) error {
	if err := s.rdb.XAck(ctx, s.stream, group, messageID).Err(); err != nil {
		return fmt.Errorf("XACK 失败: %w", err)
	}
	return nil
}

// MoveToDeadLetter 把一条耗尽重试额度的消息连同失败上下文追加到死信流。
// 本方法不确认原消息：调用方在死信写入成功之后再单独确认，
// 保证跨越这次移交依然是至少一次投递。
func (s *Service) MoveToDeadLetter(ctx context.Context, originalMessageID string, uploadID uint, reason string, retryCount int) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.dlqStream,
		Values: map[string]interface{}{
			"upload_id":           strconv.FormatUint(uint64(uploadID), 10),
			"original_message_id": originalMessageID,
			"failure_reason":      reason,
			"retry_count":         strconv.Itoa(retryCount),
			"failed_at":           time.Now().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("写入死信流失败: %w", err)
	}
	return nil
}

// Stats 汇总队列概览：流长度、未确认数、死信数与各消费者组状态。
func (s *Service) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats

	streamLen, err := s.rdb.XLen(ctx, s.stream).Result()
	if err != nil {
		return stats, fmt.Errorf("读取流长度失败: %w", err)
	}
	stats.StreamLength = streamLen

	dlqLen, err := s.rdb.XLen(ctx, s.dlqStream).Result()
	if err != nil && err != redis.Nil {
		return stats, fmt.Errorf("读取死信流长度失败: %w", err)
	}
	stats.DeadLettered = dlqLen

	groups, err := s.rdb.XInfoGroups(ctx, s.stream).Result()
	if err != nil {
		// 流尚不存在时没有组信息，不视为错误
		return stats, nil
	}
	for _, g := range groups {
		stats.Groups = append(stats.Groups, GroupStats{
			Name:      g.Name,
			Consumers: g.Consumers,
			Pending:   g.Pending,
		})
		stats.Pending += g.Pending
	}
	stats.Processed = stats.StreamLength - stats.Pending
	if stats.Processed < 0 {
		stats.Processed = 0
	}
	return stats, nil
}

// parseMessage 把 Redis Stream 的原始条目解析为 Message。
func parseMessage(m redis.XMessage) (*Message, error) {
	msg := &Message{ID: m.ID}

	rawID, _ := m.Values["upload_id"].(string)
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("消息 %s 的 upload_id 不合法: %w", m.ID, err)
	}
	msg.UploadID = uint(id)

	msg.StorageRef, _ = m.Values["storage_ref"].(string)

	if raw, ok := m.Values["enqueued_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			msg.EnqueuedAt = t
		}
	}
	return msg, nil
}
