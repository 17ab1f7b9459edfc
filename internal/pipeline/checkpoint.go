package pipeline

import (
	"context"
	"fmt"

	"txn-ingest-go/internal/repository"
	"txn-ingest-go/pkg/log"
)

// CheckpointManager 周期性地持久化处理进度，使崩溃或重启后的 worker
// 能从 lastLine+1 恢复，而不是重新处理整个文件。
type CheckpointManager struct {
	uploadRepo repository.UploadRepository
	interval   int64
}

// NewCheckpointManager 创建一个新的 CheckpointManager 实例。
// interval 必须是正整数：零或负值是调用方的输入错误，在这里拒绝，
// 而不是留到取模运算时崩溃。
func NewCheckpointManager(uploadRepo repository.UploadRepository, interval int) (*CheckpointManager, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("检查点间隔必须为正整数，实际为 %d", interval)
	}
	return &CheckpointManager{uploadRepo: uploadRepo, interval: int64(interval)}, nil
}

// ShouldCheckpoint 判断当前是否应该保存检查点：
// 当且仅当 totalProcessed > 0 且是间隔的整数倍。
func (m *CheckpointManager) ShouldCheckpoint(totalProcessed int64) bool {
	return totalProcessed > 0 && totalProcessed%m.interval == 0
}

// SaveCheckpoint 持久化进度计数与当前行位置。
// 显式地尽力而为：任何失败（包括取消）都被吞掉并记录日志。
// 丢一个检查点只意味着恢复时多做一些幂等的重复处理，绝不能让它
// 中断或污染主处理循环。
func (m *CheckpointManager) SaveCheckpoint(ctx context.Context, uploadID uint, lastLine, processed, failed, skipped int64) {
	if err := m.uploadRepo.SaveCheckpoint(ctx, uploadID, lastLine, processed, failed, skipped); err != nil {
		log.Warnf("[Checkpoint] 保存检查点失败（已忽略）, upload=%d, lastLine=%d, error: %v", uploadID, lastLine, err)
		return
	}
	log.Infof("[Checkpoint] 已保存检查点, upload=%d, lastLine=%d, processed=%d, failed=%d, skipped=%d",
		uploadID, lastLine, processed, failed, skipped)
}
