package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileProcessor(t *testing.T, txnRepo *fakeTxnRepo, uploadRepo *fakeUploadRepo, interval, workers int) *FileProcessor {
	t.Helper()
	ckpt, err := NewCheckpointManager(uploadRepo, interval)
	require.NoError(t, err)
	lineProc := NewLineProcessor(txnRepo, nil, 3, time.Millisecond)
	return NewFileProcessor(lineProc, ckpt, nil, workers)
}

func TestFileProcessorRun(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	content := strings.Join([]string{
		cnabLineWith("1", "0000010000"),
		cnabLineWith("2", "0000020000"),
		"not a valid cnab line",
		cnabLineWith("3", "0000030000"),
	}, "\n")

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 2, 1)

	summary, err := proc.Run(context.Background(), upload, content)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.Processed)
	assert.Equal(t, int64(1), summary.Failed)
	assert.Zero(t, summary.Skipped)
	assert.Zero(t, summary.InfraFailures, "解析失败不计入基础设施故障")
	assert.NotEmpty(t, summary.FirstDiagnostic)
	assert.Len(t, txnRepo.txns, 3)
}

func TestFileProcessorCheckpointsAtInterval(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	lines := make([]string, 0, 6)
	amounts := []string{"0000010000", "0000020000", "0000030000", "0000040000", "0000050000", "0000060000"}
	for _, a := range amounts {
		lines = append(lines, cnabLineWith("1", a))
	}

	// 单工作协程 + 间隔 2：第 2、4、6 行完成时各保存一次
	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 2, 1)

	_, err := proc.Run(context.Background(), upload, strings.Join(lines, "\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, uploadRepo.checkpointSaves)

	saved, err := uploadRepo.GetByID(upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), saved.CheckpointLine)
	assert.Equal(t, int64(6), saved.ProcessedLines)
}

func TestFileProcessorResumesFromCheckpoint(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	// 模拟崩溃前的进度：前 3 行（0..2）已处理
	upload.CheckpointLine = 2
	upload.ProcessedLines = 3

	content := strings.Join([]string{
		cnabLineWith("1", "0000010000"),
		cnabLineWith("1", "0000020000"),
		cnabLineWith("1", "0000030000"),
		cnabLineWith("1", "0000040000"),
		cnabLineWith("1", "0000050000"),
	}, "\n")

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 100, 1)

	summary, err := proc.Run(context.Background(), upload, content)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Processed, "恢复后的计数应包含检查点携带的进度")
	assert.Len(t, txnRepo.txns, 2, "只处理检查点之后的行")
}

func TestFileProcessorCancellationSavesProgress(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 100, 2)

	_, err := proc.Run(ctx, upload, cnabLineWith("1", "0000010000"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, uploadRepo.checkpointSaves, "取消时应尽力保存一份进度")
}

func TestFileProcessorResubmissionDoesNotInflateCounters(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	content := cnabLineWith("1", "0000010000") + "\n" + "not a valid cnab line"

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 100, 1)

	first, err := proc.Run(context.Background(), upload, content)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Processed)
	assert.Equal(t, int64(1), first.Failed)

	// 终态检查点使 checkpoint_line 与计数一致
	saved, err := uploadRepo.GetByID(upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.CheckpointLine)
	assert.Equal(t, int64(1), saved.FailedLines)

	// 重新提交：从持久化的记录恢复，所有行都在检查点之前，计数保持不变
	second, err := proc.Run(context.Background(), saved, content)
	require.NoError(t, err)
	assert.Equal(t, int64(1), second.Processed, "重新提交不应重复累计成功数")
	assert.Equal(t, int64(1), second.Failed, "重新提交不应重复累计失败数")
	assert.Len(t, txnRepo.txns, 1)
}

func TestFileProcessorCheckpointCountsMatchWatermark(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	// 单工作协程 + 间隔 2：第一次保存发生在第 2 行完成时
	content := strings.Join([]string{
		cnabLineWith("1", "0000010000"),
		"not a valid cnab line",
		cnabLineWith("1", "0000030000"),
	}, "\n")

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 2, 1)

	_, err := proc.Run(context.Background(), upload, content)
	require.NoError(t, err)

	// 持久化的计数只覆盖 checkpoint_line 之前（含）的行
	saved, err := uploadRepo.GetByID(upload.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.CheckpointLine)
	assert.Equal(t, int64(2), saved.ProcessedLines)
	assert.Equal(t, int64(1), saved.FailedLines)
	assert.Equal(t, saved.ProcessedLines+saved.FailedLines+saved.SkippedLines, saved.CheckpointLine+1)
}

func TestFileProcessorConcurrentWorkers(t *testing.T) {
	txnRepo := newFakeTxnRepo()
	uploadRepo := newFakeUploadRepo()
	upload := newTestUpload(t, uploadRepo, "filehash")

	lines := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		amount := []byte("0000000000")
		amount[4+i/10] = byte('1' + i%10/2)
		amount[9] = byte('0' + i%10)
		lines = append(lines, cnabLineWith("1", string(amount)))
	}

	proc := newTestFileProcessor(t, txnRepo, uploadRepo, 10, 4)

	summary, err := proc.Run(context.Background(), upload, strings.Join(lines, "\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(40), summary.Processed)
	assert.Zero(t, summary.Failed)
	assert.Len(t, txnRepo.txns, 40)
}
