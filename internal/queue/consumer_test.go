package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/pipeline"
	"txn-ingest-go/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const cnabLine = "3201903010000014200096206760174753****3153153453JOÃO MACEDO   BAR DO JOÃO"

// fakeBroker 按先后顺序记录对队列的每一次操作。
type fakeBroker struct {
	ops    []string
	dlqErr error
}

func (f *fakeBroker) InitializeConsumerGroup(context.Context, string) error {
	f.ops = append(f.ops, "init")
	return nil
}

func (f *fakeBroker) Dequeue(context.Context, string, string) (*Message, error) {
	return nil, nil
}

func (f *fakeBroker) Acknowledge(_ context.Context, _ string, messageID string) error {
	f.ops = append(f.ops, "ack:"+messageID)
	return nil
}

func (f *fakeBroker) MoveToDeadLetter(_ context.Context, messageID string, _ uint, _ string, _ int) error {
	if f.dlqErr != nil {
		return f.dlqErr
	}
	f.ops = append(f.ops, "dlq:"+messageID)
	return nil
}

// stubUploadRepo 是 repository.UploadRepository 的最小内存实现。
type stubUploadRepo struct {
	uploads map[uint]*model.Upload
	getErr  error // 非空时 GetByID 返回该错误（模拟瞬时数据库故障）
}

func newStubUploadRepo(uploads ...*model.Upload) *stubUploadRepo {
	r := &stubUploadRepo{uploads: make(map[uint]*model.Upload)}
	for _, u := range uploads {
		r.uploads[u.ID] = u
	}
	return r
}

func (r *stubUploadRepo) Create(upload *model.Upload) error {
	r.uploads[upload.ID] = upload
	return nil
}

func (r *stubUploadRepo) GetByID(id uint) (*model.Upload, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	if u, ok := r.uploads[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUploadRepo) GetByFileHash(fileHash string) (*model.Upload, error) {
	for _, u := range r.uploads {
		if u.FileHash == fileHash {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *stubUploadRepo) UpdateStatus(id uint, status int, errorMessage string) error {
	if u, ok := r.uploads[id]; ok {
		u.Status = status
		u.ErrorMessage = errorMessage
	}
	return nil
}

func (r *stubUploadRepo) UpdateStorageReference(id uint, ref string) error {
	if u, ok := r.uploads[id]; ok {
		u.StorageReference = ref
	}
	return nil
}

func (r *stubUploadRepo) MarkCompleted(id uint, status int, processed, failed, skipped int64, errorMessage string) error {
	if u, ok := r.uploads[id]; ok {
		u.Status = status
		u.ProcessedLines = processed
		u.FailedLines = failed
		u.SkippedLines = skipped
		u.ErrorMessage = errorMessage
	}
	return nil
}

func (r *stubUploadRepo) SaveCheckpoint(_ context.Context, id uint, lastLine, processed, failed, skipped int64) error {
	if u, ok := r.uploads[id]; ok {
		u.CheckpointLine = lastLine
		u.ProcessedLines = processed
		u.FailedLines = failed
		u.SkippedLines = skipped
	}
	return nil
}

func (r *stubUploadRepo) IncrementRetryCount(id uint) (int, error) {
	if u, ok := r.uploads[id]; ok {
		u.RetryCount++
		return u.RetryCount, nil
	}
	return 0, gorm.ErrRecordNotFound
}

// stubTxnRepo 是 repository.TransactionRepository 的最小内存实现。
type stubTxnRepo struct {
	txns   map[string]*model.Transaction
	hashes map[string]bool
}

func newStubTxnRepo() *stubTxnRepo {
	return &stubTxnRepo{txns: make(map[string]*model.Transaction), hashes: make(map[string]bool)}
}

func (r *stubTxnRepo) InsertLineUniquely(_ context.Context, txn *model.Transaction) error {
	if _, ok := r.txns[txn.IdempotencyKey]; ok {
		return repository.ErrDuplicate
	}
	r.txns[txn.IdempotencyKey] = txn
	return nil
}

func (r *stubTxnRepo) RecordLineHash(_ context.Context, hash string, _ uint, _ int64) error {
	r.hashes[hash] = true
	return nil
}

func (r *stubTxnRepo) LineHashExists(_ context.Context, hash string) (bool, error) {
	return r.hashes[hash], nil
}

func (r *stubTxnRepo) CountByUpload(uint) (int64, error) {
	return int64(len(r.txns)), nil
}

func (r *stubTxnRepo) GetByIdempotencyKey(key string) (*model.Transaction, error) {
	if txn, ok := r.txns[key]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func newTestConsumer(t *testing.T, broker Broker, uploadRepo repository.UploadRepository, fetch FileFetcher, maxDeliveries int) *Consumer {
	t.Helper()
	ckpt, err := pipeline.NewCheckpointManager(uploadRepo, 100)
	require.NoError(t, err)
	lineProc := pipeline.NewLineProcessor(newStubTxnRepo(), nil, 2, time.Millisecond)
	fileProc := pipeline.NewFileProcessor(lineProc, ckpt, nil, 1)
	return NewConsumer(broker, fileProc, uploadRepo, fetch, nil, nil, "upload-workers", "worker-test", maxDeliveries)
}

func TestConsumerHandleSuccess(t *testing.T) {
	broker := &fakeBroker{}
	upload := &model.Upload{ID: 1, FileHash: "filehash", CheckpointLine: -1, StorageReference: "uploads/filehash"}
	repo := newStubUploadRepo(upload)

	var fetched []string
	fetch := func(_ context.Context, ref string) ([]byte, error) {
		fetched = append(fetched, ref)
		return []byte(cnabLine), nil
	}

	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(context.Background(), &Message{ID: "1-0", UploadID: 1, StorageRef: "uploads/filehash"})

	assert.Equal(t, []string{"uploads/filehash"}, fetched)
	assert.Equal(t, []string{"ack:1-0"}, broker.ops, "成功路径只确认，不碰死信流")

	saved, err := repo.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, model.UploadStatusSuccess, saved.Status)
	assert.Equal(t, int64(1), saved.ProcessedLines)
}

func TestConsumerHandleDuplicateDelivery(t *testing.T) {
	broker := &fakeBroker{}
	upload := &model.Upload{ID: 1, Status: model.UploadStatusSuccess, ProcessedLines: 1}
	repo := newStubUploadRepo(upload)

	fetch := func(context.Context, string) ([]byte, error) {
		t.Fatal("已完成的上传不应再取回文件")
		return nil, nil
	}

	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(context.Background(), &Message{ID: "1-0", UploadID: 1})

	// 至少一次投递下的重复消息：确认即可，零副作用
	assert.Equal(t, []string{"ack:1-0"}, broker.ops)
	assert.Equal(t, int64(1), repo.uploads[1].ProcessedLines)
}

func TestConsumerRetryBudgetThenDeadLetter(t *testing.T) {
	broker := &fakeBroker{}
	upload := &model.Upload{ID: 1, FileHash: "filehash", CheckpointLine: -1}
	repo := newStubUploadRepo(upload)

	fetch := func(context.Context, string) ([]byte, error) {
		return nil, errors.New("object storage unavailable")
	}

	c := newTestConsumer(t, broker, repo, fetch, 3)
	msg := &Message{ID: "1-0", UploadID: 1, StorageRef: "uploads/filehash"}

	// 前两次失败：额度未耗尽，消息保持未确认，等待重投递
	c.handle(context.Background(), msg)
	c.handle(context.Background(), msg)
	assert.Empty(t, broker.ops)
	assert.Equal(t, 2, repo.uploads[1].RetryCount)

	// 第三次失败：先写死信流，再确认原消息
	c.handle(context.Background(), msg)
	assert.Equal(t, []string{"dlq:1-0", "ack:1-0"}, broker.ops, "死信写入必须先于确认")
	assert.Equal(t, model.UploadStatusFailed, repo.uploads[1].Status)
}

func TestConsumerDeadLetterWriteFailureKeepsMessageUnacked(t *testing.T) {
	broker := &fakeBroker{dlqErr: errors.New("redis unavailable")}
	upload := &model.Upload{ID: 1, FileHash: "filehash", CheckpointLine: -1, RetryCount: 2}
	repo := newStubUploadRepo(upload)

	fetch := func(context.Context, string) ([]byte, error) {
		return nil, errors.New("object storage unavailable")
	}

	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(context.Background(), &Message{ID: "1-0", UploadID: 1, StorageRef: "uploads/filehash"})

	// 死信写入失败时绝不确认：宁可重复处理，不能无声丢失
	assert.Empty(t, broker.ops)
}

func TestConsumerCancellationLeavesMessageUnacked(t *testing.T) {
	broker := &fakeBroker{}
	upload := &model.Upload{ID: 1, FileHash: "filehash", CheckpointLine: -1}
	repo := newStubUploadRepo(upload)

	fetch := func(context.Context, string) ([]byte, error) {
		return []byte(cnabLine), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(ctx, &Message{ID: "1-0", UploadID: 1, StorageRef: "uploads/filehash"})

	// 取消不是失败：既不确认也不递增重试计数，重启后从检查点继续
	assert.Empty(t, broker.ops)
	assert.Zero(t, repo.uploads[1].RetryCount)
}

func TestParseMessage(t *testing.T) {
	enqueuedAt := time.Now().UTC().Truncate(time.Millisecond)

	msg, err := parseMessage(redis.XMessage{
		ID: "5-1",
		Values: map[string]interface{}{
			"upload_id":   "42",
			"storage_ref": "uploads/abc",
			"enqueued_at": enqueuedAt.Format(time.RFC3339Nano),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "5-1", msg.ID)
	assert.Equal(t, uint(42), msg.UploadID)
	assert.Equal(t, "uploads/abc", msg.StorageRef)
	assert.True(t, msg.EnqueuedAt.Equal(enqueuedAt))

	_, err = parseMessage(redis.XMessage{ID: "5-2", Values: map[string]interface{}{"upload_id": "not-a-number"}})
	assert.Error(t, err)
}

func TestConsumerMissingUploadIsDeadLettered(t *testing.T) {
	broker := &fakeBroker{}
	repo := newStubUploadRepo()

	fetch := func(context.Context, string) ([]byte, error) {
		t.Fatal("上传记录缺失时不应取回文件")
		return nil, nil
	}

	// 上传记录不存在是毒消息：重投递无意义，首次投递就进入死信流，
	// 不管重试额度还剩多少
	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(context.Background(), &Message{ID: "1-0", UploadID: 404})

	assert.Equal(t, []string{"dlq:1-0", "ack:1-0"}, broker.ops, "死信写入必须先于确认")
}

func TestConsumerTransientLoadErrorLeavesMessageUnacked(t *testing.T) {
	broker := &fakeBroker{}
	repo := newStubUploadRepo(&model.Upload{ID: 1, FileHash: "filehash", CheckpointLine: -1})
	repo.getErr = errors.New("db connection reset")

	fetch := func(context.Context, string) ([]byte, error) {
		t.Fatal("加载上传记录失败时不应取回文件")
		return nil, nil
	}

	c := newTestConsumer(t, broker, repo, fetch, 3)
	c.handle(context.Background(), &Message{ID: "1-0", UploadID: 1})

	// 瞬时数据库故障不烧重试额度也不死信：保持未确认，等待重投递
	assert.Empty(t, broker.ops)
	assert.Zero(t, repo.uploads[1].RetryCount)
}
