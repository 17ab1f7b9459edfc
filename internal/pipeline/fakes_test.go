package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/repository"

	"gorm.io/gorm"
)

// fakeTxnRepo 用内存 map 模拟唯一约束仲裁下的交易持久化。
type fakeTxnRepo struct {
	mu     sync.Mutex
	txns   map[string]*model.Transaction
	hashes map[string]uint

	// failuresLeft 使接下来的 N 次插入返回瞬时错误
	failuresLeft int
	failAlways   bool
	insertCalls  int
	hashLookups  int
}

func newFakeTxnRepo() *fakeTxnRepo {
	return &fakeTxnRepo{
		txns:   make(map[string]*model.Transaction),
		hashes: make(map[string]uint),
	}
}

func (f *fakeTxnRepo) InsertLineUniquely(_ context.Context, txn *model.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++

	if f.failAlways {
		return errors.New("db timeout")
	}
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return errors.New("db timeout")
	}
	if _, ok := f.txns[txn.IdempotencyKey]; ok {
		return repository.ErrDuplicate
	}
	f.txns[txn.IdempotencyKey] = txn
	return nil
}

func (f *fakeTxnRepo) RecordLineHash(_ context.Context, hash string, uploadID uint, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.hashes[hash]; ok {
		return repository.ErrDuplicate
	}
	f.hashes[hash] = uploadID
	return nil
}

func (f *fakeTxnRepo) LineHashExists(_ context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashLookups++
	_, ok := f.hashes[hash]
	return ok, nil
}

func (f *fakeTxnRepo) CountByUpload(uploadID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, txn := range f.txns {
		if txn.UploadID == uploadID {
			n++
		}
	}
	return n, nil
}

func (f *fakeTxnRepo) GetByIdempotencyKey(key string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if txn, ok := f.txns[key]; ok {
		return txn, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// fakeUploadRepo 用内存 map 模拟上传记录的持久化。
type fakeUploadRepo struct {
	mu      sync.Mutex
	nextID  uint
	uploads map[uint]*model.Upload

	checkpointSaves int
	completions     []completion
}

type completion struct {
	status    int
	processed int64
	failed    int64
	skipped   int64
	errMsg    string
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{nextID: 1, uploads: make(map[uint]*model.Upload)}
}

func (f *fakeUploadRepo) Create(upload *model.Upload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	upload.ID = f.nextID
	f.nextID++
	if upload.CheckpointLine == 0 {
		upload.CheckpointLine = -1
	}
	cp := *upload
	f.uploads[upload.ID] = &cp
	return nil
}

func (f *fakeUploadRepo) GetByID(id uint) (*model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.uploads[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUploadRepo) GetByFileHash(fileHash string) (*model.Upload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.uploads {
		if u.FileHash == fileHash {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUploadRepo) UpdateStatus(id uint, status int, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.uploads[id]; ok {
		u.Status = status
		u.ErrorMessage = errorMessage
	}
	return nil
}

func (f *fakeUploadRepo) UpdateStorageReference(id uint, storageRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.uploads[id]; ok {
		u.StorageReference = storageRef
	}
	return nil
}

func (f *fakeUploadRepo) MarkCompleted(id uint, status int, processed, failed, skipped int64, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.uploads[id]; ok {
		u.Status = status
		u.ProcessedLines = processed
		u.FailedLines = failed
		u.SkippedLines = skipped
		u.ErrorMessage = errorMessage
	}
	f.completions = append(f.completions, completion{status, processed, failed, skipped, errorMessage})
	return nil
}

func (f *fakeUploadRepo) SaveCheckpoint(_ context.Context, id uint, lastLine, processed, failed, skipped int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpointSaves++
	if u, ok := f.uploads[id]; ok {
		u.CheckpointLine = lastLine
		u.ProcessedLines = processed
		u.FailedLines = failed
		u.SkippedLines = skipped
	}
	return nil
}

// newTestUpload 创建一条处于 Pending 状态、尚无检查点的上传记录。
func newTestUpload(t *testing.T, repo *fakeUploadRepo, fileHash string) *model.Upload {
	t.Helper()
	upload := &model.Upload{
		FileHash:       fileHash,
		FileName:       "cnab.txt",
		CheckpointLine: -1,
		Status:         model.UploadStatusPending,
	}
	if err := repo.Create(upload); err != nil {
		t.Fatalf("创建测试上传记录失败: %v", err)
	}
	return upload
}

func (f *fakeUploadRepo) IncrementRetryCount(id uint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.uploads[id]; ok {
		u.RetryCount++
		return u.RetryCount, nil
	}
	return 0, gorm.ErrRecordNotFound
}
