package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/parser"
	"txn-ingest-go/pkg/log"
)

// Summary 汇总一次文件处理的行级结果（含恢复前已持久化的进度）。
type Summary struct {
	Processed int64
	Failed    int64
	Skipped   int64
	// InfraFailures 统计因基础设施故障（重试耗尽）而失败的行数，
	// 区别于文件内容本身的解析失败
	InfraFailures   int64
	FirstDiagnostic string
}

// FileProcessor 把一个文件的所有行驱动过 LineProcessor，
// 由同步策略和队列消费者共享。
type FileProcessor struct {
	lineProc *LineProcessor
	ckpt     *CheckpointManager
	observer Observer
	workers  int
}

// NewFileProcessor 创建一个新的 FileProcessor 实例。
func NewFileProcessor(lineProc *LineProcessor, ckpt *CheckpointManager, observer Observer, workers int) *FileProcessor {
	if workers < 1 {
		workers = 1
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &FileProcessor{lineProc: lineProc, ckpt: ckpt, observer: observer, workers: workers}
}

// Run 在有界工作池上处理 upload 的所有行，从上次检查点之后恢复。
// 行与行之间没有顺序保证：每行独立且幂等，工作协程可以乱序完成。
// 所有持久化的计数（检查点与终态）都与 checkpoint_line 保持一致：
// 只统计连续完成段内的行，恢复时检查点之后的行不会被重复计入。
// 返回的 error 仅在取消时非 nil。
func (p *FileProcessor) Run(ctx context.Context, upload *model.Upload, content string) (Summary, error) {
	lines := parser.SplitLines(content)
	start := upload.CheckpointLine + 1
	if start > int64(len(lines)) {
		start = int64(len(lines))
	}

	// 检查点持久化的计数只覆盖 CheckpointLine 之前的行，
	// 因此可以安全地作为恢复的起始值，不会与本次处理的行重叠
	var processed, failed, skipped, infraFailed atomic.Int64
	processed.Store(upload.ProcessedLines)
	failed.Store(upload.FailedLines)
	skipped.Store(upload.SkippedLines)

	var firstDiag atomic.Value

	if start > 0 {
		log.Infof("[FileProcessor] 从检查点恢复, upload=%d, startLine=%d", upload.ID, start)
	}

	var next atomic.Int64
	next.Store(start)
	wm := newWatermark(start, upload.ProcessedLines, upload.FailedLines, upload.SkippedLines)

	// 一次只允许一个检查点写入在途，并发到达的保存请求直接放弃而不是排队；
	// lastSaved 由同一把锁保护
	var ckptMu sync.Mutex
	lastSaved := start - 1

	var cancelOnce sync.Once
	var cancelErr error

	var wg sync.WaitGroup
	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					cancelOnce.Do(func() { cancelErr = ctx.Err() })
					return
				}

				i := next.Add(1) - 1
				if i >= int64(len(lines)) {
					return
				}

				res, err := p.lineProc.ProcessLine(ctx, lines[i], i, upload.ID, upload.FileHash)
				if err != nil {
					// 取消：立刻停止，不再认领新行
					cancelOnce.Do(func() { cancelErr = err })
					return
				}

				switch res.Status {
				case LineSuccess:
					processed.Add(1)
					p.observer.LineProcessed()
				case LineSkipped:
					skipped.Add(1)
					p.observer.LineSkipped()
				case LineFailed:
					failed.Add(1)
					if res.Transient {
						infraFailed.Add(1)
					}
					firstDiag.CompareAndSwap(nil, res.Diagnostic)
					p.observer.LineFailed()
				}

				prog := wm.Mark(i, res.Status)
				if p.ckpt.ShouldCheckpoint(prog.total()) && ckptMu.TryLock() {
					if prog.line > lastSaved {
						p.ckpt.SaveCheckpoint(ctx, upload.ID, prog.line, prog.processed, prog.failed, prog.skipped)
						lastSaved = prog.line
					}
					ckptMu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	summary := Summary{
		Processed:     processed.Load(),
		Failed:        failed.Load(),
		Skipped:       skipped.Load(),
		InfraFailures: infraFailed.Load(),
	}
	if d, ok := firstDiag.Load().(string); ok {
		summary.FirstDiagnostic = d
	}

	prog := wm.Snapshot()
	if cancelErr != nil {
		// 被取消时保留一份进度，下次从这里恢复（尽力而为）
		p.ckpt.SaveCheckpoint(context.Background(), upload.ID, prog.line, prog.processed, prog.failed, prog.skipped)
		return summary, cancelErr
	}

	// 终态检查点：让 checkpoint_line 与最终计数保持一致，
	// 失败文件重新提交时从文件末尾之前的正确位置恢复，计数不会翻倍
	if prog.line > lastSaved {
		p.ckpt.SaveCheckpoint(ctx, upload.ID, prog.line, prog.processed, prog.failed, prog.skipped)
	}
	return summary, nil
}
