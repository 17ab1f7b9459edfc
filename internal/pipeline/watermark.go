package pipeline

import "sync"

// progress 是连续完成段的快照：最高行号与该段（含恢复前进度）的各状态计数。
type progress struct {
	line      int64
	processed int64
	failed    int64
	skipped   int64
}

func (p progress) total() int64 {
	return p.processed + p.failed + p.skipped
}

// watermark 跟踪"已知完全刷盘的最高行号"及其前缀计数。
// 工作协程可以乱序完成，检查点记录的 lastLine 必须是连续完成段的
// 上界，而不是最近完成的那一行，否则恢复时会漏行。计数器同样只统计
// 连续段内的行：持久化的计数必须与 lastLine 一致，恢复时才不会把
// 检查点之后的行重复计入。
type watermark struct {
	mu   sync.Mutex
	next int64
	done map[int64]LineStatus

	processed int64
	failed    int64
	skipped   int64
}

// newWatermark 从恢复点开始跟踪，携带检查点持久化的前段计数。
func newWatermark(start, processed, failed, skipped int64) *watermark {
	return &watermark{
		next:      start,
		done:      make(map[int64]LineStatus),
		processed: processed,
		failed:    failed,
		skipped:   skipped,
	}
}

// Mark 标记某行以指定状态完成，并返回当前连续完成段的快照。
func (w *watermark) Mark(index int64, status LineStatus) progress {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done[index] = status
	for {
		st, ok := w.done[w.next]
		if !ok {
			break
		}
		delete(w.done, w.next)
		switch st {
		case LineSuccess:
			w.processed++
		case LineSkipped:
			w.skipped++
		case LineFailed:
			w.failed++
		}
		w.next++
	}
	return w.snapshotLocked()
}

// Snapshot 返回当前连续完成段的快照。
func (w *watermark) Snapshot() progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *watermark) snapshotLocked() progress {
	return progress{
		line:      w.next - 1,
		processed: w.processed,
		failed:    w.failed,
		skipped:   w.skipped,
	}
}
