package pipeline

// Observer 是管道的观测端口。核心代码只依赖这个接口，
// 生产环境注入 Prometheus 实现，测试注入 NoopObserver。
type Observer interface {
	LineProcessed()
	LineFailed()
	LineSkipped()
	MessageDeadLettered()
	UploadDuration(seconds float64)
}

// NoopObserver 是 Observer 的空实现。
type NoopObserver struct{}

func (NoopObserver) LineProcessed() {}

func (NoopObserver) LineFailed() {}

func (NoopObserver) LineSkipped() {}

func (NoopObserver) MessageDeadLettered() {}

func (NoopObserver) UploadDuration(float64) {}
