// Package metrics 提供基于 Prometheus 的管道指标实现。
// 管道核心只依赖观测接口，本包是默认的生产实现。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusObserver 实现 pipeline.Observer，把计数写入 Prometheus 注册表。
type PrometheusObserver struct {
	linesProcessed prometheus.Counter
	linesFailed    prometheus.Counter
	linesSkipped   prometheus.Counter
	deadLettered   prometheus.Counter
	uploadDuration prometheus.Histogram
}

// NewPrometheusObserver 创建并注册所有管道指标。
func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{
		linesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_lines_processed_total",
			Help: "成功持久化的交易行数",
		}),
		linesFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_lines_failed_total",
			Help: "处理失败的交易行数",
		}),
		linesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_lines_skipped_total",
			Help: "因重复被跳过的交易行数",
		}),
		deadLettered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ingest_messages_dead_lettered_total",
			Help: "进入死信流的队列消息数",
		}),
		uploadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_upload_duration_seconds",
			Help:    "单个上传文件的处理耗时",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func (o *PrometheusObserver) LineProcessed() { o.linesProcessed.Inc() }

func (o *PrometheusObserver) LineFailed() { o.linesFailed.Inc() }

func (o *PrometheusObserver) LineSkipped() { o.linesSkipped.Inc() }

func (o *PrometheusObserver) MessageDeadLettered() { o.deadLettered.Inc() }

func (o *PrometheusObserver) UploadDuration(seconds float64) { o.uploadDuration.Observe(seconds) }
