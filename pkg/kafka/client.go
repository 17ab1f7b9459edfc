// Package kafka 提供了与 Kafka 消息队列交互的功能（处理完成事件的发布）。
package kafka

import (
	"context"
	"encoding/json"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/pkg/events"
	"txn-ingest-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceUploadEvent 发布一条上传处理完成事件。
// 事件是通知性质的，发布失败只记录日志，由调用方决定是否忽略。
func ProduceUploadEvent(ctx context.Context, evt events.UploadProcessedEvent) error {
	evtBytes, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	return producer.WriteMessages(ctx, kafka.Message{
		Value: evtBytes,
	})
}

// Close 关闭生产者连接。
func Close() {
	if producer != nil {
		_ = producer.Close()
	}
}

// Publisher 以接口形式暴露事件发布能力（pipeline.EventPublisher 的 Kafka 实现）。
type Publisher struct{}

// PublishUploadEvent 实现管道的事件发布端口。
func (Publisher) PublishUploadEvent(ctx context.Context, evt events.UploadProcessedEvent) error {
	return ProduceUploadEvent(ctx, evt)
}
