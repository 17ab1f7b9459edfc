// Package main 是队列消费者（worker）的入口点。
// 它从 Redis Stream 取出上传任务，复用与同步策略相同的行级管道进行处理。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/internal/model"
	"txn-ingest-go/internal/pipeline"
	"txn-ingest-go/internal/queue"
	"txn-ingest-go/internal/repository"
	"txn-ingest-go/internal/service"
	"txn-ingest-go/pkg/database"
	"txn-ingest-go/pkg/es"
	"txn-ingest-go/pkg/kafka"
	"txn-ingest-go/pkg/log"
	"txn-ingest-go/pkg/metrics"
	"txn-ingest-go/pkg/storage"
)

func main() {
	// 1. 初始化配置与日志
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("worker 日志记录器初始化成功")

	// 2. 初始化基础设施
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Upload{}, &model.Transaction{}, &model.LineHash{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)
	defer kafka.Close()

	// 3. 组装管道
	uploadRepo := repository.NewUploadRepository(database.DB)
	txnRepo := repository.NewTransactionRepository(database.DB)
	observer := metrics.NewPrometheusObserver()
	indexer := service.EsIndexer{IndexName: cfg.Elasticsearch.IndexName}

	lineProc := pipeline.NewLineProcessor(txnRepo, indexer, cfg.Pipeline.MaxRetries,
		time.Duration(cfg.Pipeline.RetryDelayMs)*time.Millisecond)
	ckpt, err := pipeline.NewCheckpointManager(uploadRepo, cfg.Pipeline.CheckpointInterval)
	if err != nil {
		log.Fatal("检查点管理器初始化失败", err)
	}
	fileProc := pipeline.NewFileProcessor(lineProc, ckpt, observer, cfg.Pipeline.Workers)

	queueService := queue.NewService(database.RDB, cfg.Queue)

	hostname, _ := os.Hostname()
	consumerID := fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())

	fetch := func(ctx context.Context, storageRef string) ([]byte, error) {
		return storage.GetRawFile(ctx, cfg.MinIO.BucketName, storageRef)
	}

	consumer := queue.NewConsumer(queueService, fileProc, uploadRepo, fetch,
		observer, kafka.Publisher{}, cfg.Queue.ConsumerGroup, consumerID, cfg.Queue.MaxDeliveries)

	// 4. 运行消费循环，收到停机信号后取消
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("接收到停机信号，正在停止消费...")
		cancel()
	}()

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("消费循环异常退出", err)
	}
	log.Info("worker 已优雅关闭")
}
