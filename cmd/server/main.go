// Package main 是接入服务的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txn-ingest-go/internal/config"
	"txn-ingest-go/internal/handler"
	"txn-ingest-go/internal/middleware"
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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与外部服务
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

	// 4. 初始化 Repository
	uploadRepo := repository.NewUploadRepository(database.DB)
	txnRepo := repository.NewTransactionRepository(database.DB)

	// 5. 初始化管道组件（依赖注入）
	observer := metrics.NewPrometheusObserver()
	publisher := kafka.Publisher{}
	indexer := service.EsIndexer{IndexName: cfg.Elasticsearch.IndexName}

	lineProc := pipeline.NewLineProcessor(txnRepo, indexer, cfg.Pipeline.MaxRetries,
		time.Duration(cfg.Pipeline.RetryDelayMs)*time.Millisecond)
	ckpt, err := pipeline.NewCheckpointManager(uploadRepo, cfg.Pipeline.CheckpointInterval)
	if err != nil {
		log.Fatal("检查点管理器初始化失败", err)
	}
	fileProc := pipeline.NewFileProcessor(lineProc, ckpt, observer, cfg.Pipeline.Workers)

	queueService := queue.NewService(database.RDB, cfg.Queue)

	// 6. 按部署模式选择处理策略
	var strategy pipeline.ProcessingStrategy
	asyncMode := cfg.Pipeline.Mode == "async"
	if asyncMode {
		strategy = pipeline.NewAsyncStrategy(queueService, uploadRepo)
		log.Info("上传处理策略: 异步（投递到队列）")
	} else {
		strategy = pipeline.NewSyncStrategy(fileProc, uploadRepo, observer, publisher)
		log.Info("上传处理策略: 同步")
	}

	uploadService := service.NewUploadService(uploadRepo, strategy, cfg.MinIO, asyncMode)
	searchService := service.NewSearchService(cfg.Elasticsearch)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		uploads := apiV1.Group("/uploads")
		{
			uploads.POST("", handler.NewUploadHandler(uploadService).SubmitUpload)
			uploads.GET("/:id", handler.NewUploadHandler(uploadService).GetUploadStatus)
		}

		admin := handler.NewAdminHandler(queueService, searchService)
		apiV1.GET("/queue/stats", admin.GetQueueStats)
		apiV1.GET("/transactions/search", admin.SearchTransactions)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
