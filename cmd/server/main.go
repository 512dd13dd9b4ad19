// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"rag-api-go/internal/config"
	"rag-api-go/internal/handler"
	"rag-api-go/internal/middleware"
	"rag-api-go/internal/pipeline"
	"rag-api-go/internal/service"
	"rag-api-go/pkg/database"
	"rag-api-go/pkg/embedding"
	"rag-api-go/pkg/es"
	"rag-api-go/pkg/llm"
	"rag-api-go/pkg/log"
	"rag-api-go/pkg/tika"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// 1. 加载 .env（可选）并初始化配置
	_ = godotenv.Load()
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 校验必填凭证，缺失则拒绝启动
	if err := cfg.Validate(); err != nil {
		log.Fatal("配置校验失败", err)
	}

	// 4. 初始化 Redis（限流计数器）与 Elasticsearch 向量索引
	database.InitRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	store, err := es.NewStore(cfg.Elasticsearch, cfg.Embedding.Dimensions)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}

	// 5. 初始化外部服务客户端与核心管道 (依赖注入)
	tikaClient := tika.NewClient(cfg.Tika.ServerURL)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	processor := pipeline.NewProcessor(tikaClient, embeddingClient, store, cfg.Ingest, cfg.Embedding)
	queryService := service.NewQueryService(embeddingClient, store, llmClient, cfg.Embedding, cfg.LLM)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), middleware.CORS(), gin.Recovery())
	r.MaxMultipartMemory = cfg.Ingest.MaxFileSizeBytes()

	// 7. 注册路由；/clear 为破坏性操作，使用更严格的限流桶
	generalLimit := middleware.RateLimit(database.RDB, "general", cfg.RateLimit.RequestsPerMinute)
	clearLimit := middleware.RateLimit(database.RDB, "clear", cfg.RateLimit.ClearPerMinute)

	healthHandler := handler.NewHealthHandler(store)
	documentHandler := handler.NewDocumentHandler(processor, store, cfg.Ingest)
	queryHandler := handler.NewQueryHandler(queryService)
	streamHandler := handler.NewStreamHandler(queryService)

	r.GET("/health", healthHandler.Health)
	r.POST("/upload", generalLimit, documentHandler.Upload)
	r.POST("/query", generalLimit, queryHandler.Query)
	r.GET("/query/stream", generalLimit, streamHandler.Handle)
	r.DELETE("/clear", clearLimit, documentHandler.Clear)

	// 8. 启动 HTTP 服务器并实现优雅停机
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
