package main

import (
	"context"
	"os/signal"
	"syscall"

	"taskline/internal/api/handler"
	"taskline/internal/auth"
	"taskline/internal/config"
	"taskline/internal/core/postgres/repository"
	"taskline/internal/domain"
	infraredis "taskline/internal/infrastructure/redis"
	"taskline/internal/log"
	"taskline/internal/service"
	"taskline/internal/worker"
	"taskline/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	logger := log.GetLogger()
	cfg := config.Load()

	// 1. Database connection. TranslateError turns unique violations into
	// gorm.ErrDuplicatedKey, which the event log's dedup relies on.
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	if err := db.AutoMigrate(&domain.Task{}, &domain.TaskEvent{}); err != nil {
		logger.Fatalf("failed to migrate schema: %v", err)
	}

	// 2. Redis: best-effort kick bus + cancellation signals
	redisClient, err := infraredis.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		logger.Fatalf("failed to connect to redis: %v", err)
	}
	kicks := infraredis.NewKickBus(redisClient)
	cancels := infraredis.NewCancelStore(redisClient)

	// 3. Stores and workflow routing tables
	taskStore := repository.NewTaskRepository(db)
	eventLog := repository.NewEventRepository(db)
	registry := workflow.DefaultRegistry()

	// 4. Engine: processor + sweeper
	processor := worker.NewProcessor(taskStore, eventLog, cancels, kicks, registry, cfg.MaxRetries)
	sweeper := worker.NewSweeper(taskStore, processor, kicks, cfg.SweepBatchSize, cfg.StaleAfter, cfg.SweepInterval)

	// 5. Services and handlers
	taskSvc := service.NewTaskService(taskStore, eventLog, kicks, cancels, registry)
	taskHandler := handler.NewTaskHandler(taskSvc, sweeper)
	streamHandler := handler.NewStreamHandler(taskSvc, cfg.PollInterval, cfg.KeepAliveInterval)

	// 6. Routes
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/sweep", auth.RequireTrigger(cfg.SweepToken), taskHandler.Sweep)

		protected := api.Group("", auth.RequireUser(cfg.JWTSecret))
		{
			protected.POST("/jobs", taskHandler.StartJob)
			protected.POST("/tasks/:id/retry", taskHandler.RetryTask)
			protected.POST("/tasks/:id/cancel", taskHandler.CancelTask)
			protected.POST("/tasks/:id/resume", taskHandler.ResumeTask)
			protected.GET("/sessions/:id/tasks", taskHandler.SessionTasks)
			protected.GET("/sessions/:id/events", taskHandler.SessionEvents)
			protected.GET("/sessions/:id/stream", streamHandler.StreamSession)
		}
	}

	// 7. Background sweeper: the progress guarantee when no kick arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go sweeper.Run(ctx)

	logger.Infof("server starting on %s", cfg.HTTPAddr)
	if err := router.Run(cfg.HTTPAddr); err != nil {
		logger.Fatalf("failed to start server: %v", err)
	}
}
