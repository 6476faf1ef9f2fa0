package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/changelog"
	"collabBoard/backend/internal/comments"
	"collabBoard/backend/internal/config"
	"collabBoard/backend/internal/httpapi/handlers"
	"collabBoard/backend/internal/httpapi/middleware"
	"collabBoard/backend/internal/notify"
	"collabBoard/backend/internal/session"
	"collabBoard/backend/internal/store"
	"collabBoard/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	var logger *zap.Logger
	if cfg.Running.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatal("mysql unreachable", zap.Error(err))
	}
	for _, migrate := range []func(*gorm.DB) error{changelog.Migrate, comments.Migrate, notify.Migrate} {
		if err = migrate(db); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}
	}
	rawDB, err := store.RawDB(db)
	if err != nil {
		logger.Fatal("mysql pool unavailable", zap.Error(err))
	}
	defer rawDB.Close()

	// SyncProducer 必须开启 Return.Successes
	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		logger.Fatal("kafka unreachable", zap.Strings("brokers", cfg.Kafka.Brokers), zap.Error(err))
	}
	defer producer.Close()

	// Kafka 本地队列 + worker 重试发送
	events := changelog.NewKafkaDispatcher(
		producer,
		cfg.Kafka.Topic,
		changelog.NewSemaphoreControl(),
		logger,
		changelog.KafkaDispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	opLog := changelog.NewMySQLStore(db)
	commentStore := comments.NewStore(db, store.NewUserStore(rawDB))
	dashStore := store.NewDashboardStore(rawDB)
	presenceCache := cache.NewRedisPresence(rdb)
	reg := session.NewRegistry(session.Deps{
		Log:        opLog,
		Events:     events,
		Comments:   commentStore,
		Dashboards: dashStore,
		Logger:     logger,
		Cfg: session.Config{
			HeartbeatInterval:  cfg.Session.HeartbeatInterval,
			IdleAfterMissed:    cfg.Session.IdleAfterMissed,
			OfflineAfterMissed: cfg.Session.OfflineAfterMissed,
			ParticipantGrace:   cfg.Session.ParticipantGrace,
			TeardownGrace:      cfg.Session.TeardownGrace,
			InboxSize:          cfg.Session.InboundQueueSize,
			StoreBufferLimit:   cfg.Session.StoreBufferLimit,
		},
	})
	notifier := notify.NewDispatcher(db, reg, logger)
	reg.SetNotifier(notifier)

	manager := ws.NewManager(reg, presenceCache, logger, ws.ManagerOptions{
		OutboundQueueSize: cfg.Session.OutboundQueueSize,
		CursorRatePerSec:  cfg.Session.CursorRatePerSec,
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
	})

	if !cfg.Running.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	grp := r.Group("/collab")
	// 鉴权中间件：从 Authorization 或 ?token= 提取 token，写入 userId/username
	grp.Use(middleware.Auth(cfg.Auth.VerifyURL, cfg.Auth.Secret))
	grp.GET("/ws", manager.Connect)
	boards := &handlers.Boards{
		Comments:   commentStore,
		Notify:     notifier,
		Log:        opLog,
		Presence:   presenceCache,
		Dashboards: dashStore,
	}
	boards.Register(grp)
	r.GET("/collab/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "ok"})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Running.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("collab server listening", zap.Int("port", cfg.Running.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := reg.Shutdown(shutdownCtx); err != nil {
		logger.Warn("session drain incomplete", zap.Error(err))
	}
}
