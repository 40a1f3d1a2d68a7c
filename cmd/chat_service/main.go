package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat_sync_service/internal/chat/app"
	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/internal/chat/router"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/database"
	"chat_sync_service/pkg/logger"
	testtool "chat_sync_service/pkg/test_tool"
	"chat_sync_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()

	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	cfg.Defaults()
	if config.EnvConfig.ChatServicePort != "" {
		cfg.Port = config.EnvConfig.ChatServicePort
	}
	logger.Log.SetDebugMode(!config.IsProduction())
	token.SetSecret(cfg.JWT.Secret)
	testtool.StartPprof(config.EnvConfig.PprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. 建立 Mongo 連線 (對話與訊息)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.MongoSQL.User, cfg.MongoSQL.Password, cfg.MongoSQL.Host, cfg.MongoSQL.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.MongoSQL.RetryCount,
			RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval) * time.Second,
		},
		cfg.MongoSQL.Database)
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to mongoDB database after retries",
			zap.String("address", fmt.Sprintf("[%s:%d]", cfg.MongoSQL.Host, cfg.MongoSQL.Port)),
			zap.Error(err),
		)
	}
	defer mongo.Close(context.Background())

	if err := repository.EnsureIndexes(ctx, mongo.Database); err != nil {
		logger.Log.Fatal("ensure mongo indexes", zap.Error(err))
	}

	// 2. 建立 Redis 連線 (session + presence pub/sub)
	var (
		sinks    []app.EventSink
		sessions database.RedisRepository[domain.Session]
	)
	masterName, sentinel := config.GetRedisSetting()
	if cfg.Redis.Addr != "" || len(sentinel) > 0 {
		redisClient, err := database.NewRedisClient(masterName, sentinel, cfg.Redis.Addr, cfg.Redis.RedisDB)
		if err != nil {
			logger.Log.Fatal("connect redis", zap.Error(err))
		}
		defer closeRedis(redisClient)

		if cfg.Redis.RequireSession {
			sessions = database.NewRedisRepository[domain.Session](redisClient, cfg.Redis.SessionPrefix)
		}
		sinks = append(sinks, repository.NewRedisPubSub(redisClient, cfg.Redis.PresenceChannel))
	}

	// 3. Kafka event sink (選用)
	if len(cfg.Kafka.Brokers) > 0 {
		writer, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: time.Duration(cfg.Kafka.RetryInterval) * time.Second,
		})
		if err != nil {
			logger.Log.Fatal("connect kafka", zap.Error(err))
		}
		kafkaSink := repository.NewKafkaEventSink(writer)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}

	// 4. 初始化 Repository
	convRepo := repository.NewMongoConversationRepository(mongo.Database)
	msgRepo := repository.NewMongoChatMessageRepository(mongo.Database)

	// 5. 初始化 sync engine
	dispatcher := app.NewEventDispatcher(0, cfg.Websocket.SendTimeout, sinks...)
	broadcast := app.NewBroadcastRouter()
	resolver := app.NewTopologyResolver(convRepo)
	dsm := app.NewDeliveryStateMachine(resolver, msgRepo, app.NewRoomReceiptPublisher(broadcast, dispatcher))
	sweeper := app.NewReconciliationSweeper(convRepo, msgRepo, dsm)
	registry := app.NewConnectionRegistry(broadcast, dispatcher, sweeper, cfg.Sweep.Timeout)

	syncUC := app.NewSyncUseCase(
		app.NewJWTVerifier(sessions),
		registry, broadcast, resolver, dsm, convRepo, msgRepo, dispatcher,
		app.SyncOptions{
			HandshakeTimeout: cfg.Websocket.HandshakeTimeout,
			Channel: app.ChannelOptions{
				SendBuffer:  cfg.Websocket.SendBuffer,
				SendTimeout: cfg.Websocket.SendTimeout,
			},
		},
	)
	wsHandler := app.NewChatWebsocketHandler(syncUC, app.HandlerOptions{
		PingInterval: cfg.Websocket.PingInterval,
		ReadLimit:    cfg.Websocket.ReadLimit,
	})

	// 6. 啟動 Fiber
	r := fiber.New(fiber.Config{DisableStartupMessage: config.IsProduction()})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, wsHandler, syncUC, websocket.Config{
		HandshakeTimeout: cfg.Websocket.HandshakeTimeout,
	})

	go func() {
		port := ":" + cfg.Port
		logger.Log.Info("Chat Service listening", zap.String("port", port))
		if err := r.Listen(port); err != nil {
			logger.Log.Error("fiber listen stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down chat service")

	if err := registry.Shutdown(cfg.Sweep.Timeout); err != nil {
		logger.Log.Warn("registry shutdown", zap.Error(err))
	}
	if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log.Warn("fiber shutdown", zap.Error(err))
	}
	dispatcher.Close()
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Log.Warn("close redis", zap.Error(err))
	}
}
