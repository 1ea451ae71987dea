package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"job-chat-service/internal/broker"
	"job-chat-service/internal/config"
	"job-chat-service/internal/db"
	"job-chat-service/internal/directory"
	grpcserver "job-chat-service/internal/grpc"
	"job-chat-service/internal/handlers"
	"job-chat-service/internal/identity"
	"job-chat-service/internal/middleware"
	"job-chat-service/internal/notify"
	"job-chat-service/internal/observability"
	"job-chat-service/internal/rabbitmq"
	"job-chat-service/internal/repositories"
	"job-chat-service/internal/services"
	"job-chat-service/internal/session"
	"job-chat-service/internal/telemetry"
	"job-chat-service/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

type store interface {
	repositories.ChatRepository
	repositories.MessageRepository
	Ping(ctx context.Context) error
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	checks := []grpcserver.Check{{Name: "store", Ping: st.Ping}}

	var (
		b       broker.Broker
		counter handlers.SubscriberCounter
	)
	switch cfg.BrokerDriver {
	case config.BrokerDriverRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		b = broker.NewRedisBroker(rdb, log)
		checks = append(checks, grpcserver.Check{Name: "broker", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	default:
		memory := broker.NewMemoryBroker(log)
		b, counter = memory, memory
	}
	defer func() { _ = b.Close() }()
	log.Info("broker ready", "driver", cfg.BrokerDriver)

	notifier := notify.NewNotifier(cfg.Brokers(), cfg.KafkaTopic, log)
	defer func() { _ = notifier.Close() }()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
	defer func() { _ = publisher.Close() }()
	observability.SetPublisher(publisher)
	log.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "noop_reason", rabbitmq.PublisherNoopReason(publisher))
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	verifier := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	dir := directory.New(st, log)
	sessions := session.NewManager(dir, st, b, log)
	chatService := services.NewChatService(dir, st, st, b, notifier, auditEmitter, cfg.PublishTimeout, log)

	chatHandler := handlers.NewChatHandler(chatService, log)
	chatWS := ws.NewChatWebSocketHandler(sessions, verifier, log)

	healthServer := grpcserver.NewHealthServer(log, cfg.HealthInterval, checks...)
	go healthServer.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		observability.HTTPMetricsMiddleware(),
		handlers.RequestIDMiddleware(),
	)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", handlers.Healthz(healthServer))
	handlers.RegisterDebugRoutes(router, auditEmitter, counter, cfg.DebugRoutes)

	router.GET("/jobs/:job_id/chat", authMiddleware, chatHandler.ResolveChat)
	router.GET("/chats/:chat_id/messages", authMiddleware, chatHandler.GetChatMessages)
	router.POST("/messages", authMiddleware, chatHandler.PostMessage)
	router.GET("/ws/jobs/:job_id", chatWS.Handle)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcAddr := fmt.Sprintf(":%d", cfg.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()
	go func() {
		log.Info("Starting gRPC health server", "address", grpcAddr)
		if err := healthServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	healthServer.Stop()
	log.Info("Program stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverBadger:
		bs, err := repositories.OpenBadgerStore(cfg.BadgerPath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("badger open: %w", err)
		}
		log.Info("store ready", "driver", cfg.StoreDriver, "path", cfg.BadgerPath)
		return bs, func() {
			log.Info("Closing BadgerDB...")
			_ = bs.Close()
		}, nil
	default:
		database, err := db.Connect(ctx, cfg.DBDSN, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to db: %w", err)
		}
		log.Info("store ready", "driver", cfg.StoreDriver)
		return repositories.NewPostgresStore(database), func() { _ = database.Close() }, nil
	}
}
