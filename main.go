package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"support-chat-service/internal/chat"
	"support-chat-service/internal/config"
	"support-chat-service/internal/db"
	grpcserver "support-chat-service/internal/grpc"
	"support-chat-service/internal/identity"
	"support-chat-service/internal/maintenance"
	"support-chat-service/internal/observability"
	"support-chat-service/internal/rabbitmq"
	"support-chat-service/internal/repositories"
	"support-chat-service/internal/telemetry"
	"support-chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.ServiceName, observability.LogOptions{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 14,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.GoEnv, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		shutdownTracing = func(context.Context) error { return nil }
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info().
		Str("mode", rabbitmq.PublisherMode(publisher)).
		Str("reason", rabbitmq.PublisherNoopReason(publisher)).
		Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.GoEnv, logger)

	var sqlDB *sqlx.DB
	if cfg.UsesPostgres() {
		sqlDB, err = db.Connect(cfg.DatabaseDSN, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to db")
		}
		defer sqlDB.Close()
	}

	var mongoClient *mongo.Client
	if cfg.UsesMongo() {
		mongoClient, err = db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to mongodb")
		}
		defer mongoClient.Disconnect(context.Background())
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	repo, err := buildStore(ctx, cfg, sqlDB, mongoClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise conversation store")
	}
	directory, err := buildDirectory(cfg, sqlDB, mongoClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise identity directory")
	}
	if redisClient != nil && cfg.IdentityCacheTTL > 0 {
		directory = identity.NewCachedDirectory(directory, redisClient, cfg.IdentityCacheTTL, logger)
	}
	gate := identity.NewJWTGate(cfg.JWTSecret, directory)

	hub := ws.NewHub(logger)
	svc := chat.NewService(repo, ws.NewNotifier(hub, logger), logger)
	gateway := ws.NewGateway(hub, svc, gate, logger, ws.GatewayOptions{
		AllowedOrigins: cfg.CORSOrigins,
		SendBuffer:     cfg.WSSendBuffer,
	})

	router := newRouter(cfg, logger, routerDeps{
		gate:    gate,
		chat:    svc,
		gateway: gateway,
		audit:   audit,
		store:   repo,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.NewHealthServer(repo, 10*time.Second, logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal().Err(err).Str("port", cfg.GRPCPort).Msg("failed to listen for grpc")
	}
	go health.Watch(ctx)
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	startMaintenance(ctx, cfg, svc, logger)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()
	logger.Info().
		Str("port", cfg.Port).
		Str("grpc_port", cfg.GRPCPort).
		Str("store", cfg.StoreDriver).
		Str("directory", cfg.DirectoryDriver).
		Msg("support chat service started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	hub.Close()
	health.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("tracing shutdown")
	}
}

func buildStore(ctx context.Context, cfg *config.Config, sqlDB *sqlx.DB, mongoClient *mongo.Client) (repositories.ConversationRepository, error) {
	switch cfg.StoreDriver {
	case "mongo":
		repo := repositories.NewMongoConversationRepo(mongoClient.Database(cfg.MongoDatabase).Collection("conversations"))
		if err := repo.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	case "memory":
		return repositories.NewMemoryConversationRepo(), nil
	default:
		return repositories.NewConversationRepo(sqlDB), nil
	}
}

func buildDirectory(cfg *config.Config, sqlDB *sqlx.DB, mongoClient *mongo.Client) (identity.Directory, error) {
	switch cfg.DirectoryDriver {
	case "mongo":
		return identity.NewMongoDirectory(mongoClient.Database(cfg.MongoDatabase).Collection(cfg.MongoUsers)), nil
	case "static":
		return identity.ParseStaticUsers(cfg.StaticUsers)
	default:
		return identity.NewSQLDirectory(sqlDB), nil
	}
}

func startMaintenance(ctx context.Context, cfg *config.Config, svc *chat.Service, logger zerolog.Logger) {
	if cfg.TrashRetention <= 0 && cfg.InactivePendingTimeout <= 0 {
		return
	}
	if cfg.RedisURL == "" {
		logger.Warn().Msg("maintenance disabled: REDIS_URL is not set")
		return
	}

	runner, err := maintenance.NewRunner(cfg.RedisURL, maintenance.NewHandlers(svc, logger), maintenance.Schedule{
		Spec:            cfg.MaintenanceSpec,
		TrashRetention:  cfg.TrashRetention,
		InactiveTimeout: cfg.InactivePendingTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure maintenance")
	}
	go func() {
		if err := runner.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("maintenance runner stopped")
		}
	}()
}
