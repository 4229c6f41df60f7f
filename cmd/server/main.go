package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/baobao/baobao-user/internal/config"
	"github.com/baobao/baobao-user/internal/handlers"
	"github.com/baobao/baobao-user/internal/middleware"
	"github.com/baobao/baobao-user/internal/repository"
	"github.com/baobao/baobao-user/internal/service"
	"github.com/baobao/baobao-user/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.Log.Level).Warn("Unknown log level, keeping info")
	}

	var dynamoClient *dynamodb.Client
	if cfg.Store.Backend == config.BackendDynamoDB || cfg.Users.Backend == config.BackendDynamoDB {
		dynamoClient, err = initDynamoDB(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize DynamoDB")
		}
	}

	kv, closeStore, err := initStore(cfg, dynamoClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize code store")
	}
	defer closeStore()

	userRepo, closeUsers, err := initUserRepository(cfg, dynamoClient, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize user repository")
	}
	defer closeUsers()

	jwtService, err := service.NewJWTService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize JWT service")
	}

	otpService := service.NewOTPService(kv, &cfg.OTP, logger)
	sessionService := service.NewSessionService(kv, jwtService.Lifetime(), logger)
	if !cfg.OTP.Mock {
		logger.Warn("SMS mock mode is off but no SMS carrier is wired; codes will not be delivered")
	}
	notifier := service.NewLogNotifier(logger, cfg.OTP.Mock)

	authService := service.NewAuthService(
		otpService,
		sessionService,
		jwtService,
		userRepo,
		notifier,
		logger,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := middleware.NewHTTPMetrics(registry)
	if err != nil {
		logger.WithError(err).Fatal("Failed to register metrics")
	}

	authHandlers := handlers.NewAuthHandlers(authService, metrics, logger)
	authMiddleware := middleware.NewAuthMiddleware(authService, logger)
	router := handlers.NewRouter(authHandlers, authMiddleware, metrics, registry, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func initStore(cfg *config.Config, dynamoClient *dynamodb.Client, logger *logrus.Logger) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory code store; state is lost on restart and not shared between instances")
		return store.NewMemoryStore(), func() {}, nil

	case config.BackendDynamoDB:
		return store.NewDynamoDBStore(dynamoClient, cfg.DynamoDB.TableName, logger), func() {}, nil

	default:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Endpoint,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}

		logger.WithField("endpoint", cfg.Redis.Endpoint).Info("Redis connection established")
		return store.NewRedisStore(client, logger), func() { client.Close() }, nil
	}
}

func initUserRepository(cfg *config.Config, dynamoClient *dynamodb.Client, logger *logrus.Logger) (repository.UserRepository, func(), error) {
	switch cfg.Users.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory user repository; users are lost on restart")
		return repository.NewMemoryUserRepository(), func() {}, nil

	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres ping failed: %w", err)
		}

		repo := repository.NewPostgresUserRepository(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}

		logger.Info("Postgres user repository initialized")
		return repo, pool.Close, nil

	default:
		return repository.NewDynamoUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger), func() {}, nil
	}
}
