// Package factory builds and owns every application dependency: config,
// logger, external clients, repositories and services. The HTTP layer
// receives fully wired services and never touches clients directly.
package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"phone-auth-service/internal/audit"
	"phone-auth-service/internal/client"
	"phone-auth-service/internal/config"
	"phone-auth-service/internal/handler"
	"phone-auth-service/internal/hashing"
	"phone-auth-service/internal/repository/redis"
	"phone-auth-service/internal/repository/scylla"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/sms"
	"phone-auth-service/internal/token"
	"phone-auth-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies.
type Factory struct {
	config *config.Config

	// Clients. Kafka, ClickHouse and Elasticsearch are optional; the
	// service runs degraded without them. Redis and Scylla are not.
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	esClient         *client.ESClient

	codec       *token.Codec
	authService *service.AuthService
	userService *service.UserService

	closeOnce sync.Once
}

// NewFactory loads configuration and initializes all dependencies.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{config: cfg}

	if err := f.initializeClients(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment))

	return f, nil
}

// initializeClients brings up external connections. Scylla is required;
// everything else degrades with a warning.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	scyllaClient, err := scylla.NewScyllaClient(f.config)
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient
	if err := f.scyllaClient.HealthCheck(); err != nil {
		return fmt.Errorf("scylla health check: %w", err)
	}

	if redisClient, err := client.NewRedisClient(f.config); err != nil {
		util.Warn("Redis initialization failed, OTP rate limiting falls back to storage reads",
			util.ErrorField(err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			util.Warn("Redis health check failed", util.ErrorField(err))
		}
	}

	if producer, err := client.NewKafkaProducer(f.config); err != nil {
		util.Warn("Kafka producer initialization failed, proceeding without event stream",
			util.ErrorField(err))
	} else if err := producer.HealthCheck(ctx); err != nil {
		util.Warn("Kafka health check failed, proceeding without event stream",
			util.ErrorField(err))
		_ = producer.Close()
	} else {
		f.kafkaProducer = producer
	}

	if chClient, err := client.NewClickHouseClient(f.config); err != nil {
		util.Warn("ClickHouse initialization failed, proceeding without audit table",
			util.ErrorField(err))
	} else if err := audit.EnsureSchema(ctx, chClient); err != nil {
		util.Warn("ClickHouse audit schema setup failed, proceeding without audit table",
			util.ErrorField(err))
		_ = chClient.Close()
	} else {
		f.clickhouseClient = chClient
	}

	if esClient, err := client.NewElasticsearchClient(f.config); err != nil {
		util.Warn("Elasticsearch initialization failed, proceeding without login search index",
			util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	return nil
}

func (f *Factory) initializeServices() {
	otpRepo := scylla.NewOTPRepository(f.scyllaClient)
	tokenRepo := scylla.NewRefreshTokenRepository(f.scyllaClient)
	userRepo := scylla.NewUserRepository(f.scyllaClient)

	var window service.RequestWindow
	if f.redisClient != nil {
		window = redis.NewOTPWindow(f.redisClient)
	}

	var recorder service.LoginRecorder
	if f.clickhouseClient != nil || f.kafkaProducer != nil || f.esClient != nil {
		recorder = audit.NewRecorder(f.clickhouseClient, f.kafkaProducer, f.esClient)
	}

	var sender sms.Sender
	if f.config.SMS.APIKey != "" {
		sender = sms.NewKavenegarClient(f.config.SMS)
	} else {
		util.Warn("SMS gateway not configured, OTP codes will not be delivered")
	}

	f.codec = token.NewCodec(f.config.JWT)
	hasher := hashing.NewHasher()

	f.authService = service.NewAuthService(
		otpRepo, tokenRepo, userRepo,
		window, f.codec, hasher, sender, recorder,
		f.config.OTP,
	)
	f.userService = service.NewUserService(userRepo, f.codec)
}

var _ handler.HealthChecker = (*Factory)(nil)

// HealthCheck reports the status of every dependency.
func (f *Factory) HealthCheck() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := make(map[string]string)

	if f.scyllaClient != nil {
		status["scylla"] = healthString(f.scyllaClient.HealthCheck())
	} else {
		status["scylla"] = "unavailable"
	}
	if f.redisClient != nil {
		status["redis"] = healthString(f.redisClient.HealthCheck(ctx))
	} else {
		status["redis"] = "unavailable"
	}
	if f.kafkaProducer != nil {
		status["kafka"] = healthString(f.kafkaProducer.HealthCheck(ctx))
	}
	if f.clickhouseClient != nil {
		status["clickhouse"] = healthString(f.clickhouseClient.HealthCheck(ctx))
	}
	if f.esClient != nil {
		status["elasticsearch"] = healthString(f.esClient.HealthCheck())
	}

	return status
}

func healthString(err error) string {
	if err != nil {
		return "unhealthy"
	}
	return "healthy"
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) AuthService() *service.AuthService {
	return f.authService
}

func (f *Factory) UserService() *service.UserService {
	return f.userService
}

// AuthHandler builds the HTTP boundary with cookie settings derived
// from the environment.
func (f *Factory) AuthHandler() *handler.AuthHandler {
	return handler.NewAuthHandler(
		f.authService,
		f.userService,
		f.config.IsProduction(),
		f.codec.AccessExpires(),
	)
}

// Close shuts down every client. Safe to call more than once.
func (f *Factory) Close() {
	f.closeOnce.Do(func() {
		if f.kafkaProducer != nil {
			_ = f.kafkaProducer.Close()
		}
		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.esClient != nil {
			f.esClient.Close()
		}
		if f.redisClient != nil {
			_ = f.redisClient.Close()
		}
		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}
		util.Info("Factory closed")
		util.Sync()
	})
}
