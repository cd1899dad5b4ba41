package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	gatewayhttp "docgateway/internal/datastore/adapter/http"
	"docgateway/internal/datastore/adapter/persistence"
	"docgateway/internal/datastore/adapter/persistence/mongodb"
	"docgateway/internal/datastore/adapter/security"
	"docgateway/internal/datastore/config"
	"docgateway/internal/datastore/usecase"
	"docgateway/internal/shared/eventbus"
	"docgateway/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	dialTimeout = 5 * time.Second
	tokenTTL    = time.Hour
)

// Option customises container construction.
type Option func(*Container)

// WithDialer replaces the MongoDB dialer.
func WithDialer(d mongodb.Dialer) Option {
	return func(c *Container) { c.dialer = d }
}

// WithLogger replaces the application logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Container) { c.Logger = log }
}

// WithStreamClient makes the change feed write to client instead of a
// Redis client built from configuration.
func WithStreamClient(client persistence.StreamClient) Option {
	return func(c *Container) { c.streamClient = client }
}

// Container wires the gateway: connection registry, namespace resolver,
// gateway, event bus, change feed and HTTP surface.
type Container struct {
	Config     *config.GatewayConfig
	Logger     logger.Logger
	EventBus   *eventbus.EventBus
	Registry   *mongodb.ConnectionRegistry
	Resolver   *usecase.NamespaceResolver
	Gateway    *usecase.Gateway
	EventStore *persistence.RedisEventStore
	Tokens     *security.TokenService

	dialer       mongodb.Dialer
	driverLog    *zap.Logger
	redisClient  *redis.Client
	streamClient persistence.StreamClient
}

// NewContainer builds every component from cfg. No connection is opened
// until the first action runs.
func NewContainer(cfg *config.GatewayConfig, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("gateway configuration is required")
	}
	c := &Container{Config: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.Logger == nil {
		c.Logger = logger.New(logger.Config{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
	}

	if c.dialer == nil {
		driverLog, err := logger.NewZapLogger(cfg.Log.DriverLog)
		if err != nil {
			return nil, fmt.Errorf("failed to create driver logger: %w", err)
		}
		c.driverLog = driverLog
		sink := logger.NewDriverLogSink(driverLog)
		c.dialer = mongodb.NewMongoDialer(logger.DriverLoggerOptions(sink, cfg.Log.DriverLog), dialTimeout)
	}

	c.EventBus = eventbus.NewEventBus(c.Logger.WithComponent("eventbus"))
	c.EventBus.Subscribe(eventbus.EventTypeConnectionExhausted, c.logExhausted)

	connCfg, err := cfg.ConnectionConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid connection configuration: %w", err)
	}
	c.Registry = mongodb.NewConnectionRegistry(connCfg, c.dialer, c.Logger.WithComponent("connection_registry"),
		mongodb.WithRetryInterval(cfg.RetryInterval),
		mongodb.WithMaxAttempts(cfg.RetryLimit),
		mongodb.WithLogger(c.Logger.WithComponent("connection_manager")),
		mongodb.WithPublisher(c.EventBus),
	)

	c.Resolver = usecase.NewNamespaceResolver(c.Registry, c.Registry.SharedDatabase(), cfg.CollectionPrefix, cfg.CollectionSeparator)
	c.Gateway = usecase.NewGateway(c.Resolver,
		usecase.WithEventPublisher(c.EventBus),
		usecase.WithExportConcurrency(cfg.ExportConcurrency),
		usecase.WithGatewayLogger(c.Logger.WithComponent("gateway")),
	)

	if cfg.Redis.Enabled || c.streamClient != nil {
		if c.streamClient == nil {
			c.redisClient = config.NewRedisClient(cfg.Redis)
			c.streamClient = c.redisClient
		}
		c.EventStore = persistence.NewRedisEventStore(c.streamClient, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLength,
			c.Logger.WithComponent("redis_event_store"))
		c.EventStore.Subscribe(c.EventBus)
	}

	if cfg.AuthEnabled() {
		tokens, err := security.NewTokenService(cfg.JWTSecretKey, cfg.JWTIssuer, tokenTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to create token service: %w", err)
		}
		c.Tokens = tokens
	}

	c.Logger.WithFields(map[string]interface{}{
		"database":    connCfg.Redacted(),
		"change_feed": c.EventStore != nil,
		"auth":        c.Tokens != nil,
	}).Info("container initialised")
	return c, nil
}

func (c *Container) logExhausted(_ context.Context, event eventbus.Event) error {
	fields := map[string]interface{}{"event": event.Type()}
	if ev, ok := event.(*eventbus.ChangeEvent); ok {
		fields["database"] = ev.Database
		for k, v := range ev.Payload {
			fields[k] = v
		}
	}
	c.Logger.WithFields(fields).Error("database connection attempts exhausted")
	return nil
}

// HTTPApp builds the fiber application serving the gateway.
func (c *Container) HTTPApp() *fiber.App {
	var events gatewayhttp.EventReader
	if c.EventStore != nil {
		events = c.EventStore
	}
	var tokens gatewayhttp.TokenValidator
	if c.Tokens != nil {
		tokens = c.Tokens
	}

	handler := gatewayhttp.NewHandler(c.Gateway, events, c.Registry, c.Logger.WithComponent("http"))
	return gatewayhttp.NewApp(gatewayhttp.ServerOptions{
		AppName:      "docgateway",
		BodyLimitMB:  c.Config.Server.BodyLimitMB,
		ReadTimeout:  c.Config.Server.ReadTimeout,
		WriteTimeout: c.Config.Server.WriteTimeout,
	}, handler, tokens)
}

// HealthCheck pings the shared database.
func (c *Container) HealthCheck(ctx context.Context) error {
	return c.Registry.Ping(ctx)
}

// Close shuts down connections in reverse order of construction.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.Registry != nil {
		if err := c.Registry.CloseAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing database connections: %w", err))
		}
	}
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing redis client: %w", err))
		}
	}
	if c.driverLog != nil {
		_ = c.driverLog.Sync()
	}
	return errors.Join(errs...)
}
