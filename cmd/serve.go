package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/michal-majer/s4kit-gateway/app/backend"
	"github.com/michal-majer/s4kit-gateway/app/controller"
	"github.com/michal-majer/s4kit-gateway/app/metrics"
	"github.com/michal-majer/s4kit-gateway/app/middleware"
	"github.com/michal-majer/s4kit-gateway/app/repository"
	"github.com/michal-majer/s4kit-gateway/app/secret"
	"github.com/michal-majer/s4kit-gateway/app/service"
	"github.com/michal-majer/s4kit-gateway/app/store"
	"github.com/michal-majer/s4kit-gateway/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	Long:  `Start the HTTP server that authenticates API keys and proxies OData operations to the configured S/4HANA backends.`,
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	counters, cache := newStores(cfg)
	encryptor := newEncryptor(cfg)

	apiKeyRepo := repository.NewAPIKeyRepository(db)
	grantRepo := repository.NewGrantRepository(db)
	authConfigRepo := repository.NewAuthConfigRepository(db)
	requestLogRepo := repository.NewRequestLogRepository(db)

	keyValidator := service.NewKeyValidator(apiKeyRepo, cache, cfg.KeyCacheTTL)
	accessResolver := service.NewAccessResolver(grantRepo, cache, cfg.AccessCacheTTL)
	rateLimiter := service.NewRateLimiter(counters, service.TenantLimits{
		PerMinute: cfg.OrgRatePerMinute,
		PerDay:    cfg.OrgRatePerDay,
	})

	tokenClient := backend.NewClient(cfg.TokenTimeout, cfg.MaxResponseBytes)
	authResolver := service.NewAuthResolver(authConfigRepo, encryptor, cache, tokenClient, cfg.CSRFTokenTTL)

	backendClient := backend.NewClient(cfg.BackendTimeout, cfg.MaxResponseBytes)
	metadataClient := backend.NewClient(cfg.MetadataTimeout, cfg.MaxResponseBytes)
	gateway := service.NewGateway(authResolver, backendClient, metadataClient, cache, cfg.SchemaCacheTTL, requestLogRepo)

	startHTTPServer(cfg, db, keyValidator, rateLimiter, accessResolver, gateway)
}

// newStores picks Redis when configured, with the in-process store as
// the single-node fallback. Rate limiting through the memory store is
// only accurate for a single gateway instance.
func newStores(cfg *config.Config) (store.CounterStore, store.Cache) {
	if cfg.RedisAddr == "" {
		logrus.Warn("REDIS_ADDR not set, using in-process counters and cache")
		mem := store.NewMemoryStore()
		return mem, mem
	}

	redisStore := store.NewRedisStore(cfg.RedisAddr, cfg.RedisDB)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisStore.Ping(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to ping redis")
	}
	return redisStore, redisStore
}

func newEncryptor(cfg *config.Config) secret.Encryptor {
	if cfg.EncryptionKey == "" {
		logrus.Warn("ENCRYPTION_KEY not set, credential fields are treated as plaintext")
		return secret.Plaintext{}
	}
	encryptor, err := secret.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		logrus.WithError(err).Fatal("Invalid encryption key")
	}
	return encryptor
}

func startHTTPServer(cfg *config.Config, db *sql.DB, keyValidator *service.KeyValidator, rateLimiter *service.RateLimiter, accessResolver *service.AccessResolver, gateway *service.Gateway) {
	e := echo.New()
	defer e.Close()
	e.HideBanner = true

	e.Use(echomiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"request_id": v.RequestID,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	metrics.Init()
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error {
		if err := db.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	gatewayController := controller.NewGatewayController(accessResolver, gateway)
	authMiddleware := middleware.NewAuthMiddleware(keyValidator)
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(rateLimiter)

	api := e.Group("/api", authMiddleware.RequireAPIKey, rateLimitMiddleware.Enforce)
	api.POST("/batch", gatewayController.Batch)
	api.GET("/schema", gatewayController.Schema)
	api.Any("/*", gatewayController.Proxy)

	httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
	if err := e.Start(httpAddr); err != nil {
		logrus.WithError(err).Fatal("Failed to start HTTP server")
	}
}
