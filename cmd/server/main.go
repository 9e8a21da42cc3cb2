// Command server starts the Medialift API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"medialift/internal/api"
	"medialift/internal/live"
	"medialift/internal/models"
	"medialift/internal/observability/logging"
	"medialift/internal/observability/metrics"
	"medialift/internal/policy"
	"medialift/internal/resource"
	"medialift/internal/server"
	"medialift/internal/storage"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresConnectTimeout := flag.Duration("postgres-connect-timeout", 0, "timeout when establishing a Postgres connection")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	ticketStoreDriver := flag.String("ticket-store", "", "upload ticket store driver (memory or redis)")
	ticketRedisAddr := flag.String("ticket-redis-addr", "", "Redis address for the shared ticket store")
	ticketRedisAddrs := flag.String("ticket-redis-addrs", "", "comma separated Redis addresses for the shared ticket store")
	ticketRedisUsername := flag.String("ticket-redis-username", "", "Redis username for the ticket store")
	ticketRedisPassword := flag.String("ticket-redis-password", "", "Redis password for the ticket store")
	ticketRedisMasterName := flag.String("ticket-redis-sentinel-master", "", "Redis sentinel master name for the ticket store")
	ticketRedisPoolSize := flag.Int("ticket-redis-pool-size", 0, "maximum Redis connections for the ticket store")
	ticketTTL := flag.Duration("ticket-ttl", 0, "expiry for abandoned upload tickets in the Redis store")
	ticketRedisTLSCA := flag.String("ticket-redis-tls-ca", "", "path to Redis TLS CA certificate for the ticket store")
	ticketRedisTLSCert := flag.String("ticket-redis-tls-cert", "", "path to Redis TLS client certificate for the ticket store")
	ticketRedisTLSKey := flag.String("ticket-redis-tls-key", "", "path to Redis TLS client key for the ticket store")
	ticketRedisTLSServerName := flag.String("ticket-redis-tls-server-name", "", "override Redis TLS server name for the ticket store")
	ticketRedisTLSSkipVerify := flag.Bool("ticket-redis-tls-skip-verify", false, "skip Redis TLS verification for the ticket store")
	policyDriver := flag.String("policy-driver", "", "upload policy issuer (signer, aws, or resource-api)")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPathStyle := flag.Bool("object-path-style", false, "use path-style addressing for AWS presigned uploads")
	policyExpiry := flag.Duration("policy-expiry", 0, "validity window for issued upload policies")
	policyMaxSize := flag.Int64("policy-max-size", 0, "maximum accepted upload size in bytes")
	resourceAPIURL := flag.String("resource-api-url", "", "base URL of the upstream resource API")
	resourceAPIToken := flag.String("resource-api-token", "", "bearer token for the upstream resource API")
	webhookSecret := flag.String("webhook-secret", "", "shared secret verifying state webhook signatures")
	uploadMaxConcurrent := flag.Int64("upload-max-concurrent", 0, "maximum simultaneous uploads")
	resumePollInterval := flag.Duration("resume-poll-interval", 0, "delay between manifest checks while waiting for a live resume")
	resumeMaxAttempts := flag.Int("resume-max-attempts", 0, "maximum manifest checks before a resume attempt gives up")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	webhookLimit := flag.Int("rate-webhook-limit", 0, "maximum state webhook deliveries per window for a single source")
	webhookWindow := flag.Duration("rate-webhook-window", 0, "window for counting state webhook deliveries")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed webhook throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed webhook throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	dashboardOrigins := flag.String("dashboard-origins", "", "comma separated browser origins allowed to call the API")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIALIFT_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIALIFT_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("MEDIALIFT_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MEDIALIFT_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("MEDIALIFT_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("MEDIALIFT_TLS_KEY"))

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MEDIALIFT_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Repository
	switch driver {
	case "memory":
		store = storage.NewMemoryStore()
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		store, err = storage.NewPostgresStore(bootCtx, storage.PostgresConfig{
			DSN:                 postgresDefaultDSN,
			MaxConnections:      int32(resolveInt(*postgresMaxConns, "MEDIALIFT_POSTGRES_MAX_CONNS")),
			MinConnections:      int32(resolveInt(*postgresMinConns, "MEDIALIFT_POSTGRES_MIN_CONNS")),
			MaxConnLifetime:     resolveDuration(*postgresMaxConnLifetime, "MEDIALIFT_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime:     resolveDuration(*postgresMaxConnIdle, "MEDIALIFT_POSTGRES_MAX_CONN_IDLE", 0),
			HealthCheckInterval: resolveDuration(*postgresHealthInterval, "MEDIALIFT_POSTGRES_HEALTH_INTERVAL", 0),
			ConnectTimeout:      resolveDuration(*postgresConnectTimeout, "MEDIALIFT_POSTGRES_CONNECT_TIMEOUT", 0),
			ApplicationName:     firstNonEmpty(*postgresAppName, os.Getenv("MEDIALIFT_POSTGRES_APP_NAME")),
		})
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	ticketCfg := tickets.RedisStoreConfig{
		Addr:       firstNonEmpty(*ticketRedisAddr, os.Getenv("MEDIALIFT_TICKET_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*ticketRedisAddrs, os.Getenv("MEDIALIFT_TICKET_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*ticketRedisUsername, os.Getenv("MEDIALIFT_TICKET_REDIS_USERNAME")),
		Password:   firstNonEmpty(*ticketRedisPassword, os.Getenv("MEDIALIFT_TICKET_REDIS_PASSWORD")),
		MasterName: firstNonEmpty(*ticketRedisMasterName, os.Getenv("MEDIALIFT_TICKET_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*ticketRedisPoolSize, "MEDIALIFT_TICKET_REDIS_POOL_SIZE"),
		TTL:        resolveDuration(*ticketTTL, "MEDIALIFT_TICKET_TTL", 0),
		TLS: tickets.RedisTLSConfig{
			CAFile:             firstNonEmpty(*ticketRedisTLSCA, os.Getenv("MEDIALIFT_TICKET_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*ticketRedisTLSCert, os.Getenv("MEDIALIFT_TICKET_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*ticketRedisTLSKey, os.Getenv("MEDIALIFT_TICKET_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*ticketRedisTLSServerName, os.Getenv("MEDIALIFT_TICKET_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*ticketRedisTLSSkipVerify, "MEDIALIFT_TICKET_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	ticketStore, err := configureTicketStore(*ticketStoreDriver, ticketCfg)
	if err != nil {
		logger.Error("failed to configure ticket store", "error", err)
		os.Exit(1)
	}

	var resourceAPI *resource.Client
	if baseURL := firstNonEmpty(*resourceAPIURL, os.Getenv("MEDIALIFT_RESOURCE_API_URL")); baseURL != "" {
		resourceAPI, err = resource.New(resource.Config{
			BaseURL: baseURL,
			Token:   firstNonEmpty(*resourceAPIToken, os.Getenv("MEDIALIFT_RESOURCE_API_TOKEN")),
		})
		if err != nil {
			logger.Error("failed to configure resource api client", "error", err)
			os.Exit(1)
		}
	}

	issuer, err := configurePolicyIssuer(bootCtx, policyIssuerConfig{
		Driver:       firstNonEmpty(*policyDriver, os.Getenv("MEDIALIFT_POLICY_DRIVER")),
		Endpoint:     firstNonEmpty(*objectEndpoint, os.Getenv("MEDIALIFT_OBJECT_ENDPOINT")),
		Region:       firstNonEmpty(*objectRegion, os.Getenv("MEDIALIFT_OBJECT_REGION")),
		AccessKey:    firstNonEmpty(*objectAccessKey, os.Getenv("MEDIALIFT_OBJECT_ACCESS_KEY")),
		SecretKey:    firstNonEmpty(*objectSecretKey, os.Getenv("MEDIALIFT_OBJECT_SECRET_KEY")),
		Bucket:       firstNonEmpty(*objectBucket, os.Getenv("MEDIALIFT_OBJECT_BUCKET")),
		UseSSL:       resolveBool(*objectUseSSL, "MEDIALIFT_OBJECT_USE_SSL"),
		UsePathStyle: resolveBool(*objectPathStyle, "MEDIALIFT_OBJECT_PATH_STYLE"),
		Expiry:       resolveDuration(*policyExpiry, "MEDIALIFT_POLICY_EXPIRY", 0),
		MaxSizeBytes: resolveInt64(*policyMaxSize, "MEDIALIFT_POLICY_MAX_SIZE"),
	}, resourceAPI)
	if err != nil {
		logger.Error("failed to configure upload policy issuer", "error", err)
		os.Exit(1)
	}
	if issuer == nil {
		logger.Warn("no upload policy issuer configured; uploads are disabled")
	}

	orchestrator := upload.New(upload.Config{
		Tickets:       ticketStore,
		Policies:      issuer,
		MaxConcurrent: int64(resolveInt(int(*uploadMaxConcurrent), "MEDIALIFT_UPLOAD_MAX_CONCURRENT")),
		Logger:        logging.WithComponent(logger, "uploads"),
	})

	var refresher live.Refresher = storeRefresher{store: store}
	if resourceAPI != nil {
		refresher = resourceAPI
	}
	resumer := live.New(live.Config{
		Resources:    refresher,
		PollInterval: resolveDuration(*resumePollInterval, "MEDIALIFT_RESUME_POLL_INTERVAL", 0),
		MaxAttempts:  resolveInt(*resumeMaxAttempts, "MEDIALIFT_RESUME_MAX_ATTEMPTS"),
		Logger:       logging.WithComponent(logger, "live"),
	})

	handler := api.NewHandler(store, orchestrator, logging.WithComponent(logger, "api"))
	handler.Policies = issuer
	handler.Resumer = resumer
	handler.WebhookSecret = firstNonEmpty(*webhookSecret, os.Getenv("MEDIALIFT_WEBHOOK_SECRET"))
	if handler.WebhookSecret == "" && serverMode == "production" {
		logger.Error("production mode requires MEDIALIFT_WEBHOOK_SECRET to be set")
		os.Exit(1)
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "MEDIALIFT_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "MEDIALIFT_RATE_GLOBAL_BURST"),
		WebhookLimit:  resolveInt(*webhookLimit, "MEDIALIFT_RATE_WEBHOOK_LIMIT"),
		WebhookWindow: resolveDuration(*webhookWindow, "MEDIALIFT_RATE_WEBHOOK_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MEDIALIFT_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MEDIALIFT_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "MEDIALIFT_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		TLS:       server.TLSConfig{CertFile: tlsCertPath, KeyFile: tlsKeyPath},
		RateLimit: rateCfg,
		CORS: server.CORSConfig{
			DashboardOrigins: splitAndTrim(firstNonEmpty(*dashboardOrigins, os.Getenv("MEDIALIFT_DASHBOARD_ORIGINS"))),
		},
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("Medialift API listening", "addr", listenAddr, "mode", serverMode)
		if tlsCertPath != "" && tlsKeyPath != "" {
			logger.Info("TLS enabled", "cert_file", tlsCertPath)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}

	if err := orchestrator.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop upload orchestrator", "error", err)
	}

	if closer, ok := ticketStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close ticket store", "error", err)
		}
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	logger.Info("server stopped")
}

// storeRefresher serves resume-live lookups from the local cache when no
// upstream resource API is configured.
type storeRefresher struct {
	store storage.Repository
}

func (s storeRefresher) Get(ctx context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error) {
	return s.store.GetObject(ctx, objectType, id)
}

type policyIssuerConfig struct {
	Driver       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UseSSL       bool
	UsePathStyle bool
	Expiry       time.Duration
	MaxSizeBytes int64
}

func configurePolicyIssuer(ctx context.Context, cfg policyIssuerConfig, resourceAPI *resource.Client) (policy.Issuer, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		switch {
		case resourceAPI != nil:
			driver = "resource-api"
		case cfg.Endpoint != "":
			driver = "signer"
		case cfg.Bucket != "":
			driver = "aws"
		default:
			// Uploads stay disabled; the API answers 503 on initiate-upload.
			return nil, nil
		}
	}
	switch driver {
	case "resource-api":
		if resourceAPI == nil {
			return nil, fmt.Errorf("resource-api policy driver selected without --resource-api-url")
		}
		return resourceAPI, nil
	case "signer":
		return policy.NewSigner(policy.SignerConfig{
			Endpoint:     cfg.Endpoint,
			Region:       cfg.Region,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			Bucket:       cfg.Bucket,
			UseSSL:       cfg.UseSSL,
			Expiry:       cfg.Expiry,
			MaxSizeBytes: cfg.MaxSizeBytes,
		})
	case "aws":
		return policy.NewAWSIssuer(ctx, policy.AWSIssuerConfig{
			Bucket:       cfg.Bucket,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			AccessKey:    cfg.AccessKey,
			SecretKey:    cfg.SecretKey,
			UsePathStyle: cfg.UsePathStyle,
			Expiry:       cfg.Expiry,
		})
	default:
		return nil, fmt.Errorf("unsupported policy driver %q", driver)
	}
}

func configureTicketStore(driver string, cfg tickets.RedisStoreConfig) (tickets.Store, error) {
	driver = strings.ToLower(strings.TrimSpace(firstNonEmpty(driver, os.Getenv("MEDIALIFT_TICKET_STORE"))))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the ticket store")
		}
		return tickets.NewRedisStore(cfg)
	case "", "memory":
		return tickets.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported ticket store driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "memory", nil
}

func validateProductionDatastore(driver, resolvedPostgresDSN string) error {
	if driver != "postgres" {
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MEDIALIFT_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
