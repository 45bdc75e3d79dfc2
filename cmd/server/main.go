package main

import (
	"context"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	januapi "github.com/janua-io/janua/api/echo"
	"github.com/janua-io/janua/cache"
	redisstore "github.com/janua-io/janua/cache/redis"
	"github.com/janua-io/janua/config"
	"github.com/janua-io/janua/internal/auth"
	"github.com/janua-io/janua/internal/crypto"
	"github.com/janua-io/janua/internal/metrics"
	"github.com/janua-io/janua/internal/secrets"
	"github.com/janua-io/janua/internal/telemetry"
	"github.com/janua-io/janua/mongodb"
	"github.com/janua-io/janua/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("configured_level", cfg.LogLevel).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure indexes")
	}

	var store cache.Store
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		store = redisstore.NewStore(client, cfg.RedisPrefix)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis cache store")
	} else {
		store = cache.NewMemoryStore()
		log.Warn().Msg("REDIS_ADDR not set, using in-memory cache store")
	}

	secretsKey, err := hex.DecodeString(cfg.SecretsKey)
	if err != nil || len(secretsKey) != 32 {
		log.Fatal().Msg("SECRETS_KEY must be 64 hex characters")
	}
	secretStore, err := secrets.NewStore(secretsKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize secret store")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Init(registry)

	tp, mp, err := telemetry.Init(registry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetry.Shutdown(context.Background(), tp, mp)

	signer := services.NewTokenSigner()
	signer.AddKeySigner(cfg.JWTSecretKey)
	rsaKey, err := crypto.GenerateRSAKey()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to generate signing key")
	}
	signer.AddRSASigner("primary", rsaKey)

	userRepo := mongodb.NewUserRepository(db)
	clientRepo := mongodb.NewClientRepository(db)
	idpRepo := mongodb.NewIdPRepository(db)
	policyRepo := mongodb.NewPolicyRepository(db)
	rbacRepo := mongodb.NewRBACPolicyRepository(db)
	adaptiveRepo := mongodb.NewAdaptivePolicyRepository(db)
	sessionRepo := mongodb.NewSessionRepository(db)
	deviceRepo := mongodb.NewDeviceRepository(db)

	hasher := auth.NewBcryptPasswordHasher(0)

	tokenService := services.NewTokenService(signer, store, userRepo, services.TokenServiceConfig{
		Issuer:          cfg.PublicURL,
		AccessTokenTTL:  time.Duration(cfg.AccessTokenTTLMin) * time.Minute,
		RefreshTokenTTL: time.Duration(cfg.RefreshTokenTTLHour) * time.Hour,
		SigningKeyID:    "primary",
	})
	oauthService := services.NewOAuthService(clientRepo, userRepo, tokenService, store, hasher)
	userService := services.NewUserService(userRepo, hasher)
	rbacService := services.NewRBACService(userRepo, rbacRepo, store)
	policyEngine := services.NewPolicyEngine(policyRepo, store)
	riskService := services.NewRiskService(deviceRepo, adaptiveRepo, nil)
	ssoService := services.NewSSOService(idpRepo, sessionRepo, services.NewJITProvisioner(userRepo), secretStore, store, services.SSOServiceConfig{
		BaseURL:               cfg.PublicURL,
		MetadataHostAllowlist: cfg.AllowedMetadataHosts(),
	})

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	januapi.NewOAuth2API(oauthService, tokenService, signer, cfg.PublicURL).RegisterRoutes(e)
	januapi.NewAuthAPI(userService, tokenService).RegisterRoutes(e)
	januapi.NewSSOAPI(ssoService, tokenService, rbacService).RegisterRoutes(e)
	januapi.NewAuthzAPI(rbacService, policyEngine, riskService, tokenService).RegisterRoutes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	go func() {
		addr := ":" + cfg.HTTPPort
		log.Info().Str("addr", addr).Msg("janua server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
