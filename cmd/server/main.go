package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/johnestech/smart-study-assistant/internal/app"
	"github.com/johnestech/smart-study-assistant/internal/assistant"
	"github.com/johnestech/smart-study-assistant/internal/config"
	"github.com/johnestech/smart-study-assistant/internal/ratelimit"
	"github.com/johnestech/smart-study-assistant/internal/server"
	"github.com/johnestech/smart-study-assistant/internal/util"
	"github.com/johnestech/smart-study-assistant/internal/worker"
	"github.com/johnestech/smart-study-assistant/pkg/ai"
	"github.com/johnestech/smart-study-assistant/pkg/queue"
	"github.com/johnestech/smart-study-assistant/pkg/storage"
	"github.com/johnestech/smart-study-assistant/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	dataStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	var revoker store.TokenRevoker
	var resets store.ResetTokenStore
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		resets = store.NewRedisResetTokenStore(cfg.RedisAddr, cfg.RedisPassword)
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	} else {
		slog.Warn("redis not configured, using in-memory token stores")
		revoker = store.NewMemoryTokenRevoker()
		resets = store.NewMemoryResetTokenStore()
	}

	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, time.Duration(cfg.JWTTTLHours)*time.Hour, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	})
	if err != nil {
		log.Fatalf("failed to init sessions: %v", err)
	}

	objects, err := newObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	jobs, err := newJobQueue(cfg)
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	geminiClient, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
	if err != nil {
		log.Fatalf("failed to init gemini client: %v", err)
	}
	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	studyAssistant := assistant.New(ai.NewGeminiGenerator(geminiClient, model), logger)

	appCore := app.New(app.Config{
		Store:       dataStore,
		Sessions:    sessions,
		ResetTokens: resets,
		Objects:     objects,
		Jobs:        jobs,
		Assistant:   studyAssistant,
		Logger:      logger,
	})

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxy config: %v", err)
	}

	serverCfg := server.Config{App: appCore, TrustedProxies: trustedProxies}
	if redisClient != nil {
		serverCfg.SignupLimiter = newLimiter(redisClient, "signup", cfg.SignupRateLimitPerMinute, 5)
		serverCfg.LoginLimiter = newLimiter(redisClient, "login", cfg.LoginRateLimitPerMinute, 10)
		serverCfg.PasswordLimiter = newLimiter(redisClient, "password", cfg.PasswordRateLimitPerMinute, 10)
	} else {
		slog.Warn("redis not configured, auth rate limiting disabled")
	}
	httpServer := server.New(serverCfg)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return worker.New(appCore, jobs, cfg.WorkerConcurrency, logger).Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("database not configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		slog.Warn("minio not configured, using in-memory object store")
		return storage.NewMemoryObjectStore(), nil
	}
	bucket := cfg.MinioBucket
	if bucket == "" {
		bucket = "study-uploads"
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, bucket, cfg.MinioUseSSL)
}

func newJobQueue(cfg config.FileConfig) (queue.JobQueue, error) {
	if cfg.RabbitURL == "" {
		slog.Warn("rabbitmq not configured, using in-process job queue")
		return queue.NewMemoryJobQueue(), nil
	}
	return queue.NewRabbitJobQueue(cfg.RabbitURL, cfg.RabbitQueue)
}

func newLimiter(client *redis.Client, name string, perMinute, fallback int) *ratelimit.FixedWindowLimiter {
	if perMinute <= 0 {
		perMinute = fallback
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(client, "studyassist:ratelimit:"+name, perMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init %s limiter: %v", name, err)
	}
	return limiter
}
