package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"avatar-studio/internal/automation"
	"avatar-studio/internal/cache"
	"avatar-studio/internal/catalog"
	"avatar-studio/internal/config"
	"avatar-studio/internal/httpserver"
	"avatar-studio/internal/logging"
	"avatar-studio/internal/metrics"
	"avatar-studio/internal/plan"
	"avatar-studio/internal/poller"
	"avatar-studio/internal/provider"
	"avatar-studio/internal/provider/avatar"
	"avatar-studio/internal/provider/imagegen"
	"avatar-studio/internal/provider/llm"
	"avatar-studio/internal/provider/voice"
	"avatar-studio/internal/repo"
	"avatar-studio/internal/storage"
	"avatar-studio/internal/studio"
	"avatar-studio/internal/sweeper"
	"avatar-studio/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting avatar-studio", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer repository.Close()

	var (
		planCache plan.Cache
		locker    poller.Locker
	)
	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   "avatar-studio:",
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed, continuing without cache", "error", err)
		} else {
			planCache = redisClient
			locker = redisClient
		}
	}

	tracker := poller.NewTracker(logger, metricRegistry, locker)
	defer tracker.Close()

	avatarClient := avatar.New(avatar.Config{
		Config:         providerConfig(cfg.HeyGenBaseURL, cfg.HeyGenAPIKey, cfg.HeyGenTimeout),
		DefaultVoiceID: cfg.HeyGenDefaultVoice,
	}, logger, metricRegistry)

	deps := studio.Deps{
		Store:       repository,
		Gate:        plan.NewGate(repository, planCache, cfg.PlanCacheTTL, metricRegistry, logger),
		Avatar:      avatarClient,
		AudioBucket: cfg.AudioBucket,
		Notifier: automation.NewDispatcher(repository, automation.DispatcherConfig{
			RetryMax: cfg.AutomationRetryMax,
			Timeout:  cfg.AutomationTimeout,
		}, logger, metricRegistry),
		Tracker:       tracker,
		Polls:         pollSettings(cfg),
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
		Metrics:       metricRegistry,

		TranslationRetention: cfg.TranslationRetention,
	}
	if cfg.HeyGenAPIKey == "" {
		logger.Warn("HEYGEN_API_KEY is empty, video requests will fail")
	}
	// Optional providers stay nil interfaces when unconfigured.
	var voices catalog.VoiceLister
	if cfg.ElevenLabsAPIKey != "" {
		voiceClient := voice.New(voice.Config{Config: providerConfig(cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey, cfg.ElevenLabsTimeout), ModelID: cfg.ElevenLabsModel}, logger, metricRegistry)
		deps.Voice = voiceClient
		voices = voiceClient
	}
	if cfg.OpenAIAPIKey != "" {
		deps.LLM = llm.New(llm.Config{Config: providerConfig(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAITimeout), Model: cfg.OpenAIModel}, logger, metricRegistry)
	}
	if cfg.BFLAPIKey != "" {
		deps.Images = imagegen.New(imagegen.Config{Config: providerConfig(cfg.BFLBaseURL, cfg.BFLAPIKey, cfg.BFLTimeout), Model: cfg.BFLModel}, logger, metricRegistry)
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		deps.Storage = storage.New(cfg.SupabaseURL, cfg.SupabaseServiceKey, logger, metricRegistry)
	}
	st := studio.New(deps)
	templates := catalog.New(avatarClient, voices, planCache, cfg.CatalogCacheTTL, logger)

	if n, err := st.Contents.Resume(ctx); err != nil {
		logger.Warn("resume polls failed", "error", err)
	} else if n > 0 {
		logger.Info("resumed video polls", "count", n)
	}

	sweep, err := sweeper.New(sweeper.Config{
		Schedule:   cfg.SweepSchedule,
		StaleAfter: cfg.StaleAfter,
	}, st.Contents.Sweep, logger, metricRegistry)
	if err != nil {
		return fmt.Errorf("init sweeper: %w", err)
	}
	sweep.Start()

	inboundHandler := automation.NewInboundHandler(logger, metricRegistry, st.Webhooks)
	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Handlers{
		InboundWebhook: inboundHandler,
		Sweep:          sweep.Handler(cfg.AdminToken),
	}, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
		Studio:     st,
		Catalog:    templates,
		AdminToken: cfg.AdminToken,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sweep.Stop(shutdownCtx)

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	var (
		repository repo.Repository
		files      fs.FS
	)
	if cfg.UsePostgres() {
		pg, err := repo.New(ctx, cfg.DatabaseURL, cfg.SupabaseSchema, logger)
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		repository, files = pg, migrations.Postgres()
	} else {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		lite, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite repository: %w", err)
		}
		repository, files = lite, migrations.SQLite()
	}

	if err := repository.RunMigrations(ctx, files); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return repository, nil
}

func providerConfig(baseURL, apiKey string, timeout time.Duration) provider.Config {
	return provider.Config{BaseURL: baseURL, APIKey: apiKey, Timeout: timeout}
}

func pollSettings(cfg *config.Config) studio.PollSettings {
	return studio.PollSettings{
		Video:       poller.Config{Kind: "video", Interval: cfg.VideoPollInterval, TransportRetries: cfg.PollTransportRetries},
		Look:        poller.Config{Kind: "look", Interval: cfg.LookPollInterval, MaxAttempts: cfg.LookPollAttempts, TransportRetries: cfg.PollTransportRetries},
		Motion:      poller.Config{Kind: "motion", Interval: cfg.MotionPollInterval, MaxAttempts: cfg.MotionPollAttempts, TransportRetries: cfg.PollTransportRetries},
		Image:       poller.Config{Kind: "image", Interval: cfg.ImagePollInterval, MaxAttempts: cfg.ImagePollAttempts, TransportRetries: cfg.PollTransportRetries},
		Translation: poller.Config{Kind: "translation", Interval: cfg.VideoPollInterval, TransportRetries: cfg.PollTransportRetries},
	}
}
