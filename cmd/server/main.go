// Package main is the entrypoint for the kbforge API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/kbforge/internal/ai"
	"github.com/kiranshivaraju/kbforge/internal/api"
	"github.com/kiranshivaraju/kbforge/internal/articles"
	"github.com/kiranshivaraju/kbforge/internal/api/handler"
	mw "github.com/kiranshivaraju/kbforge/internal/api/middleware"
	"github.com/kiranshivaraju/kbforge/internal/cache"
	"github.com/kiranshivaraju/kbforge/internal/clock"
	"github.com/kiranshivaraju/kbforge/internal/config"
	"github.com/kiranshivaraju/kbforge/internal/deepmemory"
	"github.com/kiranshivaraju/kbforge/internal/events"
	"github.com/kiranshivaraju/kbforge/internal/ingest"
	"github.com/kiranshivaraju/kbforge/internal/jobs"
	"github.com/kiranshivaraju/kbforge/internal/scrape"
	"github.com/kiranshivaraju/kbforge/internal/scraper"
	"github.com/kiranshivaraju/kbforge/internal/storage"
	"github.com/kiranshivaraju/kbforge/internal/store"
	"github.com/kiranshivaraju/kbforge/internal/training"
	"github.com/kiranshivaraju/kbforge/internal/transcript"
	"github.com/kiranshivaraju/kbforge/internal/vectorstore"
	"github.com/kiranshivaraju/kbforge/pkg/metrics"
	"github.com/kiranshivaraju/kbforge/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

const (
	shutdownTimeout = 30 * time.Second
	// jobDrainTimeout bounds how long shutdown waits for running pipelines.
	jobDrainTimeout = 20 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Object storage for transcript artifacts
	artifacts, err := storage.NewMinioStore(
		storage.WithEndpoint(cfg.Storage.Endpoint),
		storage.WithBucket(cfg.Storage.Bucket),
		storage.WithCredentials(cfg.Storage.AccessKey, cfg.Storage.SecretKey),
		storage.WithSSL(cfg.Storage.UseSSL),
	)
	if err != nil {
		return fmt.Errorf("create object storage: %w", err)
	}
	if err := artifacts.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	slog.Info("object storage ready", "bucket", cfg.Storage.Bucket)

	// 6. Create AI provider and external collaborators
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	questions := ai.NewQuestionService(aiProvider, cfg.AI.InferenceTimeout)
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	qdrant := vectorstore.NewQdrantIndex(vectorstore.QdrantOptions{
		BaseURL:          cfg.Vector.QdrantURL,
		APIKey:           cfg.Vector.QdrantAPIKey,
		CollectionPrefix: cfg.Vector.CollectionPrefix,
		ScoreThreshold:   cfg.Vector.ScoreThreshold,
		Timeout:          cfg.Vector.Timeout,
	},
		vectorstore.NewSplitter(cfg.Vector.ChunkSize, cfg.Vector.ChunkOverlap),
		vectorstore.NewOpenAIEmbedder(cfg.Vector.EmbeddingURL, cfg.Vector.EmbeddingAPIKey,
			cfg.Vector.EmbeddingModel, cfg.Vector.Timeout),
	)
	index := vectorstore.NewCachedIndex(qdrant, redisCache, cfg.Vector.SearchCacheTTL)
	transcripts := transcript.NewHTTPFetcher(cfg.Transcript.ServiceURL, cfg.Transcript.Language, cfg.Transcript.Timeout)
	pages := scraper.NewHTTPFetcher(cfg.Scrape.UserAgent, cfg.Scrape.MaxContentBytes, cfg.Scrape.Timeout,
		scraper.AllowPrivateNetworks(cfg.Scrape.AllowPrivate))
	dmClient := deepmemory.NewHTTPClient(cfg.DeepMemory.ServiceURL, cfg.DeepMemory.Token, cfg.DeepMemory.Timeout)

	// 7. Create store
	pgStore := store.NewPostgresStore(pool)
	if cfg.Server.BootstrapAPIKey != "" {
		if err := ensureBootstrapKey(ctx, pgStore, cfg.Server.BootstrapAPIKey); err != nil {
			return fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	// 8. Job registry, event fan-out and the Redis mirror
	mirror := cache.NewJobMirror(redisCache, cfg.Jobs.MirrorTTL)
	broker := jobs.NewBroker(jobs.WithSubscriberGauge(metrics.AddStreamSubscribers))
	registry := jobs.NewRegistry(broker,
		jobs.WithClock(clock.Real{}),
		jobs.WithRetention(cfg.Jobs.Retention),
		jobs.WithHook(jobHook(mirror)),
	)

	bg, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()
	go mirror.Run(bg)
	go registry.RunJanitor(bg, cfg.Jobs.SweepInterval)

	dispatcher := jobs.NewDispatcher(bg, registry)

	// 9. Pipelines and services
	ingestSvc := ingest.NewService(registry, dispatcher, pgStore,
		ingest.NewPipeline(registry, transcripts, artifacts, pgStore, index, clock.Real{}, cfg.Transcript.Delay),
		index, artifacts)
	scrapeSvc := scrape.NewService(registry, dispatcher, pgStore,
		scrape.NewPipeline(registry, pages, pgStore, index, clock.Real{}, cfg.Scrape.Concurrency, cfg.Scrape.PageDelay),
		index)
	articleSvc := articles.NewService(registry, dispatcher, pgStore, pages, index)
	trainingSvc := training.NewService(registry, dispatcher, pgStore, index,
		training.NewGenerator(registry, pgStore, index, questions, clock.Real{}, training.GeneratorConfig{
			QuestionsPerChunk: cfg.DeepMemory.QuestionsPerChunk,
			MaxPairs:          cfg.DeepMemory.MaxPairs,
			Delay:             cfg.DeepMemory.GenerationDelay,
		}),
		training.NewTrainer(registry, pgStore, dmClient, clock.Real{}, training.PollConfig{
			Base:     cfg.DeepMemory.PollBase,
			Max:      cfg.DeepMemory.PollMax,
			Deadline: cfg.DeepMemory.PollDeadline,
		}),
	)

	// 10. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RequestsPerMinute),
		Metrics:   metrics.NewMiddleware(prometheus.DefaultRegisterer),

		HealthHandler:  handler.NewHealthHandler(pgStore, redisCache),
		MetricsHandler: promhttp.Handler(),

		AddYouTube:    handler.NewAddYouTubeHandler(ingestSvc),
		DeleteChannel: handler.NewDeleteChannelHandler(ingestSvc),

		ScrapeArticle: handler.NewScrapeArticleHandler(articleSvc),
		ListArticles:  handler.NewListArticlesHandler(articleSvc),
		GetArticle:    handler.NewGetArticleHandler(articleSvc),
		DeleteArticle: handler.NewDeleteArticleHandler(articleSvc),

		DiscoverDocs:     handler.NewDiscoverHandler(pages),
		ScrapeDocs:       handler.NewScrapeHandler(scrapeSvc),
		RetryDocs:        handler.NewRetryHandler(scrapeSvc),
		DeleteCollection: handler.NewDeleteCollectionHandler(scrapeSvc),
		ListPages:        handler.NewListPagesHandler(scrapeSvc),

		GeneratePairs:  handler.NewGenerateHandler(trainingSvc),
		TrainModel:     handler.NewTrainHandler(trainingSvc),
		ResumeRun:      handler.NewResumeHandler(trainingSvc),
		ListRuns:       handler.NewListRunsHandler(trainingSvc),
		GetRun:         handler.NewRunDetailHandler(trainingSvc),
		GetSettings:    handler.NewGetSettingsHandler(trainingSvc),
		UpdateSettings: handler.NewPutSettingsHandler(trainingSvc),

		GetJob:       handler.NewJobHandler(registry, redisCache),
		StreamEvents: handler.NewEventsHandler(events.NewStream(registry, cfg.Jobs.Keepalive), registry),

		Search: handler.NewSearchHandler(index),

		CreateKey: handler.NewCreateKeyHandler(pgStore),
		ListKeys:  handler.NewListKeysHandler(pgStore),
		RevokeKey: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 11. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(broker.CloseAll)

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	cancelBG()
	if !dispatcher.Wait(jobDrainTimeout) {
		slog.Warn("background jobs still running at shutdown")
	}

	slog.Info("server stopped")
	return nil
}

// jobHook records job metrics and mirrors every snapshot to Redis so that
// polls keep working after the registry evicts the job.
func jobHook(mirror *cache.JobMirror) jobs.Hook {
	return func(prev jobs.Status, snap jobs.Snapshot) {
		kind := string(snap.Kind)
		switch {
		case prev == "":
			metrics.RecordJobCreated(kind)
		case !prev.Terminal() && snap.Status.Terminal():
			metrics.RecordJobFinished(kind, string(snap.Status))
		}

		data, err := json.Marshal(snap)
		if err != nil {
			slog.Warn("marshal job snapshot", "job_id", snap.ID, "error", err)
			return
		}
		mirror.Enqueue(snap.ID, data)
	}
}

// bootstrapKeys is the store surface needed to seed the first admin key.
type bootstrapKeys interface {
	GetDefaultOwner(ctx context.Context) (*models.Owner, error)
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// ensureBootstrapKey stores raw as an admin key for the default owner
// unless it is already present.
func ensureBootstrapKey(ctx context.Context, s bootstrapKeys, raw string) error {
	if !strings.HasPrefix(raw, handler.RawKeyPrefix) || len(raw) < 16 {
		return fmt.Errorf("BOOTSTRAP_API_KEY must start with %q and be at least 16 characters", handler.RawKeyPrefix)
	}
	owner, err := s.GetDefaultOwner(ctx)
	if err != nil {
		return fmt.Errorf("get default owner: %w", err)
	}

	existing, err := s.GetAPIKeyByPrefix(ctx, raw[:8])
	if err != nil {
		return err
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return nil
		}
	}

	key, err := handler.KeyFromRaw(owner.ID, "bootstrap", raw, []string{mw.ScopeRead, mw.ScopeWrite, mw.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("create key: %w", err)
	}
	slog.Info("bootstrap api key created", "key_prefix", key.KeyPrefix)
	return nil
}
