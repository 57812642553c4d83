package app

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedcaster/internal/auditlog"
	"github.com/hitoshi/feedcaster/internal/caption"
	"github.com/hitoshi/feedcaster/internal/config"
	"github.com/hitoshi/feedcaster/internal/handler"
	"github.com/hitoshi/feedcaster/internal/image"
	"github.com/hitoshi/feedcaster/internal/ingest"
	"github.com/hitoshi/feedcaster/internal/logger"
	"github.com/hitoshi/feedcaster/internal/metrics"
	"github.com/hitoshi/feedcaster/internal/pipeline"
	"github.com/hitoshi/feedcaster/internal/publisher"
	"github.com/hitoshi/feedcaster/internal/repository"
	"github.com/hitoshi/feedcaster/internal/security"
	"github.com/hitoshi/feedcaster/internal/worker/scheduler"
)

// components はserveとworkerで共有する依存関係一式。
type components struct {
	db        *sql.DB
	registry  *prometheus.Registry
	ingest    *ingest.Service
	pipeline  *pipeline.Orchestrator
	scheduler *scheduler.Scheduler
	images    *handler.ImageHandler
}

// buildComponents は設定からリポジトリ、外部APIクライアント、パイプラインを組み立てる。
func buildComponents(db *sql.DB, cfg *config.Config, base *slog.Logger) *components {
	// 1. リポジトリ
	campaignRepo := repository.NewPostgresCampaignRepo(db)
	postRepo := repository.NewPostgresPostRepo(db)
	logRepo := repository.NewPostgresLogRepo(db)
	settingsRepo := repository.NewPostgresUserSettingsRepo(db)

	// 2. メトリクスと監査ログ
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)
	audit := auditlog.NewRecorder(logRepo, logger.Component(base, "auditlog"))

	// 3. セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// 4. 画像
	imageClient := &http.Client{Timeout: cfg.FetchTimeout}
	resolver := image.NewResolver([]image.Provider{
		image.NewPexelsProvider(imageClient),
		image.NewWikimediaProvider(imageClient, cfg.WikimediaUserAgent, sanitizer),
		image.NewUnsplashProvider(imageClient),
	}, audit, collector, logger.Component(base, "image"))
	ogExtractor := image.NewOgImageExtractor(ssrfGuard, cfg.OgImageTimeout)
	globalKeys := image.Keys{
		PexelsAPIKey:      cfg.PexelsAPIKey,
		UnsplashAccessKey: cfg.UnsplashAccessKey,
	}

	// 5. キャプション生成と投稿API
	generator := caption.NewGenerator(settingsRepo, caption.Config{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.OpenAIBaseURL,
		Model:       cfg.OpenAIModel,
		Temperature: cfg.OpenAITemperature,
		Timeout:     cfg.AIRequestTimeout,
	}, caption.NewArticleExtractor(ssrfGuard, cfg.FetchTimeout, cfg.FetchMaxSize), collector, logger.Component(base, "caption"))
	publishClient := publisher.NewClient(&http.Client{Timeout: cfg.PublishTimeout}, cfg.PostlyBaseURL, logger.Component(base, "publisher"))

	// 6. パイプライン
	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Campaigns: campaignRepo,
		Posts:     postRepo,
		Settings:  settingsRepo,
		Generator: generator,
		Images:    resolver,
		Og:        ogExtractor,
		Publisher: publishClient,
		Audit:     audit,
		Metrics:   collector,
		Logger:    logger.Component(base, "pipeline"),
	}, pipeline.Config{
		MaxGenerationAttempts: cfg.MaxGenerationAttempts,
		MaxPublishAttempts:    cfg.MaxPublishAttempts,
		MaxImageAttempts:      cfg.MaxImageAttempts,
		PublishBackoffUnit:    cfg.PublishBackoffUnit,
		LeaseDuration:         cfg.LeaseDuration,
		ImageKeys:             globalKeys,
	})

	// 7. 取り込み
	fetcher := ingest.NewFetcher(ssrfGuard, logger.Component(base, "fetcher"), cfg.FetchTimeout, cfg.FetchMaxSize)
	ingestService := ingest.NewService(
		campaignRepo, postRepo, fetcher, orchestrator, audit, collector,
		logger.Component(base, "ingest"),
		ingest.Config{ItemLimit: cfg.FeedItemLimit, DefaultTimezone: cfg.DefaultTimezone},
	)

	// 8. スケジューラ
	sched := scheduler.NewScheduler(
		campaignRepo, postRepo, logRepo, ingestService, orchestrator, audit,
		logger.Component(base, "scheduler"),
		scheduler.Config{
			Interval:         cfg.SchedulerInterval,
			PrepareBatchSize: cfg.PrepareBatchSize,
			PrepareWindow:    cfg.PrepareWindow,
			FetchCooldown:    cfg.FetchCooldown,
		},
	)

	return &components{
		db:        db,
		registry:  registry,
		ingest:    ingestService,
		pipeline:  orchestrator,
		scheduler: sched,
		images:    handler.NewImageHandler(resolver, ogExtractor, settingsRepo, globalKeys, logger.Component(base, "handler")),
	}
}
