package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedcaster/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	UserIDHeader      string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	Ingest          IngestService
	Posts           PostService
	Drafts          DraftProcessor
	Scheduler       SchedulerService
	Images          *ImageHandler
	DefaultTimezone string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → CORS → SecurityHeaders → Identity → RateLimit（外部APIを消費するルートのみ）
//
// /health と /metrics は識別ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	r.Get("/health", NewHealthHandler(deps.HealthChecker, logger))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	campaignHandler := NewCampaignHandler(deps.Ingest, deps.Drafts, logger)
	postHandler := NewPostHandler(deps.Posts, logger)
	schedulerHandler := NewSchedulerHandler(deps.Scheduler, logger)
	scheduleHandler := NewScheduleHandler(deps.DefaultTimezone)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.UserIDHeader))

		r.Get("/schedule/describe", scheduleHandler.Describe)
		if deps.Images != nil {
			r.Get("/images/search", deps.Images.Search)
			r.Get("/images/og", deps.Images.Og)
		}

		// AI・投稿APIを消費するルート
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.Middleware())
			}

			r.Post("/campaigns/ingest", campaignHandler.IngestAll)
			r.Route("/campaigns/{id}", func(r chi.Router) {
				r.Post("/ingest", campaignHandler.IngestCampaign)
				r.Post("/drafts/process", campaignHandler.ProcessDrafts)
			})

			r.Route("/posts/{id}", func(r chi.Router) {
				r.Post("/generate", postHandler.Generate)
				r.Post("/process", postHandler.Process)
				r.Post("/publish", postHandler.Publish)
			})

			r.Post("/scheduler/{action}", schedulerHandler.Run)
		})
	})

	return r
}
