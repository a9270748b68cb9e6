package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/siteaudit/internal/middleware"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// ヘルスチェック・メトリクス
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 検証
	ValidationService ValidationServiceInterface

	// サイト・問題
	SiteService  SiteServiceInterface
	IssueService IssueServiceInterface

	// GSC接続（OAuth）
	OAuthProvider OAuthProviderInterface
	StateRepo     repository.OAuthStateRepository
	TokenRepo     repository.GoogleTokenRepository
	SiteFinder    SiteFinder
	AuthConfig    AuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
// POST /validate には検証専用の厳しいレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	validateHandler := NewValidateHandler(deps.ValidationService)
	siteHandler := NewSiteHandler(deps.SiteService)
	issueHandler := NewIssueHandler(deps.IssueService)
	authHandler := NewAuthHandler(deps.OAuthProvider, deps.StateRepo, deps.TokenRepo, deps.SiteFinder, deps.AuthConfig, deps.Logger)
	healthHandler := NewHealthHandler(deps.HealthChecker)

	// --- レート制限の外のルート ---

	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- レート制限付きのルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 検証実行（検証専用レート制限を追加）
		r.With(deps.RateLimiter.ValidateMiddleware()).Post("/validate", validateHandler.Validate)

		// サイト管理
		r.Route("/sites", func(r chi.Router) {
			r.Post("/", siteHandler.RegisterSite)
			r.Get("/", siteHandler.ListSites)
			r.Get("/{site_id}/issues", issueHandler.ListIssues)
		})

		// 問題管理
		r.Patch("/issues/{id}", issueHandler.UpdateStatus)

		// GSC接続（OAuthフロー）
		r.Route("/auth/google", func(r chi.Router) {
			r.Get("/", authHandler.Connect)
			r.Get("/callback", authHandler.Callback)
			r.Get("/status", authHandler.Status)
		})
	})

	return r
}
