package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/siteaudit/internal/config"
	"github.com/hitoshi/siteaudit/internal/database"
	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/gsc"
	"github.com/hitoshi/siteaudit/internal/handler"
	"github.com/hitoshi/siteaudit/internal/issue"
	"github.com/hitoshi/siteaudit/internal/logger"
	"github.com/hitoshi/siteaudit/internal/metrics"
	"github.com/hitoshi/siteaudit/internal/middleware"
	"github.com/hitoshi/siteaudit/internal/repository"
	"github.com/hitoshi/siteaudit/internal/security"
	"github.com/hitoshi/siteaudit/internal/site"
	"github.com/hitoshi/siteaudit/internal/sitemap"
	"github.com/hitoshi/siteaudit/internal/validation"
	"github.com/hitoshi/siteaudit/internal/validator"
	"github.com/hitoshi/siteaudit/internal/worker/cleanup"
	"github.com/hitoshi/siteaudit/internal/worker/schedule"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildValidationService は検証オーケストレーターと周辺依存をワイヤリングする。
// serveモードとworkerモードの両方で同一の構成を使う。
func buildValidationService(
	cfg *config.Config,
	siteRepo repository.SiteRepository,
	issueRepo repository.IssueRepository,
	tokenRepo repository.GoogleTokenRepository,
	collector *metrics.Collector,
) (*validation.Service, *gsc.OAuthProvider) {
	log := slog.Default()

	ssrfGuard := security.NewSSRFGuard()
	pageFetcher := fetcher.New(ssrfGuard, cfg.FetchTimeout, cfg.FetchMaxSize)

	// collectorがnilの場合、インターフェースもnilのままにする
	var metricsCollector metrics.MetricsCollector
	if collector != nil {
		pageFetcher.SetRecorder(collector)
		metricsCollector = collector
	}

	oauthProvider := gsc.NewOAuthProvider(gsc.OAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	tokenService := gsc.NewTokenService(tokenRepo, oauthProvider, log)
	inspector := gsc.NewClient(log)

	validationService := validation.NewService(validation.Config{
		Structured:  validator.NewStructuredDataValidator(pageFetcher, log),
		Indexing:    validator.NewIndexingValidator(pageFetcher, log),
		Performance: validator.NewPerformanceValidator(cfg.PageSpeedAPIKey, log),
		Mobile:      validator.NewMobileValidator(pageFetcher, log),

		Tokens:    tokenService,
		Inspector: inspector,
		URLSource: sitemap.NewReader(pageFetcher, log),

		SiteRepo:  siteRepo,
		IssueRepo: issueRepo,

		Metrics:       metricsCollector,
		Logger:        log,
		MaxURLs:       cfg.ValidateMaxURLs,
		MaxConcurrent: cfg.FetchMaxConcurrent,
	})

	return validationService, oauthProvider
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	siteRepo := repository.NewPostgresSiteRepo(db)
	issueRepo := repository.NewPostgresIssueRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	stateRepo := repository.NewPostgresStateRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. 検証オーケストレーターと周辺サービスの初期化
	validationService, oauthProvider := buildValidationService(
		cfg, siteRepo, issueRepo, tokenRepo, collector,
	)
	siteService := site.NewService(siteRepo, slog.Default())
	issueService := issue.NewService(issueRepo, slog.Default())

	if !cfg.GSCEnabled() {
		slog.Warn("Google OAuth credentials are not configured; GSC integration is disabled")
	}

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),

		ValidationService: validationService,
		SiteService:       siteService,
		IssueService:      issueService,

		OAuthProvider: oauthProvider,
		StateRepo:     stateRepo,
		TokenRepo:     tokenRepo,
		SiteFinder:    siteRepo,
		AuthConfig: handler.AuthHandlerConfig{
			SuccessRedirectURL: cfg.GSCSuccessRedirectURL,
		},
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、定期検証スケジューラを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	siteRepo := repository.NewPostgresSiteRepo(db)
	issueRepo := repository.NewPostgresIssueRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)
	stateRepo := repository.NewPostgresStateRepo(db)

	// 3. 検証オーケストレーターの初期化（ワーカーはメトリクスを公開しない）
	validationService, _ := buildValidationService(
		cfg, siteRepo, issueRepo, tokenRepo, nil,
	)

	// 4. 定期検証ランナーとスケジューラの初期化
	checker := schedule.NewChecker(validationService, siteRepo, issueRepo, slog.Default())
	scheduler := schedule.NewScheduler(siteRepo, checker, slog.Default(), cfg.FetchMaxConcurrent)

	// 5. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, stateRepo, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("schedule_interval", cfg.ScheduleInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 検証スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.ScheduleInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
