// Package validation は検証リクエストのオーケストレーションを提供する。
// チェックの選択、対象URLの決定、バリデーター/GSCパスの実行、
// 問題の組み立てと永続化をまとめる。
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/siteaudit/internal/gsc"
	"github.com/hitoshi/siteaudit/internal/issue"
	"github.com/hitoshi/siteaudit/internal/metrics"
	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
	"github.com/hitoshi/siteaudit/internal/site"
)

// チェック名。リクエストのchecks[]およびdetailsのカテゴリと同じ語彙を使う。
const (
	CheckStructuredData = "structured_data"
	CheckIndexing       = "indexing"
	CheckPerformance    = "performance"
	CheckMobile         = "mobile"
)

// allChecks はchecks[]省略時に実行される全チェック。
var allChecks = []string{CheckStructuredData, CheckIndexing, CheckPerformance, CheckMobile}

// URLValidator は1つのURLを検査するバリデーターのインターフェース。
// 各バリデーターはネットワーク失敗を0件に縮退させるため、エラーを返さない。
type URLValidator interface {
	Validate(ctx context.Context, pageURL string) []model.Issue
}

// Inspector はGSC URL Inspection APIの呼び出しインターフェース。
type Inspector interface {
	InspectURL(ctx context.Context, accessToken, pageURL, siteProperty string) (*gsc.InspectionResult, error)
}

// TokenProvider はGSCアクセストークンの取得インターフェース。
type TokenProvider interface {
	EnsureToken(ctx context.Context, siteID string) (*model.GoogleToken, error)
}

// URLSource はサイトマップからの検証対象URL収集インターフェース。
type URLSource interface {
	ReadURLs(ctx context.Context, sitemapURL string, maxURLs int) []string
}

// Request は1回の検証リクエストの内容。
type Request struct {
	SiteURL     string
	Checks      []string
	MaxURLs     int
	SiteID      string
	UseGSC      bool
	GSCProperty string
}

// Result は1回の検証の結果。
type Result struct {
	ValidationID string
	Status       string
	URLsChecked  int
	Summary      model.Summary
	Issues       []model.Issue
	GSCUsed      bool
	GSCProperty  string
}

// Service は検証のオーケストレーターを表す。
type Service struct {
	structured  URLValidator
	indexing    URLValidator
	performance URLValidator
	mobile      URLValidator

	tokens    TokenProvider
	inspector Inspector
	urlSource URLSource

	siteRepo  repository.SiteRepository
	issueRepo repository.IssueRepository

	metrics       metrics.MetricsCollector
	logger        *slog.Logger
	maxURLs       int
	maxConcurrent int
}

// Config はServiceの依存関係。
type Config struct {
	Structured  URLValidator
	Indexing    URLValidator
	Performance URLValidator
	Mobile      URLValidator

	Tokens    TokenProvider
	Inspector Inspector
	URLSource URLSource

	SiteRepo  repository.SiteRepository
	IssueRepo repository.IssueRepository

	Metrics       metrics.MetricsCollector
	Logger        *slog.Logger
	MaxURLs       int
	MaxConcurrent int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(cfg Config) *Service {
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Service{
		structured:    cfg.Structured,
		indexing:      cfg.Indexing,
		performance:   cfg.Performance,
		mobile:        cfg.Mobile,
		tokens:        cfg.Tokens,
		inspector:     cfg.Inspector,
		urlSource:     cfg.URLSource,
		siteRepo:      cfg.SiteRepo,
		issueRepo:     cfg.IssueRepo,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		maxURLs:       cfg.MaxURLs,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// Validate は検証リクエストを実行する。
// チェック未指定時は全チェックを実行する。GSCパスが選択された場合、
// ローカルのstructured_data/indexing/mobileの代わりにGSCの検査結果を使用し、
// GSCがカバーしないperformanceのみローカルで実行して連結する。
func (s *Service) Validate(ctx context.Context, req Request) (*Result, error) {
	if req.SiteURL == "" {
		return nil, model.NewValidationError("site_urlは必須です")
	}
	parsed, err := url.Parse(req.SiteURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, model.NewInvalidURLError(req.SiteURL)
	}

	checks, err := resolveChecks(req.Checks)
	if err != nil {
		return nil, err
	}

	siteID := req.SiteID
	if siteID == "" {
		siteID, err = site.ExtractSiteID(req.SiteURL)
		if err != nil {
			return nil, model.NewInvalidURLError(req.SiteURL)
		}
	}

	registered, err := s.siteRepo.FindByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("サイトの取得に失敗しました: %w", err)
	}

	urls := s.collectTargetURLs(ctx, req, registered)

	result := &Result{
		ValidationID: uuid.NewString(),
		Status:       "completed",
		URLsChecked:  len(urls),
	}

	var raw []model.Issue
	if req.UseGSC {
		gscProperty := s.resolveGSCProperty(req, registered, siteID)
		gscIssues, err := s.runGSCPath(ctx, siteID, gscProperty, urls)
		if err != nil {
			return nil, err
		}
		raw = gscIssues
		// GSCはパフォーマンスをカバーしないためローカルで補完する
		if contains(checks, CheckPerformance) {
			raw = append(raw, s.runLocal(ctx, urls, []string{CheckPerformance})...)
		}
		result.GSCUsed = true
		result.GSCProperty = gscProperty
	} else {
		raw = s.runLocal(ctx, urls, checks)
	}

	now := time.Now()
	issues := issue.Assemble(siteID, raw, now)

	if err := s.issueRepo.UpsertBatch(ctx, issues); err != nil {
		return nil, fmt.Errorf("問題の保存に失敗しました: %w", err)
	}

	summary := issue.Summarize(issues)

	if s.metrics != nil {
		s.metrics.RecordValidation()
		s.metrics.RecordIssuesDetected(string(model.CategoryStructuredData), summary.ByCategory.StructuredData)
		s.metrics.RecordIssuesDetected(string(model.CategoryIndexing), summary.ByCategory.Indexing)
		s.metrics.RecordIssuesDetected(string(model.CategoryPerformance), summary.ByCategory.Performance)
		s.metrics.RecordIssuesDetected(string(model.CategoryMobile), summary.ByCategory.Mobile)
	}

	s.logger.Info("検証が完了しました",
		slog.String("validation_id", result.ValidationID),
		slog.String("site_id", siteID),
		slog.Int("urls_checked", len(urls)),
		slog.Int("total_issues", summary.TotalIssues),
		slog.Bool("gsc_used", result.GSCUsed),
	)

	result.Summary = summary
	result.Issues = issues
	return result, nil
}

// resolveChecks はchecks[]を検証して解決する。空の場合は全チェックを返す。
func resolveChecks(checks []string) ([]string, error) {
	if len(checks) == 0 {
		return allChecks, nil
	}
	for _, check := range checks {
		if !contains(allChecks, check) {
			return nil, model.NewUnknownCheckError(check)
		}
	}
	return checks, nil
}

// collectTargetURLs は検証対象のURLリストを決定する。
// 登録済みサイトにsitemap_urlがある場合はサイトマップからmax_urls件まで
// 収集し、失敗時はsite_urlのみに縮退する。
func (s *Service) collectTargetURLs(ctx context.Context, req Request, registered *model.Site) []string {
	maxURLs := req.MaxURLs
	if maxURLs <= 0 || maxURLs > s.maxURLs {
		maxURLs = s.maxURLs
	}

	urls := []string{req.SiteURL}

	if registered == nil || registered.SitemapURL == "" || s.urlSource == nil {
		return urls
	}

	seen := map[string]bool{req.SiteURL: true}
	for _, u := range s.urlSource.ReadURLs(ctx, registered.SitemapURL, maxURLs) {
		if len(urls) >= maxURLs {
			break
		}
		if seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}

	return urls
}

// resolveGSCProperty は使用するGSCプロパティを決定する。
// リクエスト指定 > サイト登録値 > サイトIDからのドメインプロパティの順。
func (s *Service) resolveGSCProperty(req Request, registered *model.Site, siteID string) string {
	if req.GSCProperty != "" {
		return req.GSCProperty
	}
	if registered != nil && registered.GSCProperty != "" {
		return registered.GSCProperty
	}
	return "sc-domain:" + siteID
}

// runGSCPath はGSCの検査結果から問題を収集する。
// トークン未接続の場合はNOT_CONNECTEDエラーを返す。
// 個別URLの検査失敗は0件として扱う。
func (s *Service) runGSCPath(ctx context.Context, siteID, gscProperty string, urls []string) ([]model.Issue, error) {
	token, err := s.tokens.EnsureToken(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("GSCトークンの取得に失敗しました: %w", err)
	}
	if token == nil {
		return nil, model.NewNotConnectedError(siteID)
	}

	var issues []model.Issue
	for _, pageURL := range urls {
		inspection, err := s.inspector.InspectURL(ctx, token.AccessToken, pageURL, gscProperty)
		if err != nil {
			s.logger.Warn("URL検査に失敗しました",
				slog.String("url", pageURL),
				slog.String("error", err.Error()),
			)
			continue
		}
		issues = append(issues, gsc.MapInspection(pageURL, inspection)...)
	}

	return issues, nil
}

// runLocal はローカルバリデーターを(URL, チェック)ごとに並列実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Service) runLocal(ctx context.Context, urls, checks []string) []model.Issue {
	validators := map[string]URLValidator{
		CheckStructuredData: s.structured,
		CheckIndexing:       s.indexing,
		CheckPerformance:    s.performance,
		CheckMobile:         s.mobile,
	}

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var issues []model.Issue

	for _, pageURL := range urls {
		for _, check := range checks {
			validator := validators[check]
			if validator == nil {
				continue
			}

			wg.Add(1)
			sem <- struct{}{}

			go func(v URLValidator, u string) {
				defer wg.Done()
				defer func() { <-sem }()

				found := v.Validate(ctx, u)
				if len(found) == 0 {
					return
				}
				mu.Lock()
				issues = append(issues, found...)
				mu.Unlock()
			}(validator, pageURL)
		}
	}

	wg.Wait()
	return issues
}

func contains(list []string, target string) bool {
	for _, item := range list {
		if item == target {
			return true
		}
	}
	return false
}
