package validation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/gsc"
	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
	"github.com/hitoshi/siteaudit/internal/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// stubValidator は固定の問題リストを返すバリデーター。
type stubValidator struct {
	issues []model.Issue
	calls  []string
}

func (s *stubValidator) Validate(_ context.Context, pageURL string) []model.Issue {
	s.calls = append(s.calls, pageURL)
	return s.issues
}

type stubSiteRepo struct {
	sites map[string]*model.Site
}

func (s *stubSiteRepo) Upsert(_ context.Context, site *model.Site) error {
	if s.sites == nil {
		s.sites = make(map[string]*model.Site)
	}
	s.sites[site.ID] = site
	return nil
}

func (s *stubSiteRepo) FindByID(_ context.Context, id string) (*model.Site, error) {
	return s.sites[id], nil
}

func (s *stubSiteRepo) List(_ context.Context) ([]*model.Site, error) {
	var sites []*model.Site
	for _, site := range s.sites {
		sites = append(sites, site)
	}
	return sites, nil
}

func (s *stubSiteRepo) ListDueForCheck(_ context.Context) ([]*model.Site, error) {
	return nil, nil
}

func (s *stubSiteRepo) UpdateCheckState(_ context.Context, _ *model.Site) error {
	return nil
}

type stubIssueRepo struct {
	saved   []model.Issue
	saveErr error
}

func (s *stubIssueRepo) UpsertBatch(_ context.Context, issues []model.Issue) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, issues...)
	return nil
}

func (s *stubIssueRepo) FindByID(_ context.Context, _ string) (*model.Issue, error) {
	return nil, nil
}

func (s *stubIssueRepo) ListBySite(_ context.Context, _ string, _ repository.IssueFilter) ([]*model.Issue, string, error) {
	return nil, "", nil
}

func (s *stubIssueRepo) CountOpenBySite(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (s *stubIssueRepo) UpdateStatus(_ context.Context, _ string, _ model.Status) (*model.Issue, error) {
	return nil, nil
}

type stubTokens struct {
	token *model.GoogleToken
	err   error
}

func (s *stubTokens) EnsureToken(_ context.Context, _ string) (*model.GoogleToken, error) {
	return s.token, s.err
}

type stubInspector struct {
	result *gsc.InspectionResult
	calls  []string
}

func (s *stubInspector) InspectURL(_ context.Context, _, pageURL, _ string) (*gsc.InspectionResult, error) {
	s.calls = append(s.calls, pageURL)
	return s.result, nil
}

type stubURLSource struct {
	urls []string
}

func (s *stubURLSource) ReadURLs(_ context.Context, _ string, maxURLs int) []string {
	if len(s.urls) > maxURLs {
		return s.urls[:maxURLs]
	}
	return s.urls
}

func rawIssue(issueType model.Type, pageURL string) model.Issue {
	return model.Issue{
		URL:      pageURL,
		Type:     issueType,
		Category: model.CategoryOf(issueType),
		Severity: model.SeverityWarning,
		Details:  model.Details{"message": "テスト用の問題"},
	}
}

func newTestService(cfg Config) *Service {
	if cfg.SiteRepo == nil {
		cfg.SiteRepo = &stubSiteRepo{}
	}
	if cfg.IssueRepo == nil {
		cfg.IssueRepo = &stubIssueRepo{}
	}
	cfg.Logger = testLogger()
	return NewService(cfg)
}

func TestValidate_AllChecksByDefault(t *testing.T) {
	structured := &stubValidator{}
	indexing := &stubValidator{}
	performance := &stubValidator{}
	mobile := &stubValidator{}

	svc := newTestService(Config{
		Structured:  structured,
		Indexing:    indexing,
		Performance: performance,
		Mobile:      mobile,
	})

	result, err := svc.Validate(context.Background(), Request{SiteURL: "https://example.com"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if result.Status != "completed" {
		t.Errorf("Status = %q, 期待値 completed", result.Status)
	}
	if result.ValidationID == "" {
		t.Error("ValidationIDが空です")
	}
	if result.URLsChecked != 1 {
		t.Errorf("URLsChecked = %d, 期待値 1", result.URLsChecked)
	}

	for name, v := range map[string]*stubValidator{
		"structured":  structured,
		"indexing":    indexing,
		"performance": performance,
		"mobile":      mobile,
	} {
		if len(v.calls) != 1 {
			t.Errorf("%sバリデーターの呼び出し回数 = %d, 期待値 1", name, len(v.calls))
		}
	}
}

func TestValidate_SelectedChecksOnly(t *testing.T) {
	structured := &stubValidator{}
	mobile := &stubValidator{}

	svc := newTestService(Config{
		Structured: structured,
		Indexing:   &stubValidator{},
		Mobile:     mobile,
	})

	_, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{CheckMobile},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(structured.calls) != 0 {
		t.Errorf("指定外のstructuredバリデーターが呼ばれました: %d回", len(structured.calls))
	}
	if len(mobile.calls) != 1 {
		t.Errorf("mobileバリデーターの呼び出し回数 = %d, 期待値 1", len(mobile.calls))
	}
}

func TestValidate_UnknownCheck(t *testing.T) {
	svc := newTestService(Config{Mobile: &stubValidator{}})

	_, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{"mobile", "seo_magic"},
	})
	if err == nil {
		t.Fatal("不明なチェック名でエラーが返されませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorではありません: %v", err)
	}
	if apiErr.Code != model.ErrCodeValidation {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeValidation)
	}
}

func TestValidate_InvalidURL(t *testing.T) {
	svc := newTestService(Config{})

	for _, siteURL := range []string{"", "ftp://example.com", "not a url at all"} {
		_, err := svc.Validate(context.Background(), Request{SiteURL: siteURL})
		if err == nil {
			t.Errorf("site_url=%q でエラーが返されませんでした", siteURL)
		}
	}
}

func TestValidate_AssemblesAndPersistsIssues(t *testing.T) {
	mobile := &stubValidator{issues: []model.Issue{
		rawIssue(model.TypeNoViewport, "https://example.com"),
	}}
	issueRepo := &stubIssueRepo{}

	svc := newTestService(Config{
		Mobile:    mobile,
		IssueRepo: issueRepo,
	})

	result, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{CheckMobile},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if len(issueRepo.saved) != 1 {
		t.Fatalf("保存された問題数 = %d, 期待値 1", len(issueRepo.saved))
	}

	saved := issueRepo.saved[0]
	if saved.ID == "" {
		t.Error("保存された問題のIDが空です")
	}
	if saved.SiteID != "example.com" {
		t.Errorf("SiteID = %q, 期待値 example.com", saved.SiteID)
	}
	if saved.Status != model.StatusOpen {
		t.Errorf("Status = %q, 期待値 open", saved.Status)
	}

	if result.Summary.TotalIssues != 1 {
		t.Errorf("TotalIssues = %d, 期待値 1", result.Summary.TotalIssues)
	}
	if result.Summary.ByCategory.Mobile != 1 {
		t.Errorf("ByCategory.Mobile = %d, 期待値 1", result.Summary.ByCategory.Mobile)
	}
}

func TestValidate_SitemapExpandsURLs(t *testing.T) {
	siteRepo := &stubSiteRepo{sites: map[string]*model.Site{
		"example.com": {
			ID:         "example.com",
			SiteURL:    "https://example.com",
			SitemapURL: "https://example.com/sitemap.xml",
		},
	}}
	mobile := &stubValidator{}

	svc := newTestService(Config{
		Mobile:   mobile,
		SiteRepo: siteRepo,
		URLSource: &stubURLSource{urls: []string{
			"https://example.com",
			"https://example.com/about",
			"https://example.com/blog",
		}},
	})

	result, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{CheckMobile},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	// サイトURL自体との重複は除去される
	if result.URLsChecked != 3 {
		t.Errorf("URLsChecked = %d, 期待値 3", result.URLsChecked)
	}
	if len(mobile.calls) != 3 {
		t.Errorf("バリデーター呼び出し回数 = %d, 期待値 3", len(mobile.calls))
	}
}

func TestValidate_MaxURLsCap(t *testing.T) {
	siteRepo := &stubSiteRepo{sites: map[string]*model.Site{
		"example.com": {
			ID:         "example.com",
			SiteURL:    "https://example.com",
			SitemapURL: "https://example.com/sitemap.xml",
		},
	}}
	source := &stubURLSource{}
	for i := 0; i < 20; i++ {
		source.urls = append(source.urls, "https://example.com/page-"+string(rune('a'+i)))
	}

	svc := newTestService(Config{
		Mobile:    &stubValidator{},
		SiteRepo:  siteRepo,
		URLSource: source,
	})

	result, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{CheckMobile},
		MaxURLs: 3,
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if result.URLsChecked != 3 {
		t.Errorf("URLsChecked = %d, 期待値 3", result.URLsChecked)
	}
}

func TestValidate_GSCNotConnected(t *testing.T) {
	svc := newTestService(Config{
		Tokens: &stubTokens{token: nil},
	})

	_, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		UseGSC:  true,
	})
	if err == nil {
		t.Fatal("未接続のGSCでエラーが返されませんでした")
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("APIErrorではありません: %v", err)
	}
	if apiErr.Code != model.ErrCodeNotConnected {
		t.Errorf("Code = %q, 期待値 %q", apiErr.Code, model.ErrCodeNotConnected)
	}
}

func TestValidate_GSCPath(t *testing.T) {
	inspector := &stubInspector{result: &gsc.InspectionResult{
		IndexStatusResult: gsc.IndexStatusResult{
			Verdict:       "FAIL",
			CoverageState: "Excluded by 'noindex' tag",
		},
	}}
	performance := &stubValidator{issues: []model.Issue{
		rawIssue(model.TypePoorLCP, "https://example.com"),
	}}
	localMobile := &stubValidator{}

	svc := newTestService(Config{
		Performance: performance,
		Mobile:      localMobile,
		Tokens:      &stubTokens{token: &model.GoogleToken{AccessToken: "token"}},
		Inspector:   inspector,
	})

	result, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		UseGSC:  true,
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if !result.GSCUsed {
		t.Error("GSCUsed = false, 期待値 true")
	}
	if len(inspector.calls) != 1 {
		t.Errorf("InspectURLの呼び出し回数 = %d, 期待値 1", len(inspector.calls))
	}
	// GSCパスではローカルのモバイルバリデーターは使わない
	if len(localMobile.calls) != 0 {
		t.Errorf("GSCパスでローカルmobileバリデーターが呼ばれました: %d回", len(localMobile.calls))
	}
	// GSC由来のnoindex + ローカルのperformance
	if result.Summary.TotalIssues != 2 {
		t.Errorf("TotalIssues = %d, 期待値 2", result.Summary.TotalIssues)
	}
	if result.Summary.ByCategory.Indexing != 1 {
		t.Errorf("ByCategory.Indexing = %d, 期待値 1", result.Summary.ByCategory.Indexing)
	}
	if result.Summary.ByCategory.Performance != 1 {
		t.Errorf("ByCategory.Performance = %d, 期待値 1", result.Summary.ByCategory.Performance)
	}
}

func TestValidate_GSCPropertyFallback(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		site     string
		expected string
	}{
		{"リクエスト指定が最優先", "sc-domain:req.example.com", "sc-domain:site.example.com", "sc-domain:req.example.com"},
		{"サイト登録値が次点", "", "sc-domain:site.example.com", "sc-domain:site.example.com"},
		{"未指定時はサイトIDから生成", "", "", "sc-domain:example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			siteRepo := &stubSiteRepo{sites: map[string]*model.Site{
				"example.com": {
					ID:          "example.com",
					SiteURL:     "https://example.com",
					GSCProperty: tt.site,
				},
			}}

			svc := newTestService(Config{
				SiteRepo:  siteRepo,
				Tokens:    &stubTokens{token: &model.GoogleToken{AccessToken: "token"}},
				Inspector: &stubInspector{result: &gsc.InspectionResult{}},
			})

			result, err := svc.Validate(context.Background(), Request{
				SiteURL:     "https://example.com",
				UseGSC:      true,
				GSCProperty: tt.request,
			})
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if result.GSCProperty != tt.expected {
				t.Errorf("GSCProperty = %q, 期待値 %q", result.GSCProperty, tt.expected)
			}
		})
	}
}

func TestValidate_PersistFailure(t *testing.T) {
	svc := newTestService(Config{
		Mobile: &stubValidator{issues: []model.Issue{
			rawIssue(model.TypeNoViewport, "https://example.com"),
		}},
		IssueRepo: &stubIssueRepo{saveErr: errors.New("db down")},
	})

	_, err := svc.Validate(context.Background(), Request{
		SiteURL: "https://example.com",
		Checks:  []string{CheckMobile},
	})
	if err == nil {
		t.Fatal("保存失敗でエラーが返されませんでした")
	}
}

// ビューポートなしのページをモバイルチェックのみで検証したとき、
// 結果がno_viewportエラー1件に要約されることを実ページ相当で確認する。
func TestValidate_EndToEndMobileCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html><html><head><title>t</title></head><body><p style="font-size:16px">hello</p></body></html>`))
	}))
	defer server.Close()

	f := fetcher.New(nil, 5*time.Second, 0)
	mobile := validator.NewMobileValidator(f, testLogger())

	issueRepo := &stubIssueRepo{}
	svc := newTestService(Config{
		Mobile:    mobile,
		IssueRepo: issueRepo,
	})

	result, err := svc.Validate(context.Background(), Request{
		SiteURL: server.URL,
		Checks:  []string{CheckMobile},
	})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if result.Summary.TotalIssues != 1 {
		t.Fatalf("TotalIssues = %d, 期待値 1", result.Summary.TotalIssues)
	}
	if result.Summary.ByCategory.Mobile != 1 {
		t.Errorf("ByCategory.Mobile = %d, 期待値 1", result.Summary.ByCategory.Mobile)
	}

	found := result.Issues[0]
	if found.Type != model.TypeNoViewport {
		t.Errorf("Type = %q, 期待値 no_viewport", found.Type)
	}
	if found.Severity != model.SeverityError {
		t.Errorf("Severity = %q, 期待値 error", found.Severity)
	}
	if !found.AutoFixable {
		t.Error("AutoFixable = false, 期待値 true")
	}
}
