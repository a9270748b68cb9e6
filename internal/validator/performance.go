package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/model"
)

// defaultPageSpeedEndpoint はPageSpeed Insights v5 APIのエンドポイント。
const defaultPageSpeedEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"

// Core Web Vitalsの固定閾値。
// 各指標は「良好」「改善が必要」「不良」の3段階で評価される。
// 良好の閾値は包含（ちょうど閾値なら良好）、不良の閾値は排他（超えたら不良）。
const (
	lcpGoodSeconds = 2.5
	lcpPoorSeconds = 4.0
	inpGoodMillis  = 200.0
	inpPoorMillis  = 500.0
	clsGood        = 0.10
	clsPoor        = 0.25
)

// pageSpeedResponse はPageSpeed Insights APIレスポンスのうち使用する部分。
type pageSpeedResponse struct {
	LighthouseResult struct {
		Audits map[string]struct {
			NumericValue float64 `json:"numericValue"`
		} `json:"audits"`
	} `json:"lighthouseResult"`
}

// PerformanceValidator はCore Web Vitalsの検証を行う。
// 外部のスコアリングAPI（PageSpeed Insights）を呼び出し、
// LCP・INP（TBT代理指標）・CLSを固定閾値と比較する。
// APIキーが未設定の場合は0件検出で完了する（機能はオプション）。
type PerformanceValidator struct {
	httpClient *http.Client
	apiKey     string
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewPerformanceValidator はPerformanceValidatorを生成する。
// apiKeyが空の場合、Validateは常に0件を返す。
func NewPerformanceValidator(apiKey string, logger *slog.Logger) *PerformanceValidator {
	return &PerformanceValidator{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     apiKey,
		logger:     logger,
		endpoint:   defaultPageSpeedEndpoint,
	}
}

// Validate は指定URLのCore Web Vitalsを評価する。
// APIエラー・ネットワークエラーは0件として扱い、呼び出し元にエラーを伝播しない。
func (v *PerformanceValidator) Validate(ctx context.Context, pageURL string) []model.Issue {
	if v.apiKey == "" {
		return nil
	}

	metrics, err := v.fetchMetrics(ctx, pageURL)
	if err != nil {
		v.logger.Warn("PageSpeed APIの呼び出しに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var issues []model.Issue
	issues = append(issues, evaluateMetric(pageURL, "lcp", metrics.lcpSeconds, "s",
		lcpGoodSeconds, lcpPoorSeconds,
		model.TypeNeedsImprovementLCP, model.TypePoorLCP,
		"画像の最適化、レンダリングブロックリソースの削減でLCPを改善してください。")...)
	issues = append(issues, evaluateMetric(pageURL, "inp", metrics.tbtMillis, "ms",
		inpGoodMillis, inpPoorMillis,
		model.TypeNeedsImprovementINP, model.TypePoorINP,
		"長時間タスクの分割、不要なJavaScriptの削減で応答性を改善してください。")...)
	issues = append(issues, evaluateMetric(pageURL, "cls", metrics.cls, "",
		clsGood, clsPoor,
		model.TypeNeedsImprovementCLS, model.TypePoorCLS,
		"画像・埋め込み要素にサイズ属性を指定してレイアウトシフトを抑制してください。")...)

	return issues
}

// coreWebVitals はAPIレスポンスから抽出した指標値。
type coreWebVitals struct {
	lcpSeconds float64 // Largest Contentful Paint（秒）
	tbtMillis  float64 // Total Blocking Time（ミリ秒、INPの代理指標）
	cls        float64 // Cumulative Layout Shift（無単位）
}

// fetchMetrics はPageSpeed Insights APIを呼び出して指標値を取得する。
func (v *PerformanceValidator) fetchMetrics(ctx context.Context, pageURL string) (*coreWebVitals, error) {
	reqURL, err := url.Parse(v.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}

	q := reqURL.Query()
	q.Set("url", pageURL)
	q.Set("key", v.apiKey)
	q.Set("strategy", "mobile")
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", fetcher.DesktopUserAgent)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("PageSpeed APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var parsed pageSpeedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	audits := parsed.LighthouseResult.Audits
	return &coreWebVitals{
		lcpSeconds: audits["largest-contentful-paint"].NumericValue / 1000.0,
		tbtMillis:  audits["total-blocking-time"].NumericValue,
		cls:        audits["cumulative-layout-shift"].NumericValue,
	}, nil
}

// evaluateMetric は1つの指標を閾値と比較し、該当する問題を返す。
// 値が良好域にある場合は何も返さない。パフォーマンス問題は人の判断を
// 要するため、すべてauto_fixable=falseになる。
func evaluateMetric(pageURL, metric string, value float64, unit string,
	good, poor float64, needsImprovement, poorType model.Type, fix string) []model.Issue {

	var issueType model.Type
	var severity model.Severity
	switch {
	case value <= good:
		return nil
	case value > poor:
		issueType = poorType
		severity = model.SeverityError
	default:
		issueType = needsImprovement
		severity = model.SeverityWarning
	}

	d := model.Details{}
	d.Set("metric", metric)
	d.Set("value", value)
	d.Set("unit", unit)
	d.Set("threshold_good", good)
	d.Set("threshold_poor", poor)
	return []model.Issue{newIssue(pageURL, issueType, severity, false, fix, d)}
}
