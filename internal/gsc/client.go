package gsc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultInspectionEndpoint はURL Inspection APIのエンドポイント。
const defaultInspectionEndpoint = "https://searchconsole.googleapis.com/v1/urlInspection/index:inspect"

// InspectionResult はURL Inspection APIレスポンスのうち使用する部分。
type InspectionResult struct {
	IndexStatusResult     IndexStatusResult     `json:"indexStatusResult"`
	MobileUsabilityResult MobileUsabilityResult `json:"mobileUsabilityResult"`
	RichResultsResult     RichResultsResult     `json:"richResultsResult"`
}

// IndexStatusResult はインデックスステータスの検査結果。
type IndexStatusResult struct {
	Verdict         string `json:"verdict"`
	CoverageState   string `json:"coverageState"`
	RobotsTxtState  string `json:"robotsTxtState"`
	IndexingState   string `json:"indexingState"`
	PageFetchState  string `json:"pageFetchState"`
	GoogleCanonical string `json:"googleCanonical"`
	UserCanonical   string `json:"userCanonical"`
}

// MobileUsabilityResult はモバイルユーザビリティの検査結果。
type MobileUsabilityResult struct {
	Verdict string                 `json:"verdict"`
	Issues  []MobileUsabilityIssue `json:"issues"`
}

// MobileUsabilityIssue はGSCが報告するモバイルユーザビリティの問題1件。
type MobileUsabilityIssue struct {
	IssueType string `json:"issueType"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
}

// RichResultsResult はリッチリザルトの検査結果。
type RichResultsResult struct {
	Verdict       string           `json:"verdict"`
	DetectedItems []RichResultItem `json:"detectedItems"`
}

// RichResultItem は検出されたリッチリザルトタイプ1件。
type RichResultItem struct {
	RichResultType string          `json:"richResultType"`
	Items          []RichItemEntry `json:"items"`
}

// RichItemEntry はリッチリザルト内の個別アイテム1件。
type RichItemEntry struct {
	Name   string           `json:"name"`
	Issues []RichIssueEntry `json:"issues"`
}

// RichIssueEntry はリッチリザルトの問題メッセージ1件。
type RichIssueEntry struct {
	IssueMessage string `json:"issueMessage"`
	Severity     string `json:"severity"`
}

// inspectionResponse はAPIレスポンスの外側のエンベロープ。
type inspectionResponse struct {
	InspectionResult InspectionResult `json:"inspectionResult"`
}

// Client はGoogle Search Console URL Inspection APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		endpoint:   defaultInspectionEndpoint,
	}
}

// InspectURL は指定URLの検査結果をURL Inspection APIから取得する。
// siteProperty はGSCに登録されたプロパティ（例: "sc-domain:example.com"
// または "https://example.com/"）。
func (c *Client) InspectURL(ctx context.Context, accessToken, pageURL, siteProperty string) (*InspectionResult, error) {
	payload, err := json.Marshal(map[string]string{
		"inspectionUrl": pageURL,
		"siteUrl":       siteProperty,
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("URL Inspection APIの呼び出しに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("URL Inspection APIがステータス %d を返しました: %s", resp.StatusCode, string(body))
	}

	var parsed inspectionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return &parsed.InspectionResult, nil
}
