package schedule

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
	"github.com/hitoshi/siteaudit/internal/validation"
)

// Validator は検証オーケストレーターのインターフェース。
type Validator interface {
	Validate(ctx context.Context, req validation.Request) (*validation.Result, error)
}

// Checker はサイト1件分の定期検証を実行する。
// 検証完了後にサイトの検証状態（last_check、next_check、open_issues）を
// 更新し、問題が検出された場合はWebhook通知を送信する。
type Checker struct {
	validator  Validator
	siteRepo   repository.SiteRepository
	issueRepo  repository.IssueRepository
	httpClient *http.Client
	logger     *slog.Logger
}

// NewChecker はCheckerの新しいインスタンスを生成する。
func NewChecker(
	validator Validator,
	siteRepo repository.SiteRepository,
	issueRepo repository.IssueRepository,
	logger *slog.Logger,
) *Checker {
	return &Checker{
		validator: validator,
		siteRepo:  siteRepo,
		issueRepo: issueRepo,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Check はサイトを検証する。SiteCheckerServiceインターフェースを実装する。
// GSCトークンが保存されていればGSCパスを使用し、未接続の場合は
// ローカルバリデーターに縮退する。
func (c *Checker) Check(ctx context.Context, site *model.Site) error {
	start := time.Now()

	result, err := c.validator.Validate(ctx, validation.Request{
		SiteURL: site.SiteURL,
		SiteID:  site.ID,
		UseGSC:  site.GSCProperty != "",
	})
	if err != nil {
		// GSC未接続の場合はローカルバリデーターで再実行
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeNotConnected {
			c.logger.Info("GSC未接続のためローカル検証に切り替えます",
				slog.String("site_id", site.ID),
			)
			result, err = c.validator.Validate(ctx, validation.Request{
				SiteURL: site.SiteURL,
				SiteID:  site.ID,
			})
		}
		if err != nil {
			return fmt.Errorf("サイト検証に失敗しました: %w", err)
		}
	}

	// 検証状態の更新
	openIssues, err := c.issueRepo.CountOpenBySite(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("open問題数の取得に失敗しました: %w", err)
	}

	now := time.Now()
	site.LastCheck = &now
	site.NextCheck = site.CheckSchedule.NextAfter(now)
	site.OpenIssues = openIssues

	if err := c.siteRepo.UpdateCheckState(ctx, site); err != nil {
		return fmt.Errorf("検証状態の更新に失敗しました: %w", err)
	}

	c.logger.Info("定期検証が完了しました",
		slog.String("site_id", site.ID),
		slog.Int("urls_checked", result.URLsChecked),
		slog.Int("total_issues", result.Summary.TotalIssues),
		slog.Int("open_issues", openIssues),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	// 問題が検出された場合のみ通知
	if result.Summary.TotalIssues > 0 {
		c.notify(ctx, site, result)
	}

	return nil
}

// notificationPayload はWebhook通知のボディ。
type notificationPayload struct {
	SiteID       string        `json:"site_id"`
	SiteURL      string        `json:"site_url"`
	ValidationID string        `json:"validation_id"`
	CheckedAt    time.Time     `json:"checked_at"`
	URLsChecked  int           `json:"urls_checked"`
	Summary      model.Summary `json:"summary"`
}

// notify は検証結果のサマリーを通知する。
// Webhook送信の失敗は検証自体を失敗させない。
// メール通知は送信基盤がないためログ出力のみ行う。
func (c *Checker) notify(ctx context.Context, site *model.Site, result *validation.Result) {
	if site.NotificationWebhook != "" {
		c.sendWebhook(ctx, site, result)
	}

	if site.NotificationEmail != "" {
		c.logger.Info("メール通知（送信基盤未接続）",
			slog.String("site_id", site.ID),
			slog.String("email", site.NotificationEmail),
			slog.Int("total_issues", result.Summary.TotalIssues),
		)
	}
}

// sendWebhook は検証サマリーをWebhookにPOSTする。
func (c *Checker) sendWebhook(ctx context.Context, site *model.Site, result *validation.Result) {
	payload, err := json.Marshal(notificationPayload{
		SiteID:       site.ID,
		SiteURL:      site.SiteURL,
		ValidationID: result.ValidationID,
		CheckedAt:    time.Now(),
		URLsChecked:  result.URLsChecked,
		Summary:      result.Summary,
	})
	if err != nil {
		c.logger.Error("通知ペイロードのエンコードに失敗しました",
			slog.String("site_id", site.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, site.NotificationWebhook, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("通知リクエストの作成に失敗しました",
			slog.String("site_id", site.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Webhook通知の送信に失敗しました",
			slog.String("site_id", site.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Webhook通知が受理されませんでした",
			slog.String("site_id", site.ID),
			slog.Int("status_code", resp.StatusCode),
		)
		return
	}

	c.logger.Info("Webhook通知を送信しました",
		slog.String("site_id", site.ID),
		slog.Int("total_issues", result.Summary.TotalIssues),
	)
}
