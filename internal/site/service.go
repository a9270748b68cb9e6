// Package site はサイトの登録と管理を提供する。
package site

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// ExtractSiteID はサイトURLからサイト識別子を導出する。
// ホスト名を小文字化し、先頭の"www."を除去したものを識別子とする。
// スキーム・パス・ポートは無視される。
func ExtractSiteID(siteURL string) (string, error) {
	parsed, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("URLのパースに失敗しました: %w", err)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("ホスト名を含まないURLです: %s", siteURL)
	}

	return strings.TrimPrefix(host, "www."), nil
}

// RegisterInput はサイト登録のリクエスト内容。
type RegisterInput struct {
	SiteURL             string
	SitemapURL          string
	GSCProperty         string
	CheckSchedule       string
	NotificationWebhook string
	NotificationEmail   string
}

// Service はサイトの登録・一覧取得を提供する。
type Service struct {
	siteRepo repository.SiteRepository
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(siteRepo repository.SiteRepository, logger *slog.Logger) *Service {
	return &Service{
		siteRepo: siteRepo,
		logger:   logger,
	}
}

// Register はサイトを定期検証の対象として登録する。
// 同一サイトの再登録は設定の上書きとして扱う。
// next_checkはcheck_scheduleから登録時点で計算される。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*model.Site, error) {
	if input.SiteURL == "" {
		return nil, model.NewValidationError("site_urlは必須です")
	}

	parsed, err := url.Parse(input.SiteURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, model.NewInvalidURLError(input.SiteURL)
	}

	siteID, err := ExtractSiteID(input.SiteURL)
	if err != nil {
		return nil, model.NewInvalidURLError(input.SiteURL)
	}

	schedule := input.CheckSchedule
	if schedule == "" {
		schedule = string(model.ScheduleManual)
	}
	if !model.IsValidSchedule(schedule) {
		return nil, model.NewValidationError(fmt.Sprintf("不正なcheck_scheduleです: %s", schedule))
	}

	now := time.Now()
	site := &model.Site{
		ID:                  siteID,
		SiteURL:             input.SiteURL,
		SitemapURL:          input.SitemapURL,
		GSCProperty:         input.GSCProperty,
		CheckSchedule:       model.CheckSchedule(schedule),
		NotificationWebhook: input.NotificationWebhook,
		NotificationEmail:   input.NotificationEmail,
		NextCheck:           model.CheckSchedule(schedule).NextAfter(now),
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.siteRepo.Upsert(ctx, site); err != nil {
		return nil, fmt.Errorf("サイトの登録に失敗しました: %w", err)
	}

	s.logger.Info("サイトを登録しました",
		slog.String("site_id", siteID),
		slog.String("check_schedule", schedule),
	)

	return site, nil
}

// List は登録済みの全サイトを返す。
func (s *Service) List(ctx context.Context) ([]*model.Site, error) {
	sites, err := s.siteRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("サイト一覧の取得に失敗しました: %w", err)
	}
	return sites, nil
}

// FindByID は指定IDのサイトを返す。見つからない場合はNOT_FOUNDエラーを返す。
func (s *Service) FindByID(ctx context.Context, siteID string) (*model.Site, error) {
	site, err := s.siteRepo.FindByID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("サイトの取得に失敗しました: %w", err)
	}
	if site == nil {
		return nil, model.NewSiteNotFoundError(siteID)
	}
	return site, nil
}
