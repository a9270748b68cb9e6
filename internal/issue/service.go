package issue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Service は問題のライフサイクル管理（ステータス更新・一覧取得）を提供する。
type Service struct {
	issueRepo repository.IssueRepository
	logger    *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(issueRepo repository.IssueRepository, logger *slog.Logger) *Service {
	return &Service{
		issueRepo: issueRepo,
		logger:    logger,
	}
}

// UpdateStatus は問題のステータスを更新する。
// 同一ステータスへの再更新は冪等に成功する。
func (s *Service) UpdateStatus(ctx context.Context, issueID, status string) (*model.Issue, error) {
	if !model.IsValidStatus(status) {
		return nil, model.NewInvalidStatusError(status)
	}

	updated, err := s.issueRepo.UpdateStatus(ctx, issueID, model.Status(status))
	if err != nil {
		return nil, fmt.Errorf("ステータスの更新に失敗しました: %w", err)
	}
	if updated == nil {
		return nil, model.NewIssueNotFoundError(issueID)
	}

	s.logger.Info("問題のステータスを更新しました",
		slog.String("issue_id", issueID),
		slog.String("status", status),
	)

	return updated, nil
}

// ListResult は問題一覧取得の結果。
type ListResult struct {
	Issues     []*model.Issue
	NextCursor string
}

// ListBySite はサイトの問題を絞り込み条件付きで取得する。
// limitは1〜500に丸められ、0の場合はデフォルト値（50）を使用する。
func (s *Service) ListBySite(ctx context.Context, siteID string, filter repository.IssueFilter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	if filter.Status != "" && !model.IsValidStatus(filter.Status) {
		return nil, model.NewInvalidStatusError(filter.Status)
	}

	issues, nextCursor, err := s.issueRepo.ListBySite(ctx, siteID, filter)
	if err != nil {
		return nil, fmt.Errorf("問題一覧の取得に失敗しました: %w", err)
	}

	return &ListResult{Issues: issues, NextCursor: nextCursor}, nil
}
