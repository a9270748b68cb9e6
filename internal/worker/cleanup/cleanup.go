// Package cleanup は期限切れデータの自動削除ジョブを提供する。
// 解決済み問題（fixed / wontfix）のうち保持期間（デフォルト90日）を
// 超過したものと、期限切れのOAuth stateを日次バッチで削除する。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/siteaudit/internal/repository"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は期限切れデータの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db            Executor
	states        repository.OAuthStateRepository
	logger        *slog.Logger
	RetentionDays int // 解決済み問題の保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(db Executor, states repository.OAuthStateRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		states:        states,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は期限切れデータを削除する。
// 解決済み（fixed / wontfix）かつupdated_atがRetentionDays日前より
// 古い問題をDELETEし、続けて期限切れのOAuth stateを削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	query := `DELETE FROM issues
		WHERE status IN ('fixed', 'wontfix')
		  AND updated_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("解決済み問題クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("解決済み問題クリーンアップの実行に失敗: %w", err)
	}

	deletedIssues, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	deletedStates, err := j.states.DeleteExpired(ctx)
	if err != nil {
		j.logger.Error("OAuth stateクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("OAuth stateクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_issues", deletedIssues),
		slog.Int64("deleted_states", deletedStates),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
