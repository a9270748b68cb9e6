// Package schedule はサイトの定期再検証処理を提供する。
// スケジューラとチェック実行ランナーを含む。
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// SiteCheckerService はサイト1件分の定期検証の実行インターフェース。
type SiteCheckerService interface {
	// Check は指定サイトを検証し、結果に応じてサイトの検証状態を更新する。
	Check(ctx context.Context, site *model.Site) error
}

// Scheduler はサイト定期検証のスケジューリングと並列制御を行う。
// ティッカーで再検証対象サイトを取得し、semaphoreパターンで
// 最大並列数を制御しながら検証を実行する。
type Scheduler struct {
	siteRepo       repository.SiteRepository
	checker        SiteCheckerService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	siteRepo repository.SiteRepository,
	checker SiteCheckerService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		siteRepo:       siteRepo,
		checker:        checker,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("検証スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("検証サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("検証スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("検証サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は再検証対象サイトを1回取得し、並列で検証を実行する。
// semaphoreパターンで最大並列数を制御する。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	// 再検証対象サイトを取得（FOR UPDATE SKIP LOCKED）
	sites, err := s.siteRepo.ListDueForCheck(ctx)
	if err != nil {
		return err
	}

	if len(sites) == 0 {
		s.logger.Info("再検証対象のサイトはありません")
		return nil
	}

	s.logger.Info("検証サイクルを開始します",
		slog.Int("site_count", len(sites)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, site := range sites {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(target *model.Site) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.checker.Check(ctx, target); err != nil {
				s.logger.Error("サイト検証に失敗しました",
					slog.String("site_id", target.ID),
					slog.String("site_url", target.SiteURL),
					slog.String("error", err.Error()),
				)
			}
		}(site)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("検証サイクルが完了しました",
		slog.Int("site_count", len(sites)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
