// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/siteaudit/internal/model"
)

// IssueFilter は問題一覧取得時の絞り込み条件。
// 空文字列のフィールドは条件に含めない。
type IssueFilter struct {
	Status   string
	Category string
	Severity string
	Limit    int
	// Cursor は前回のListBySiteが返した継続トークン。
	// 内容は永続化層のみが解釈する不透明な値。
	Cursor string
}

// SiteRepository はサイトデータの永続化インターフェース。
type SiteRepository interface {
	// Upsert はサイトを登録する。同一IDの既存サイトは設定が上書きされるが、
	// last_check・open_issuesは維持される。
	Upsert(ctx context.Context, site *model.Site) error

	// FindByID は指定IDのサイトを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Site, error)

	// List は登録済みの全サイトを取得する。
	List(ctx context.Context) ([]*model.Site, error)

	// ListDueForCheck は再検証対象のサイトを取得する。
	// next_check <= now() のサイトをFOR UPDATE SKIP LOCKEDで排他的に取得する。
	ListDueForCheck(ctx context.Context) ([]*model.Site, error)

	// UpdateCheckState は検証完了後の状態（last_check、next_check、open_issues）を更新する。
	UpdateCheckState(ctx context.Context, site *model.Site) error
}

// IssueRepository は問題データの永続化インターフェース。
type IssueRepository interface {
	// UpsertBatch は問題を一括で保存する。既存の問題（同一ID）は
	// details・updated_atのみ更新され、status・detected_atは維持される。
	UpsertBatch(ctx context.Context, issues []model.Issue) error

	// FindByID は指定IDの問題を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Issue, error)

	// ListBySite はサイトの問題を検出日時の降順で取得する。
	// 戻り値の2番目はページ継続用の不透明カーソル（続きがない場合は空文字列）。
	ListBySite(ctx context.Context, siteID string, filter IssueFilter) ([]*model.Issue, string, error)

	// CountOpenBySite はサイトのopen状態の問題数を返す。
	CountOpenBySite(ctx context.Context, siteID string) (int, error)

	// UpdateStatus は問題のステータスを更新する。見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Issue, error)
}

// GoogleTokenRepository はGSCアクセストークンの永続化インターフェース。
type GoogleTokenRepository interface {
	// GetBySiteID はサイトのトークンを取得する。未登録の場合はnilを返す。
	GetBySiteID(ctx context.Context, siteID string) (*model.GoogleToken, error)

	// Save はトークンを保存する（同一サイトの既存レコードは上書き）。
	Save(ctx context.Context, token *model.GoogleToken) error
}

// OAuthStateRepository はOAuthフローのCSRF対策用stateの永続化インターフェース。
type OAuthStateRepository interface {
	// Create はstateレコードを作成する。
	Create(ctx context.Context, state *model.OAuthState) error

	// Consume はstateを取得して削除する（1回限りの消費）。
	// 見つからない場合・期限切れの場合はnilを返す。
	Consume(ctx context.Context, state string) (*model.OAuthState, error)

	// DeleteExpired は期限切れのstateレコードを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
