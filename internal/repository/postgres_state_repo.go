package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/siteaudit/internal/model"
)

// PostgresStateRepo はPostgreSQLを使用したOAuth stateリポジトリ。
type PostgresStateRepo struct {
	db *sql.DB
}

// NewPostgresStateRepo はPostgresStateRepoを生成する。
func NewPostgresStateRepo(db *sql.DB) *PostgresStateRepo {
	return &PostgresStateRepo{db: db}
}

// Create はstateレコードを作成する。
func (r *PostgresStateRepo) Create(ctx context.Context, state *model.OAuthState) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO oauth_states (state, site_id, expires_at, created_at)
		 VALUES ($1, $2, $3, now())`,
		state.State, state.SiteID, state.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("stateの作成に失敗しました: %w", err)
	}
	return nil
}

// Consume はstateを消費して対応するレコードを返す。
// 削除と取得を1文で行うため、同じstateは1回しか消費できない。
// 見つからない場合と期限切れの場合はnilを返す。
func (r *PostgresStateRepo) Consume(ctx context.Context, state string) (*model.OAuthState, error) {
	record := &model.OAuthState{}

	err := r.db.QueryRowContext(ctx,
		`DELETE FROM oauth_states
		 WHERE state = $1 AND expires_at > now()
		 RETURNING state, site_id, expires_at, created_at`,
		state,
	).Scan(&record.State, &record.SiteID, &record.ExpiresAt, &record.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stateの消費に失敗しました: %w", err)
	}

	return record, nil
}

// DeleteExpired は期限切れのstateレコードを削除し、削除件数を返す。
func (r *PostgresStateRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM oauth_states WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れstateの削除に失敗しました: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}

// compile-time interface check
var _ OAuthStateRepository = (*PostgresStateRepo)(nil)
