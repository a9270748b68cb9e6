package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/siteaudit/internal/model"
)

// PostgresTokenRepo はPostgreSQLを使用したGoogleトークンリポジトリ。
type PostgresTokenRepo struct {
	db *sql.DB
}

// NewPostgresTokenRepo はPostgresTokenRepoを生成する。
func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db}
}

// GetBySiteID は指定サイトのトークンを取得する。見つからない場合はnilを返す。
func (r *PostgresTokenRepo) GetBySiteID(ctx context.Context, siteID string) (*model.GoogleToken, error) {
	token := &model.GoogleToken{}
	var scope, tokenType sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT site_id, access_token, refresh_token, scope, token_type,
		        expires_at, created_at, updated_at
		 FROM google_tokens WHERE site_id = $1`,
		siteID,
	).Scan(
		&token.SiteID, &token.AccessToken, &token.RefreshToken,
		&scope, &tokenType, &token.ExpiresAt,
		&token.CreatedAt, &token.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}

	token.Scope = nullStringValue(scope)
	token.TokenType = nullStringValue(tokenType)

	return token, nil
}

// Save はトークンを保存する。既存サイトのトークンは上書きされる。
func (r *PostgresTokenRepo) Save(ctx context.Context, token *model.GoogleToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO google_tokens (site_id, access_token, refresh_token, scope,
		                            token_type, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 ON CONFLICT (site_id) DO UPDATE SET
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    scope = EXCLUDED.scope,
		    token_type = EXCLUDED.token_type,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()`,
		token.SiteID, token.AccessToken, token.RefreshToken,
		nullString(token.Scope), nullString(token.TokenType), token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("トークンの保存に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ GoogleTokenRepository = (*PostgresTokenRepo)(nil)
