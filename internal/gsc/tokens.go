package gsc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
)

// TokenStore はGSCトークンの永続化層が満たすインターフェース。
type TokenStore interface {
	// GetBySiteID はサイトのトークンを取得する。未登録の場合は(nil, nil)を返す。
	GetBySiteID(ctx context.Context, siteID string) (*model.GoogleToken, error)
	// Save はトークンを保存する（同一サイトの既存レコードは上書き）。
	Save(ctx context.Context, token *model.GoogleToken) error
}

// TokenService はGSCアクセストークンの取得とリフレッシュを担う。
// 同一サイトのトークンを並行リフレッシュした場合の競合は許容する
// （二重リフレッシュが起きても後勝ちで保存されるだけで実害がない）。
type TokenService struct {
	store    TokenStore
	provider *OAuthProvider
	logger   *slog.Logger
}

// NewTokenService はTokenServiceを生成する。
func NewTokenService(store TokenStore, provider *OAuthProvider, logger *slog.Logger) *TokenService {
	return &TokenService{
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// EnsureToken はサイトの有効なアクセストークンを返す。
// 期限切れの場合はリフレッシュして保存し直す。トークン未登録の場合は
// (nil, nil)を返し、接続が必要かどうかの判断は呼び出し元に委ねる。
func (s *TokenService) EnsureToken(ctx context.Context, siteID string) (*model.GoogleToken, error) {
	token, err := s.store.GetBySiteID(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("トークンの取得に失敗しました: %w", err)
	}
	if token == nil {
		return nil, nil
	}

	if !token.Expired(time.Now()) {
		return token, nil
	}

	if token.RefreshToken == "" {
		// リフレッシュ不能な期限切れトークンは未接続と同じ扱いにする
		s.logger.Warn("リフレッシュトークンのない期限切れトークンです",
			slog.String("site_id", siteID),
		)
		return nil, nil
	}

	refreshed, err := s.provider.Refresh(ctx, token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("トークンのリフレッシュに失敗しました: %w", err)
	}

	// access_tokenとexpires_atのみ更新し、refresh_tokenは維持する
	token.AccessToken = refreshed.AccessToken
	token.ExpiresAt = time.Now().Add(time.Duration(refreshed.ExpiresIn) * time.Second)
	if refreshed.TokenType != "" {
		token.TokenType = refreshed.TokenType
	}

	if err := s.store.Save(ctx, token); err != nil {
		return nil, fmt.Errorf("リフレッシュしたトークンの保存に失敗しました: %w", err)
	}

	s.logger.Info("GSCトークンをリフレッシュしました",
		slog.String("site_id", siteID),
		slog.Time("expires_at", token.ExpiresAt),
	)

	return token, nil
}
