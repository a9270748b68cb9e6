// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/siteaudit/internal/gsc"
	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// stateTTL はOAuth stateトークンの有効期間。
const stateTTL = 10 * time.Minute

// OAuthProviderInterface は認証ハンドラーが必要とするOAuthプロバイダーの
// インターフェース。gsc.OAuthProviderがこれを満たす。
type OAuthProviderInterface interface {
	// AuthCodeURL は同意画面へのリダイレクトURLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをトークンに交換する。
	Exchange(ctx context.Context, code string) (*gsc.TokenResponse, error)
}

// SiteFinder はサイトの存在確認に必要なインターフェース。
// repository.SiteRepositoryの部分集合として定義する。
type SiteFinder interface {
	FindByID(ctx context.Context, id string) (*model.Site, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// SuccessRedirectURL は接続完了後のリダイレクト先。
	// 空の場合はJSONレスポンスを返す。
	SuccessRedirectURL string
}

// AuthHandler はGSC接続用OAuthフローのHTTPハンドラー。
// stateはDBに保存し、コールバック時に1回だけ消費する。
type AuthHandler struct {
	provider  OAuthProviderInterface
	states    repository.OAuthStateRepository
	tokens    repository.GoogleTokenRepository
	siteRepo  SiteFinder
	config    AuthHandlerConfig
	logger    *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(provider OAuthProviderInterface, states repository.OAuthStateRepository, tokens repository.GoogleTokenRepository, siteRepo SiteFinder, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		provider: provider,
		states:   states,
		tokens:   tokens,
		siteRepo: siteRepo,
		config:   config,
		logger:   logger,
	}
}

// Connect はGSC接続のOAuthフローを開始する。
// GET /auth/google?site_id=xxx
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("site_idは必須です"))
		return
	}

	registered, err := h.siteRepo.FindByID(r.Context(), siteID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if registered == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewSiteNotFoundError(siteID))
		return
	}

	state, err := generateState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	if err := h.states.Create(r.Context(), &model.OAuthState{
		State:     state,
		SiteID:    siteID,
		ExpiresAt: time.Now().Add(stateTTL),
	}); err != nil {
		h.logger.Error("failed to store oauth state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// stateをDBから消費して対応するサイトを特定し、認可コードを
// トークンに交換して永続化する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("stateは必須です"))
		return
	}

	record, err := h.states.Consume(r.Context(), state)
	if err != nil {
		h.logger.Error("failed to consume oauth state", slog.String("error", err.Error()))
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}
	if record == nil {
		h.logger.Warn("oauth state mismatch or expired")
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("stateが無効または期限切れです"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("認可コードがありません"))
		return
	}

	token, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed",
			slog.String("site_id", record.SiteID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewInternalError())
		return
	}

	if err := h.tokens.Save(r.Context(), &model.GoogleToken{
		SiteID:       record.SiteID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
		TokenType:    token.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}); err != nil {
		h.logger.Error("failed to save google token",
			slog.String("site_id", record.SiteID),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
		return
	}

	h.logger.Info("gsc connected", slog.String("site_id", record.SiteID))

	if h.config.SuccessRedirectURL != "" {
		http.Redirect(w, r, h.config.SuccessRedirectURL, http.StatusTemporaryRedirect)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"site_id":   record.SiteID,
		"connected": true,
	})
}

// Status はGSC接続状態を返す。
// GET /auth/google/status?site_id=xxx
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("site_id")
	if siteID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("site_idは必須です"))
		return
	}

	token, err := h.tokens.GetBySiteID(r.Context(), siteID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	connected := token != nil
	expired := false
	if connected {
		expired = token.Expired(time.Now())
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"site_id":   siteID,
		"connected": connected,
		"expired":   expired,
	})
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
