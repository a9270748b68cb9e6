package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/site"
)

// SiteServiceInterface はサイトハンドラーが必要とするサービスインターフェース。
type SiteServiceInterface interface {
	// Register はサイトを定期検証の対象として登録する。
	Register(ctx context.Context, input site.RegisterInput) (*model.Site, error)
	// List は登録済みサイトの一覧を取得する。
	List(ctx context.Context) ([]*model.Site, error)
}

// SiteHandler はサイト管理のHTTPハンドラー。
type SiteHandler struct {
	service SiteServiceInterface
}

// NewSiteHandler はSiteHandlerを生成する。
func NewSiteHandler(service SiteServiceInterface) *SiteHandler {
	return &SiteHandler{service: service}
}

// registerSiteRequest はサイト登録リクエストのボディ。
type registerSiteRequest struct {
	SiteURL             string `json:"site_url"`
	SitemapURL          string `json:"sitemap_url,omitempty"`
	GSCProperty         string `json:"gsc_property,omitempty"`
	CheckSchedule       string `json:"check_schedule,omitempty"`
	NotificationWebhook string `json:"notification_webhook,omitempty"`
	NotificationEmail   string `json:"notification_email,omitempty"`
}

// siteResponse はサイト情報のAPIレスポンス。
type siteResponse struct {
	SiteID              string     `json:"site_id"`
	SiteURL             string     `json:"site_url"`
	SitemapURL          string     `json:"sitemap_url,omitempty"`
	GSCProperty         string     `json:"gsc_property,omitempty"`
	CheckSchedule       string     `json:"check_schedule"`
	NotificationWebhook string     `json:"notification_webhook,omitempty"`
	NotificationEmail   string     `json:"notification_email,omitempty"`
	LastCheck           *time.Time `json:"last_check,omitempty"`
	NextCheck           time.Time  `json:"next_check"`
	OpenIssues          int        `json:"open_issues"`
}

// RegisterSite はサイト登録を処理する。
// POST /sites
func (h *SiteHandler) RegisterSite(w http.ResponseWriter, r *http.Request) {
	var req registerSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	registered, err := h.service.Register(r.Context(), site.RegisterInput{
		SiteURL:             req.SiteURL,
		SitemapURL:          req.SitemapURL,
		GSCProperty:         req.GSCProperty,
		CheckSchedule:       req.CheckSchedule,
		NotificationWebhook: req.NotificationWebhook,
		NotificationEmail:   req.NotificationEmail,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, toSiteResponse(registered))
}

// ListSites は登録済みサイトの一覧を返す。
// GET /sites
func (h *SiteHandler) ListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]siteResponse, len(sites))
	for i, s := range sites {
		responses[i] = toSiteResponse(s)
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"sites": responses,
	})
}

// toSiteResponse はモデルをAPIレスポンス型に変換する。
func toSiteResponse(s *model.Site) siteResponse {
	return siteResponse{
		SiteID:              s.ID,
		SiteURL:             s.SiteURL,
		SitemapURL:          s.SitemapURL,
		GSCProperty:         s.GSCProperty,
		CheckSchedule:       string(s.CheckSchedule),
		NotificationWebhook: s.NotificationWebhook,
		NotificationEmail:   s.NotificationEmail,
		LastCheck:           s.LastCheck,
		NextCheck:           s.NextCheck,
		OpenIssues:          s.OpenIssues,
	}
}
