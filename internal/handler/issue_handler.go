package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/siteaudit/internal/issue"
	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// IssueServiceInterface は問題ハンドラーが必要とするサービスインターフェース。
type IssueServiceInterface interface {
	// ListBySite はサイトの問題を絞り込み条件付きで取得する。
	ListBySite(ctx context.Context, siteID string, filter repository.IssueFilter) (*issue.ListResult, error)
	// UpdateStatus は問題のステータスを更新する。
	UpdateStatus(ctx context.Context, issueID, status string) (*model.Issue, error)
}

// IssueHandler は問題管理のHTTPハンドラー。
type IssueHandler struct {
	service IssueServiceInterface
}

// NewIssueHandler はIssueHandlerを生成する。
func NewIssueHandler(service IssueServiceInterface) *IssueHandler {
	return &IssueHandler{service: service}
}

// issueListResponse は問題一覧のAPIレスポンス。
type issueListResponse struct {
	SiteID     string          `json:"site_id"`
	Returned   int             `json:"returned"`
	NextCursor string          `json:"next_cursor,omitempty"`
	Issues     []issueResponse `json:"issues"`
}

// updateStatusRequest は問題ステータス更新リクエストのボディ。
type updateStatusRequest struct {
	Status string `json:"status"`
}

// updateStatusResponse は問題ステータス更新のAPIレスポンス。
type updateStatusResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListIssues はサイトの問題一覧を返す。
// GET /sites/:site_id/issues
func (h *IssueHandler) ListIssues(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")

	query := r.URL.Query()
	filter := repository.IssueFilter{
		Status:   query.Get("status"),
		Category: query.Get("category"),
		Severity: query.Get("severity"),
		Cursor:   query.Get("cursor"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("limitは整数で指定してください"))
			return
		}
		filter.Limit = limit
	}

	result, err := h.service.ListBySite(r.Context(), siteID, filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issues := make([]issueResponse, len(result.Issues))
	for i, found := range result.Issues {
		issues[i] = toIssueResponse(found)
	}

	writeJSONResponse(w, http.StatusOK, issueListResponse{
		SiteID:     siteID,
		Returned:   len(issues),
		NextCursor: result.NextCursor,
		Issues:     issues,
	})
}

// UpdateStatus は問題のステータス更新を処理する。
// PATCH /issues/:id
func (h *IssueHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "id")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	updated, err := h.service.UpdateStatus(r.Context(), issueID, req.Status)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, updateStatusResponse{
		ID:        updated.ID,
		Status:    string(updated.Status),
		UpdatedAt: updated.UpdatedAt,
	})
}
