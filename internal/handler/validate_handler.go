package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/validation"
)

// ValidationServiceInterface は検証ハンドラーが必要とするサービスインターフェース。
type ValidationServiceInterface interface {
	// Validate は検証リクエストを実行し結果を返す。
	Validate(ctx context.Context, req validation.Request) (*validation.Result, error)
}

// ValidateHandler は検証実行のHTTPハンドラー。
type ValidateHandler struct {
	service ValidationServiceInterface
}

// NewValidateHandler はValidateHandlerを生成する。
func NewValidateHandler(service ValidationServiceInterface) *ValidateHandler {
	return &ValidateHandler{service: service}
}

// validateRequest は検証リクエストのボディ。
type validateRequest struct {
	SiteURL     string   `json:"site_url"`
	Checks      []string `json:"checks,omitempty"`
	MaxURLs     int      `json:"max_urls,omitempty"`
	SiteID      string   `json:"site_id,omitempty"`
	UseGSC      bool     `json:"use_gsc,omitempty"`
	GSCProperty string   `json:"gsc_property,omitempty"`
}

// validateResponse は検証結果のAPIレスポンス。
type validateResponse struct {
	ValidationID string          `json:"validation_id"`
	Status       string          `json:"status"`
	URLsChecked  int             `json:"urls_checked"`
	Summary      model.Summary   `json:"summary"`
	Issues       []issueResponse `json:"issues"`
	GSCUsed      bool            `json:"gsc_used"`
	GSCProperty  string          `json:"gsc_property,omitempty"`
}

// issueResponse は問題1件のAPIレスポンス。
type issueResponse struct {
	ID           string        `json:"id"`
	SiteID       string        `json:"site_id"`
	URL          string        `json:"url"`
	Category     string        `json:"category"`
	Type         string        `json:"type"`
	Severity     string        `json:"severity"`
	Status       string        `json:"status"`
	Details      model.Details `json:"details"`
	AutoFixable  bool          `json:"auto_fixable"`
	SuggestedFix string        `json:"suggested_fix,omitempty"`
	DetectedAt   time.Time     `json:"detected_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// Validate は検証実行を処理する。
// POST /validate
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.SiteURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("site_urlは必須です"))
		return
	}

	result, err := h.service.Validate(r.Context(), validation.Request{
		SiteURL:     req.SiteURL,
		Checks:      req.Checks,
		MaxURLs:     req.MaxURLs,
		SiteID:      req.SiteID,
		UseGSC:      req.UseGSC,
		GSCProperty: req.GSCProperty,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	issues := make([]issueResponse, len(result.Issues))
	for i, issue := range result.Issues {
		issues[i] = toIssueResponse(&issue)
	}

	writeJSONResponse(w, http.StatusOK, validateResponse{
		ValidationID: result.ValidationID,
		Status:       result.Status,
		URLsChecked:  result.URLsChecked,
		Summary:      result.Summary,
		Issues:       issues,
		GSCUsed:      result.GSCUsed,
		GSCProperty:  result.GSCProperty,
	})
}

// toIssueResponse はモデルをAPIレスポンス型に変換する。
func toIssueResponse(issue *model.Issue) issueResponse {
	return issueResponse{
		ID:           issue.ID,
		SiteID:       issue.SiteID,
		URL:          issue.URL,
		Category:     string(issue.Category),
		Type:         string(issue.Type),
		Severity:     string(issue.Severity),
		Status:       string(issue.Status),
		Details:      issue.Details,
		AutoFixable:  issue.AutoFixable,
		SuggestedFix: issue.SuggestedFix,
		DetectedAt:   issue.DetectedAt,
		UpdatedAt:    issue.UpdatedAt,
	}
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeNotConnected:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
