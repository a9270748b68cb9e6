package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/validation"
)

// --- モック定義 ---

type mockValidationService struct {
	validateFn func(ctx context.Context, req validation.Request) (*validation.Result, error)
}

func (m *mockValidationService) Validate(ctx context.Context, req validation.Request) (*validation.Result, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, req)
	}
	return &validation.Result{ValidationID: "v-1", Status: "completed"}, nil
}

func TestValidateHandler_Success(t *testing.T) {
	now := time.Now()
	svc := &mockValidationService{
		validateFn: func(ctx context.Context, req validation.Request) (*validation.Result, error) {
			if req.SiteURL != "https://example.com" {
				t.Errorf("SiteURL = %q, want https://example.com", req.SiteURL)
			}
			if len(req.Checks) != 1 || req.Checks[0] != "mobile" {
				t.Errorf("Checks = %v, want [mobile]", req.Checks)
			}
			return &validation.Result{
				ValidationID: "v-123",
				Status:       "completed",
				URLsChecked:  1,
				Summary: model.Summary{
					TotalIssues: 1,
					BySeverity:  model.SeverityCounts{Errors: 1},
					ByCategory:  model.CategoryCounts{Mobile: 1},
				},
				Issues: []model.Issue{{
					ID:          "issue-1",
					SiteID:      "example.com",
					URL:         "https://example.com",
					Category:    model.CategoryMobile,
					Type:        model.TypeNoViewport,
					Severity:    model.SeverityError,
					Status:      model.StatusOpen,
					AutoFixable: true,
					DetectedAt:  now,
					UpdatedAt:   now,
				}},
			}, nil
		},
	}

	h := NewValidateHandler(svc)

	body := `{"site_url": "https://example.com", "checks": ["mobile"]}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Validate(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if got.ValidationID != "v-123" {
		t.Errorf("validation_id = %q, want v-123", got.ValidationID)
	}
	if got.Summary.TotalIssues != 1 {
		t.Errorf("summary.total_issues = %d, want 1", got.Summary.TotalIssues)
	}
	if got.Summary.ByCategory.Mobile != 1 {
		t.Errorf("summary.by_category.mobile = %d, want 1", got.Summary.ByCategory.Mobile)
	}
	if len(got.Issues) != 1 {
		t.Fatalf("issues length = %d, want 1", len(got.Issues))
	}
	if got.Issues[0].Type != "no_viewport" {
		t.Errorf("issues[0].type = %q, want no_viewport", got.Issues[0].Type)
	}
	if got.Issues[0].Severity != "error" {
		t.Errorf("issues[0].severity = %q, want error", got.Issues[0].Severity)
	}
	if !got.Issues[0].AutoFixable {
		t.Error("issues[0].auto_fixable = false, want true")
	}
}

func TestValidateHandler_MissingSiteURL(t *testing.T) {
	h := NewValidateHandler(&mockValidationService{})

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	h.Validate(w, req)

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestValidateHandler_InvalidJSON(t *testing.T) {
	h := NewValidateHandler(&mockValidationService{})

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(`{not json`))
	w := httptest.NewRecorder()

	h.Validate(w, req)

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestValidateHandler_UnknownCheck(t *testing.T) {
	svc := &mockValidationService{
		validateFn: func(ctx context.Context, req validation.Request) (*validation.Result, error) {
			return nil, model.NewUnknownCheckError("seo_magic")
		},
	}
	h := NewValidateHandler(svc)

	body := `{"site_url": "https://example.com", "checks": ["seo_magic"]}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Validate(w, req)

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestValidateHandler_NotConnected(t *testing.T) {
	svc := &mockValidationService{
		validateFn: func(ctx context.Context, req validation.Request) (*validation.Result, error) {
			return nil, model.NewNotConnectedError("example.com")
		},
	}
	h := NewValidateHandler(svc)

	body := `{"site_url": "https://example.com", "use_gsc": true}`
	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.Validate(w, req)

	assertAPIError(t, w, http.StatusUnprocessableEntity, model.ErrCodeNotConnected)
}

// assertAPIError はエラーレスポンスのステータスコードとエラーコードを検証する。
func assertAPIError(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()

	resp := w.Result()
	if resp.StatusCode != wantStatus {
		t.Fatalf("status = %d, want %d", resp.StatusCode, wantStatus)
	}

	var body apiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
}
