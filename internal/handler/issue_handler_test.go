package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/siteaudit/internal/issue"
	"github.com/hitoshi/siteaudit/internal/model"
	"github.com/hitoshi/siteaudit/internal/repository"
)

// --- モック定義 ---

type mockIssueService struct {
	listBySiteFn   func(ctx context.Context, siteID string, filter repository.IssueFilter) (*issue.ListResult, error)
	updateStatusFn func(ctx context.Context, issueID, status string) (*model.Issue, error)
}

func (m *mockIssueService) ListBySite(ctx context.Context, siteID string, filter repository.IssueFilter) (*issue.ListResult, error) {
	if m.listBySiteFn != nil {
		return m.listBySiteFn(ctx, siteID, filter)
	}
	return &issue.ListResult{}, nil
}

func (m *mockIssueService) UpdateStatus(ctx context.Context, issueID, status string) (*model.Issue, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, issueID, status)
	}
	return nil, nil
}

// newIssueRouter はURLパラメーター解決のためchi.Router経由でハンドラーを返す。
func newIssueRouter(svc IssueServiceInterface) http.Handler {
	r := chi.NewRouter()
	h := NewIssueHandler(svc)
	r.Get("/sites/{site_id}/issues", h.ListIssues)
	r.Patch("/issues/{id}", h.UpdateStatus)
	return r
}

func TestIssueHandler_ListIssues(t *testing.T) {
	now := time.Now()
	var capturedFilter repository.IssueFilter
	svc := &mockIssueService{
		listBySiteFn: func(ctx context.Context, siteID string, filter repository.IssueFilter) (*issue.ListResult, error) {
			if siteID != "example.com" {
				t.Errorf("siteID = %q, want example.com", siteID)
			}
			capturedFilter = filter
			return &issue.ListResult{
				Issues: []*model.Issue{{
					ID:         "issue-1",
					SiteID:     siteID,
					URL:        "https://example.com",
					Category:   model.CategoryIndexing,
					Type:       model.TypeNoindexTag,
					Severity:   model.SeverityWarning,
					Status:     model.StatusOpen,
					DetectedAt: now,
					UpdatedAt:  now,
				}},
				NextCursor: "next-token",
			}, nil
		},
	}

	router := newIssueRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/sites/example.com/issues?status=open&category=indexing&limit=10", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	if capturedFilter.Status != "open" || capturedFilter.Category != "indexing" || capturedFilter.Limit != 10 {
		t.Errorf("filter = %+v, want status=open category=indexing limit=10", capturedFilter)
	}

	var got issueListResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.SiteID != "example.com" {
		t.Errorf("site_id = %q, want example.com", got.SiteID)
	}
	if got.Returned != 1 {
		t.Errorf("returned = %d, want 1", got.Returned)
	}
	if got.NextCursor != "next-token" {
		t.Errorf("next_cursor = %q, want next-token", got.NextCursor)
	}
}

func TestIssueHandler_ListIssues_InvalidLimit(t *testing.T) {
	router := newIssueRouter(&mockIssueService{})

	req := httptest.NewRequest(http.MethodGet, "/sites/example.com/issues?limit=abc", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestIssueHandler_UpdateStatus(t *testing.T) {
	now := time.Now()
	callCount := 0
	svc := &mockIssueService{
		updateStatusFn: func(ctx context.Context, issueID, status string) (*model.Issue, error) {
			callCount++
			if issueID != "issue-1" {
				t.Errorf("issueID = %q, want issue-1", issueID)
			}
			return &model.Issue{
				ID:        issueID,
				Status:    model.Status(status),
				UpdatedAt: now,
			}, nil
		},
	}

	router := newIssueRouter(svc)

	// 同じステータスでの再実行は同じ結果を返す（冪等）
	for i := 0; i < 2; i++ {
		body := `{"status": "fixed"}`
		req := httptest.NewRequest(http.MethodPatch, "/issues/issue-1", strings.NewReader(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}

		var got updateStatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Status != "fixed" {
			t.Errorf("status = %q, want fixed", got.Status)
		}
	}

	if callCount != 2 {
		t.Errorf("service call count = %d, want 2", callCount)
	}
}

func TestIssueHandler_UpdateStatus_InvalidStatus(t *testing.T) {
	svc := &mockIssueService{
		updateStatusFn: func(ctx context.Context, issueID, status string) (*model.Issue, error) {
			return nil, model.NewInvalidStatusError(status)
		},
	}

	router := newIssueRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/issues/issue-1", strings.NewReader(`{"status": "resolved"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assertAPIError(t, w, http.StatusBadRequest, model.ErrCodeValidation)
}

func TestIssueHandler_UpdateStatus_NotFound(t *testing.T) {
	svc := &mockIssueService{
		updateStatusFn: func(ctx context.Context, issueID, status string) (*model.Issue, error) {
			return nil, model.NewIssueNotFoundError(issueID)
		},
	}

	router := newIssueRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/issues/unknown", strings.NewReader(`{"status": "fixed"}`))
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assertAPIError(t, w, http.StatusNotFound, model.ErrCodeNotFound)
}
