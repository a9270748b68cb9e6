package issue

import (
	"testing"
	"time"

	"github.com/hitoshi/siteaudit/internal/model"
)

func rawIssue(url string, t model.Type, sev model.Severity, details model.Details) model.Issue {
	if details == nil {
		details = model.Details{}
	}
	return model.Issue{
		URL:      url,
		Category: model.CategoryOf(t),
		Type:     t,
		Severity: sev,
		Details:  details,
	}
}

func TestAssemble_AssignsIDAndStatus(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, nil),
	}

	issues := Assemble("example.com", raw, now)

	if len(issues) != 1 {
		t.Fatalf("問題数が期待値と異なります: got %d, want 1", len(issues))
	}
	if issues[0].ID == "" {
		t.Error("IDが割り当てられていません")
	}
	if issues[0].SiteID != "example.com" {
		t.Errorf("SiteIDが期待値と異なります: got %q", issues[0].SiteID)
	}
	if issues[0].Status != model.StatusOpen {
		t.Errorf("ステータスはopenで初期化されるべきです: got %s", issues[0].Status)
	}
	if !issues[0].DetectedAt.Equal(now) || !issues[0].UpdatedAt.Equal(now) {
		t.Error("タイムスタンプが設定されていません")
	}
}

func TestAssemble_DeterministicIDs(t *testing.T) {
	now := time.Now()
	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeDuplicateWithoutCanonical, model.SeverityError, nil),
	}

	first := Assemble("example.com", raw, now)
	second := Assemble("example.com", raw, now.Add(1*time.Hour))

	// 同じ問題の再検出は同じIDに収束する
	if first[0].ID != second[0].ID {
		t.Errorf("同一の問題に異なるIDが割り当てられました: %s != %s", first[0].ID, second[0].ID)
	}
}

func TestAssemble_DistinctIDsPerBlock(t *testing.T) {
	now := time.Now()

	d0 := model.Details{}
	d0.Set("block", 0)
	d0.Set("field", "name")
	d1 := model.Details{}
	d1.Set("block", 1)
	d1.Set("field", "name")

	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeMissingRequiredField, model.SeverityError, d0),
		rawIssue("https://example.com/", model.TypeMissingRequiredField, model.SeverityError, d1),
	}

	issues := Assemble("example.com", raw, now)

	// 同一URL・同一タイプでもブロックが異なれば別の問題として扱う
	if issues[0].ID == issues[1].ID {
		t.Errorf("ブロックの異なる問題に同じIDが割り当てられました: %s", issues[0].ID)
	}
}

func TestAssemble_DistinctIDsPerReason(t *testing.T) {
	now := time.Now()

	// モバイルバリデーターは同一URLにcontent_wider_than_screenを
	// 検出理由違いで複数生成することがある
	d0 := model.Details{}
	d0.Set("reason", "user_scalable_disabled")
	d0.Set("content", "width=device-width, user-scalable=no")
	d1 := model.Details{}
	d1.Set("reason", "fixed_width_element")
	d1.Set("width_px", 1200)

	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeContentWiderThanScreen, model.SeverityWarning, d0),
		rawIssue("https://example.com/", model.TypeContentWiderThanScreen, model.SeverityWarning, d1),
	}

	issues := Assemble("example.com", raw, now)

	if issues[0].ID == issues[1].ID {
		t.Errorf("検出理由の異なる問題に同じIDが割り当てられました: %s", issues[0].ID)
	}
}

func TestAssemble_DistinctIDsPerMessage(t *testing.T) {
	now := time.Now()

	// Search Console由来の問題はメッセージでしか区別できない場合がある
	d0 := model.Details{}
	d0.Set("source", "gsc")
	d0.Set("rich_result_type", "Product")
	d0.Set("message", "Missing field 'price'")
	d1 := model.Details{}
	d1.Set("source", "gsc")
	d1.Set("rich_result_type", "Product")
	d1.Set("message", "Missing field 'availability'")

	raw := []model.Issue{
		rawIssue("https://example.com/p", model.TypeMissingRequiredField, model.SeverityError, d0),
		rawIssue("https://example.com/p", model.TypeMissingRequiredField, model.SeverityError, d1),
	}

	issues := Assemble("example.com", raw, now)

	if issues[0].ID == issues[1].ID {
		t.Errorf("メッセージの異なる問題に同じIDが割り当てられました: %s", issues[0].ID)
	}
}

func TestAssemble_UniqueIDsWithinBatch(t *testing.T) {
	now := time.Now()

	// 区別用キーまで完全に一致する問題が同一バッチに現れても
	// IDは衝突しない
	d := model.Details{}
	d.Set("gsc_issue_type", "UNKNOWN_RULE")
	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, d),
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, d),
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, d),
	}

	issues := Assemble("example.com", raw, now)

	ids := make(map[string]bool, len(issues))
	for _, issue := range issues {
		if ids[issue.ID] {
			t.Fatalf("バッチ内でIDが重複しています: %s", issue.ID)
		}
		ids[issue.ID] = true
	}

	// 連番の付与も決定的であること
	again := Assemble("example.com", raw, now)
	for i := range issues {
		if issues[i].ID != again[i].ID {
			t.Errorf("再実行でIDが変化しました: %s != %s", issues[i].ID, again[i].ID)
		}
	}
}

func TestAssemble_DistinctIDsPerSite(t *testing.T) {
	now := time.Now()
	raw := []model.Issue{
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, nil),
	}

	a := Assemble("example.com", raw, now)
	b := Assemble("other.com", raw, now)

	if a[0].ID == b[0].ID {
		t.Error("サイトの異なる問題に同じIDが割り当てられました")
	}
}

func TestAssemble_PreservesExplicitStatus(t *testing.T) {
	now := time.Now()
	raw := []model.Issue{
		{
			URL:      "https://example.com/",
			Category: model.CategoryMobile,
			Type:     model.TypeNoViewport,
			Severity: model.SeverityError,
			Status:   model.StatusFixing,
			Details:  model.Details{},
		},
	}

	issues := Assemble("example.com", raw, now)
	if issues[0].Status != model.StatusFixing {
		t.Errorf("明示されたステータスは維持されるべきです: got %s", issues[0].Status)
	}
}

func TestAssemble_Empty(t *testing.T) {
	issues := Assemble("example.com", nil, time.Now())
	if len(issues) != 0 {
		t.Errorf("空入力に対して問題が生成されました: %+v", issues)
	}
}

func TestSummarize(t *testing.T) {
	issues := []model.Issue{
		rawIssue("https://example.com/", model.TypeNoViewport, model.SeverityError, nil),
		rawIssue("https://example.com/", model.TypeTextTooSmall, model.SeverityWarning, nil),
		rawIssue("https://example.com/", model.TypeMissingSchema, model.SeverityWarning, nil),
		rawIssue("https://example.com/", model.TypeNotFound404, model.SeverityError, nil),
	}

	summary := Summarize(issues)

	if summary.TotalIssues != 4 {
		t.Errorf("total_issuesが期待値と異なります: got %d, want 4", summary.TotalIssues)
	}
	if summary.BySeverity.Errors != 2 || summary.BySeverity.Warnings != 2 {
		t.Errorf("by_severityが期待値と異なります: %+v", summary.BySeverity)
	}
	if summary.ByCategory.Mobile != 2 {
		t.Errorf("by_category.mobileが期待値と異なります: got %d, want 2", summary.ByCategory.Mobile)
	}
	if summary.ByCategory.StructuredData != 1 || summary.ByCategory.Indexing != 1 {
		t.Errorf("by_categoryが期待値と異なります: %+v", summary.ByCategory)
	}
	// 問題のないカテゴリは0で埋められる
	if summary.ByCategory.Performance != 0 {
		t.Errorf("by_category.performanceは0であるべきです: got %d", summary.ByCategory.Performance)
	}
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalIssues != 0 {
		t.Errorf("total_issuesは0であるべきです: got %d", summary.TotalIssues)
	}
	if summary.ByCategory != (model.CategoryCounts{}) {
		t.Errorf("by_categoryはゼロ値であるべきです: %+v", summary.ByCategory)
	}
}
