package gsc

import (
	"strings"

	"github.com/hitoshi/siteaudit/internal/model"
)

// coverageRule はcoverageState文字列のキーワードマッチ規則。
// テーブルは優先順で評価され、最初にマッチした規則が採用される。
type coverageRule struct {
	keywords []string
	issue    model.Type
	severity model.Severity
	fix      string
}

// coverageRules はGoogleのインデックスステータス（自由記述のcoverageState）を
// 問題タイプに対応付ける順序付き規則テーブル。
// 文言は上流の変更で静かに変わりうるため、規則は推測ではなく明示の表として保持する。
var coverageRules = []coverageRule{
	{
		keywords: []string{"noindex"},
		issue:    model.TypeNoindexTag,
		severity: model.SeverityWarning,
		fix:      "インデックス登録を意図している場合はnoindex指定を削除してください。",
	},
	{
		keywords: []string{"blocked"},
		issue:    model.TypeBlockedByRobots,
		severity: model.SeverityError,
		fix:      "robots.txtのブロック設定を見直してください。",
	},
	{
		keywords: []string{"not found", "404"},
		issue:    model.TypeNotFound404,
		severity: model.SeverityError,
		fix:      "ページを復元するか、301リダイレクトを設定してください。",
	},
	{
		keywords: []string{"server error", "5xx"},
		issue:    model.TypeServerError5xx,
		severity: model.SeverityError,
		fix:      "サーバーエラーの原因を調査して解消してください。",
	},
	{
		keywords: []string{"redirect"},
		issue:    model.TypeRedirectChain,
		severity: model.SeverityWarning,
		fix:      "リダイレクトを整理し、最終URLへ直接到達できるようにしてください。",
	},
}

// mobileIssueTable はGSCのモバイルユーザビリティ問題タイプを
// このシステムの問題タイプに対応付ける固定テーブル。
// 未知のタイプはno_viewportにフォールバックする（既知の近似）。
var mobileIssueTable = map[string]model.Type{
	"CONFIGURE_VIEWPORT":       model.TypeNoViewport,
	"FIXED_WIDTH_VIEWPORT":     model.TypeNoViewport,
	"SIZE_CONTENT_TO_VIEWPORT": model.TypeContentWiderThanScreen,
	"USE_LEGIBLE_FONT_SIZES":   model.TypeTextTooSmall,
	"TAP_TARGETS_TOO_CLOSE":    model.TypeTapTargetsTooClose,
}

// MapInspection はURL Inspection APIの検査結果をこのシステムの問題リストに
// 正規化する純粋関数。ローカルバリデーターと同じIssue形式を生成し、
// detailsにsource=gscを付与する。IDとStatusはアセンブラーが割り当てる。
func MapInspection(pageURL string, result *InspectionResult) []model.Issue {
	if result == nil {
		return nil
	}

	var issues []model.Issue
	issues = append(issues, mapIndexStatus(pageURL, result)...)
	issues = append(issues, mapCanonical(pageURL, result)...)
	issues = append(issues, mapMobileUsability(pageURL, result)...)
	issues = append(issues, mapRichResults(pageURL, result)...)
	return issues
}

// mapIndexStatus はcoverageStateをキーワードマッチで問題タイプに変換する。
// どの規則にもマッチしない場合、verdictがFAILなら包括的な
// crawled_not_indexedとして報告する。
func mapIndexStatus(pageURL string, result *InspectionResult) []model.Issue {
	status := result.IndexStatusResult
	coverage := strings.ToLower(status.CoverageState)

	for _, rule := range coverageRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(coverage, keyword) {
				d := gscDetails()
				d.Set("coverage_state", status.CoverageState)
				d.Set("verdict", status.Verdict)
				return []model.Issue{gscIssue(pageURL, rule.issue, rule.severity, rule.fix, d)}
			}
		}
	}

	if strings.EqualFold(status.Verdict, "FAIL") {
		d := gscDetails()
		d.Set("coverage_state", status.CoverageState)
		d.Set("verdict", status.Verdict)
		return []model.Issue{gscIssue(pageURL, model.TypeCrawledNotIndexed, model.SeverityWarning,
			"GSCのカバレッジレポートで除外理由を確認してください。", d)}
	}

	return nil
}

// mapCanonical はGoogleが選択したcanonicalと宣言されたcanonicalの不一致を検出する。
func mapCanonical(pageURL string, result *InspectionResult) []model.Issue {
	status := result.IndexStatusResult

	if status.UserCanonical == "" {
		// canonical未宣言かつ判定がPASSでなければ警告する。
		// 判定が空（未評価）のページもPASSとは扱わない。
		if !strings.EqualFold(status.Verdict, "PASS") {
			d := gscDetails()
			d.Set("google_canonical", status.GoogleCanonical)
			return []model.Issue{gscIssue(pageURL, model.TypeDuplicateWithoutCanonical, model.SeverityWarning,
				"自己参照canonicalタグを追加してください。", d)}
		}
		return nil
	}

	if status.GoogleCanonical != "" && status.GoogleCanonical != status.UserCanonical {
		d := gscDetails()
		d.Set("google_canonical", status.GoogleCanonical)
		d.Set("declared_canonical", status.UserCanonical)
		return []model.Issue{gscIssue(pageURL, model.TypeConflictingCanonical, model.SeverityWarning,
			"Googleが選択したcanonicalと宣言が一致するように修正してください。", d)}
	}

	return nil
}

// mapMobileUsability はモバイルユーザビリティ問題を固定テーブルで変換する。
func mapMobileUsability(pageURL string, result *InspectionResult) []model.Issue {
	var issues []model.Issue

	for _, gscIssueItem := range result.MobileUsabilityResult.Issues {
		issueType, ok := mobileIssueTable[gscIssueItem.IssueType]
		if !ok {
			issueType = model.TypeNoViewport
		}

		d := gscDetails()
		d.Set("gsc_issue_type", gscIssueItem.IssueType)
		d.Set("message", gscIssueItem.Message)
		issues = append(issues, gscIssue(pageURL, issueType, model.SeverityWarning,
			"GSCのモバイルユーザビリティレポートを確認して修正してください。", d))
	}

	return issues
}

// mapRichResults はリッチリザルトの問題をメッセージ文言のキーワードで分類する。
// GSCは構造化されたフィールド名を公開しないため、
// "missing"/"invalid"の文言判定による損失のある近似になる。
func mapRichResults(pageURL string, result *InspectionResult) []model.Issue {
	var issues []model.Issue

	for _, detected := range result.RichResultsResult.DetectedItems {
		for _, item := range detected.Items {
			for _, richIssue := range item.Issues {
				message := strings.ToLower(richIssue.IssueMessage)

				var issueType model.Type
				var severity model.Severity
				switch {
				case strings.Contains(message, "missing"):
					issueType = model.TypeMissingRequiredField
					severity = model.SeverityError
				case strings.Contains(message, "invalid"):
					issueType = model.TypeInvalidFieldValue
					severity = model.SeverityError
				default:
					issueType = model.TypeMissingRecommendedField
					severity = model.SeverityWarning
				}

				d := gscDetails()
				d.Set("rich_result_type", detected.RichResultType)
				d.Set("item_name", item.Name)
				d.Set("message", richIssue.IssueMessage)
				issues = append(issues, gscIssue(pageURL, issueType, severity,
					"リッチリザルトの構造化データを修正してください。", d))
			}
		}
	}

	return issues
}

// gscDetails はsource=gscが設定されたdetailsを生成する。
func gscDetails() model.Details {
	d := model.Details{}
	d.Set("source", "gsc")
	return d
}

// gscIssue はGSC由来のraw issueを生成する。GSC経由の問題はページ上での
// 自動修正対象にならないため、auto_fixableは常にfalseになる。
func gscIssue(pageURL string, t model.Type, sev model.Severity, fix string, details model.Details) model.Issue {
	return model.Issue{
		URL:          pageURL,
		Category:     model.CategoryOf(t),
		Type:         t,
		Severity:     sev,
		Details:      details,
		AutoFixable:  false,
		SuggestedFix: fix,
	}
}
