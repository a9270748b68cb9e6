// Package issue は問題の組み立て（識別子割り当て・集計）とライフサイクル管理を提供する。
package issue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/siteaudit/internal/model"
)

// issueNamespace は問題ID生成用のUUID名前空間。
var issueNamespace = uuid.MustParse("8f7d2c1a-4b3e-4a5f-9c6d-1e2f3a4b5c6d")

// Assemble はバリデーター/マッパーが生成したraw issueに識別子とステータスを
// 割り当て、永続化可能な形に組み立てる。
// 識別子は(site_id, url, type, 区別用details)から決定的に導出されるため、
// 同じ問題の再検出は同じIDになり、upsert時に既存レコードへ収束する。
// ステータスが未設定のraw issueはopenで初期化される。
func Assemble(siteID string, raw []model.Issue, now time.Time) []model.Issue {
	issues := make([]model.Issue, 0, len(raw))
	seen := make(map[string]int, len(raw))

	for _, issue := range raw {
		issue.SiteID = siteID
		fp := fingerprint(siteID, &issue)
		issue.ID = deterministicID(fp, seen[fp])
		seen[fp]++
		if issue.Status == "" {
			issue.Status = model.StatusOpen
		}
		issue.DetectedAt = now
		issue.UpdatedAt = now
		issues = append(issues, issue)
	}

	return issues
}

// distinguishingKeys は同一URL・同一タイプの問題を区別するdetailsキー。
// バリデーター側はブロック・フィールド・指標・検出理由を、
// Search Console由来の問題は元の問題種別とメッセージを設定する。
var distinguishingKeys = []string{
	"block",
	"field",
	"metric",
	"reason",
	"gsc_issue_type",
	"rich_result_type",
	"item_name",
	"message",
}

// fingerprint は問題の同一性を表す文字列を組み立てる。
// (site_id, url, type)だけでは同一URL上の同種問題が衝突するため、
// 設定されている区別用detailsキーをすべて含める。
func fingerprint(siteID string, issue *model.Issue) string {
	var b strings.Builder
	b.WriteString(siteID)
	b.WriteByte('|')
	b.WriteString(issue.URL)
	b.WriteByte('|')
	b.WriteString(string(issue.Type))
	for _, key := range distinguishingKeys {
		if v, ok := issue.Details[key]; ok {
			fmt.Fprintf(&b, "|%s=%v", key, v)
		}
	}
	return b.String()
}

// deterministicID はフィンガープリントからUUIDを導出する。
// 区別用キーまで一致する問題が同一バッチに複数現れた場合は
// 出現順の連番を付けてIDの一意性を保つ。
func deterministicID(fp string, ordinal int) string {
	if ordinal > 0 {
		fp = fp + "#" + strconv.Itoa(ordinal)
	}
	return uuid.NewSHA1(issueNamespace, []byte(fp)).String()
}

// Summarize は問題リストの集計を計算する。
// カテゴリ別の内訳は4カテゴリ固定で、問題のないカテゴリは0になる。
func Summarize(issues []model.Issue) model.Summary {
	summary := model.Summary{TotalIssues: len(issues)}

	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityError:
			summary.BySeverity.Errors++
		case model.SeverityWarning:
			summary.BySeverity.Warnings++
		}

		switch issue.Category {
		case model.CategoryStructuredData:
			summary.ByCategory.StructuredData++
		case model.CategoryIndexing:
			summary.ByCategory.Indexing++
		case model.CategoryPerformance:
			summary.ByCategory.Performance++
		case model.CategoryMobile:
			summary.ByCategory.Mobile++
		}
	}

	return summary
}
