// Package model はドメインモデルを定義する。
package model

import "time"

// CheckSchedule はサイトの定期チェック頻度を表す。
type CheckSchedule string

const (
	// ScheduleDaily は24時間ごとのチェック。
	ScheduleDaily CheckSchedule = "daily"
	// ScheduleWeekly は7日ごとのチェック。
	ScheduleWeekly CheckSchedule = "weekly"
	// ScheduleManual は手動チェックのみ（スケジューラの対象にならない）。
	ScheduleManual CheckSchedule = "manual"
)

// manualCheckHorizon はmanualスケジュールのnext_checkに使用するオフセット。
// 実質的に「到来しない」未来を表す。
const manualCheckHorizon = 100 * 365 * 24 * time.Hour

// IsValidSchedule はスケジュール値が定義済みのいずれかであるかを検証する。
func IsValidSchedule(s string) bool {
	switch CheckSchedule(s) {
	case ScheduleDaily, ScheduleWeekly, ScheduleManual:
		return true
	}
	return false
}

// NextAfter は指定時刻を基準とした次回チェック時刻を返す。
func (s CheckSchedule) NextAfter(from time.Time) time.Time {
	switch s {
	case ScheduleDaily:
		return from.Add(24 * time.Hour)
	case ScheduleWeekly:
		return from.Add(7 * 24 * time.Hour)
	default:
		return from.Add(manualCheckHorizon)
	}
}

// Site は定期監視対象として登録されたサイトを表す。
// SiteIDはsite_urlのホスト名から決定的に導出され（小文字化、www.接頭辞除去）、
// SitesとIssuesを結合するパーティションキーとして機能する。
type Site struct {
	ID                  string // ホスト名由来のサイトID
	SiteURL             string
	SitemapURL          string
	GSCProperty         string
	CheckSchedule       CheckSchedule
	NotificationWebhook string
	NotificationEmail   string
	LastCheck           *time.Time
	NextCheck           time.Time
	OpenIssues          int // 定期検証後に更新されるキャッシュ値
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
