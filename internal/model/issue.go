// Package model はドメインモデルを定義する。
package model

import "time"

// Category は検出された問題のカテゴリを表す。
type Category string

const (
	// CategoryStructuredData は構造化データ（JSON-LD）に関する問題。
	CategoryStructuredData Category = "structured_data"
	// CategoryIndexing はインデックス登録（canonical、noindex、リダイレクト等）に関する問題。
	CategoryIndexing Category = "indexing"
	// CategoryPerformance はCore Web Vitalsに関する問題。
	CategoryPerformance Category = "performance"
	// CategoryMobile はモバイルユーザビリティに関する問題。
	CategoryMobile Category = "mobile"
)

// Categories は全カテゴリの固定リスト。サマリのゼロ埋めに使用する。
var Categories = []Category{
	CategoryStructuredData,
	CategoryIndexing,
	CategoryPerformance,
	CategoryMobile,
}

// Severity は問題の深刻度を表す。
type Severity string

const (
	// SeverityError は修正が必要な問題。
	SeverityError Severity = "error"
	// SeverityWarning は改善が推奨される問題。
	SeverityWarning Severity = "warning"
)

// Status は問題のライフサイクル状態を表す。
// 作成時はopenがデフォルトで、以降は呼び出し元の明示的な更新でのみ変化する。
type Status string

const (
	// StatusOpen は未対応の問題。
	StatusOpen Status = "open"
	// StatusFixing は対応中の問題。
	StatusFixing Status = "fixing"
	// StatusFixed は修正済みの問題。
	StatusFixed Status = "fixed"
	// StatusWontfix は対応しないと判断された問題。
	StatusWontfix Status = "wontfix"
)

// IsValidStatus はstatusが定義済みの4状態のいずれかであるかを検証する。
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusOpen, StatusFixing, StatusFixed, StatusWontfix:
		return true
	}
	return false
}

// Type は問題の種別を表す。各種別はちょうど1つのカテゴリに属する。
type Type string

const (
	// --- structured_data ---

	// TypeMissingSchema は構造化データブロックが1つも存在しない。
	TypeMissingSchema Type = "missing_schema"
	// TypeSyntaxError はJSON-LDブロックがJSONとしてパースできない。
	TypeSyntaxError Type = "syntax_error"
	// TypeMissingRequiredField はスキーマタイプの必須フィールドが欠落している。
	TypeMissingRequiredField Type = "missing_required_field"
	// TypeMissingRecommendedField はスキーマタイプの推奨フィールドが欠落している。
	TypeMissingRecommendedField Type = "missing_recommended_field"
	// TypeInvalidFieldValue はフィールド値の形式が不正（日付形式、相対URL等）。
	TypeInvalidFieldValue Type = "invalid_field_value"

	// --- indexing ---

	// TypeNotFound404 はページが404を返す。
	TypeNotFound404 Type = "not_found_404"
	// TypeServerError5xx はページが5xxを返す。
	TypeServerError5xx Type = "server_error_5xx"
	// TypeRedirectChain は2ホップ以上のリダイレクトチェーン。
	TypeRedirectChain Type = "redirect_chain"
	// TypeRedirectLoop はリダイレクトがループしている。
	TypeRedirectLoop Type = "redirect_loop"
	// TypeDuplicateWithoutCanonical はcanonicalタグが宣言されていない。
	TypeDuplicateWithoutCanonical Type = "duplicate_without_canonical"
	// TypeConflictingCanonical はcanonicalが現在のURLと異なるパスを指している。
	TypeConflictingCanonical Type = "conflicting_canonical"
	// TypeNoindexTag はnoindexシグナル（metaタグまたはX-Robots-Tagヘッダー）が存在する。
	TypeNoindexTag Type = "noindex_tag"
	// TypeBlockedByRobots はrobots.txtがクロールをブロックしている。
	TypeBlockedByRobots Type = "blocked_by_robots"
	// TypeCrawledNotIndexed はGoogleがクロール済みだがインデックス未登録と報告している。
	TypeCrawledNotIndexed Type = "crawled_not_indexed"

	// --- performance ---

	// TypeNeedsImprovementLCP はLCPが改善推奨域にある。
	TypeNeedsImprovementLCP Type = "needs_improvement_lcp"
	// TypePoorLCP はLCPが不良域にある。
	TypePoorLCP Type = "poor_lcp"
	// TypeNeedsImprovementINP はINP（TBT代理指標）が改善推奨域にある。
	TypeNeedsImprovementINP Type = "needs_improvement_inp"
	// TypePoorINP はINP（TBT代理指標）が不良域にある。
	TypePoorINP Type = "poor_inp"
	// TypeNeedsImprovementCLS はCLSが改善推奨域にある。
	TypeNeedsImprovementCLS Type = "needs_improvement_cls"
	// TypePoorCLS はCLSが不良域にある。
	TypePoorCLS Type = "poor_cls"

	// --- mobile ---

	// TypeNoViewport はviewportメタタグが存在しないか不完全。
	TypeNoViewport Type = "no_viewport"
	// TypeContentWiderThanScreen はコンテンツが画面幅を超える恐れがある。
	TypeContentWiderThanScreen Type = "content_wider_than_screen"
	// TypeTextTooSmall はフォントサイズが小さすぎる。
	TypeTextTooSmall Type = "text_too_small"
	// TypeTapTargetsTooClose はタップターゲットが小さすぎる/近すぎる。
	TypeTapTargetsTooClose Type = "tap_targets_too_close"
)

// typeCategories は問題種別からカテゴリへの対応表。
var typeCategories = map[Type]Category{
	TypeMissingSchema:             CategoryStructuredData,
	TypeSyntaxError:               CategoryStructuredData,
	TypeMissingRequiredField:      CategoryStructuredData,
	TypeMissingRecommendedField:   CategoryStructuredData,
	TypeInvalidFieldValue:         CategoryStructuredData,
	TypeNotFound404:               CategoryIndexing,
	TypeServerError5xx:            CategoryIndexing,
	TypeRedirectChain:             CategoryIndexing,
	TypeRedirectLoop:              CategoryIndexing,
	TypeDuplicateWithoutCanonical: CategoryIndexing,
	TypeConflictingCanonical:      CategoryIndexing,
	TypeNoindexTag:                CategoryIndexing,
	TypeBlockedByRobots:           CategoryIndexing,
	TypeCrawledNotIndexed:         CategoryIndexing,
	TypeNeedsImprovementLCP:       CategoryPerformance,
	TypePoorLCP:                   CategoryPerformance,
	TypeNeedsImprovementINP:       CategoryPerformance,
	TypePoorINP:                   CategoryPerformance,
	TypeNeedsImprovementCLS:       CategoryPerformance,
	TypePoorCLS:                   CategoryPerformance,
	TypeNoViewport:                CategoryMobile,
	TypeContentWiderThanScreen:    CategoryMobile,
	TypeTextTooSmall:              CategoryMobile,
	TypeTapTargetsTooClose:        CategoryMobile,
}

// CategoryOf は問題種別が属するカテゴリを返す。
// 未定義の種別の場合は空文字列を返す。
func CategoryOf(t Type) Category {
	return typeCategories[t]
}

// Details は問題の具体的な根拠を保持するキー/バリューの集合。
// 値が存在しないキーは格納しない（nullプレースホルダーを持たない）。
// 書き込みはSetを経由することでこの不変条件を維持する。
type Details map[string]any

// Set は値が空でない場合のみキーを格納する。
// nil、空文字列、ゼロ値のポインタは格納しない。
func (d Details) Set(key string, value any) {
	if value == nil {
		return
	}
	if s, ok := value.(string); ok && s == "" {
		return
	}
	d[key] = value
}

// Issue は検出されたSEO上の問題1件を表す。
// 検出元（ローカルバリデーターまたはGSC）によらず同一のスキーマに正規化される。
type Issue struct {
	ID           string   // アセンブラーが割り当てる一意識別子
	SiteID       string   // サイトのパーティションキー（ホスト名由来）
	URL          string   // 問題が検出された絶対URL
	Category     Category
	Type         Type
	Severity     Severity
	Status       Status   // 作成時はopen。呼び出し元の明示的な更新でのみ変化する
	Details      Details
	AutoFixable  bool     // 修正が機械的に可能である可能性を示すシグナル（保証ではない）
	SuggestedFix string
	DetectedAt   time.Time
	UpdatedAt    time.Time
}

// SeverityCounts は深刻度別の問題数。
type SeverityCounts struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// CategoryCounts はカテゴリ別の問題数。4カテゴリ固定でゼロ埋めされる。
type CategoryCounts struct {
	StructuredData int `json:"structured_data"`
	Indexing       int `json:"indexing"`
	Performance    int `json:"performance"`
	Mobile         int `json:"mobile"`
}

// Summary は1回の検証で検出された問題の集計を表す。
type Summary struct {
	TotalIssues int            `json:"total_issues"`
	BySeverity  SeverityCounts `json:"by_severity"`
	ByCategory  CategoryCounts `json:"by_category"`
}
