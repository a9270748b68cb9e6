// Package validator はSEO検証の各バリデーターを提供する。
// 各バリデーターは1つのURLを検査し、1カテゴリのraw issue（ID未割り当て）を
// 0件以上返す純粋なチェック関数として振る舞う。永続化には関与しない。
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/model"
)

// schemaFields はschema.orgタイプごとの必須/推奨フィールドの固定テーブル。
type schemaFields struct {
	Required    []string
	Recommended []string
}

// schemaFieldTable は検証対象のschema.orgタイプと各フィールドリスト。
// テーブルにないタイプはフィールド欠落チェックの対象外になる
// （日付・URL形式チェックは全タイプで行う）。
var schemaFieldTable = map[string]schemaFields{
	"VideoObject": {
		Required:    []string{"name", "thumbnailUrl", "uploadDate"},
		Recommended: []string{"description", "duration", "contentUrl"},
	},
	"Product": {
		Required:    []string{"name", "image"},
		Recommended: []string{"description", "offers", "aggregateRating", "review"},
	},
	"Article": {
		Required:    []string{"headline", "image", "datePublished"},
		Recommended: []string{"author", "dateModified", "publisher"},
	},
	"NewsArticle": {
		Required:    []string{"headline", "image", "datePublished"},
		Recommended: []string{"author", "dateModified", "publisher"},
	},
	"BlogPosting": {
		Required:    []string{"headline", "datePublished"},
		Recommended: []string{"author", "image", "dateModified"},
	},
	"Organization": {
		Required:    []string{"name", "url"},
		Recommended: []string{"logo", "sameAs", "contactPoint"},
	},
	"LocalBusiness": {
		Required:    []string{"name", "address"},
		Recommended: []string{"telephone", "openingHours", "priceRange", "image"},
	},
	"BreadcrumbList": {
		Required:    []string{"itemListElement"},
		Recommended: nil,
	},
	"Recipe": {
		Required:    []string{"name", "image"},
		Recommended: []string{"author", "datePublished", "description", "prepTime", "cookTime"},
	},
	"Event": {
		Required:    []string{"name", "startDate", "location"},
		Recommended: []string{"endDate", "image", "offers", "performer"},
	},
	"FAQPage": {
		Required:    []string{"mainEntity"},
		Recommended: nil,
	},
}

// dateFields はISO-8601形式の検証対象となる日付系フィールド。
var dateFields = []string{"datePublished", "dateModified", "uploadDate"}

// urlFields は相対URL検出の対象となるURL系フィールド。
var urlFields = []string{"url", "image", "thumbnailUrl", "contentUrl"}

// iso8601Pattern はYYYY-MM-DD（オプションでTHH:MM:SS[.mmm](Z|±HH:MM)）を受け入れる。
var iso8601Pattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2}(\.\d{1,3})?(Z|[+-]\d{2}:\d{2}))?$`)

// StructuredDataValidator はJSON-LD構造化データの検証を行う。
type StructuredDataValidator struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
}

// NewStructuredDataValidator はStructuredDataValidatorを生成する。
func NewStructuredDataValidator(f *fetcher.Fetcher, logger *slog.Logger) *StructuredDataValidator {
	return &StructuredDataValidator{fetcher: f, logger: logger}
}

// Validate は指定URLのHTMLを取得し、構造化データの問題を検出する。
// ネットワーク・HTTPレベルの失敗は0件として扱う（HTTPエラーの検出は
// インデックスバリデーターの責務）。
func (v *StructuredDataValidator) Validate(ctx context.Context, pageURL string) []model.Issue {
	res, err := v.fetcher.Get(ctx, pageURL, fetcher.Options{FollowRedirects: true})
	if err != nil {
		v.logger.Warn("構造化データ検証のフェッチに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil
	}

	return v.ValidateHTML(pageURL, res.Body)
}

// ValidateHTML はHTMLボディに対して構造化データの検証を行う。
func (v *StructuredDataValidator) ValidateHTML(pageURL string, body []byte) []model.Issue {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var issues []model.Issue

	blocks := doc.Find(`script[type="application/ld+json"]`)
	if blocks.Length() == 0 {
		// 構造化データが1つも存在しない場合はmissing_schemaを1件だけ報告し、
		// フィールドレベルのチェックは行わない。
		issues = append(issues, newIssue(pageURL, model.TypeMissingSchema, model.SeverityWarning, true,
			"schema.orgのJSON-LD構造化データを追加してください。",
			model.Details{},
		))
		return issues
	}

	blockIndex := 0
	blocks.Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())

		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			// パース不能ブロックは黙って捨てずにsyntax_errorとして報告する。
			d := model.Details{}
			d.Set("block", blockIndex)
			d.Set("parse_error", err.Error())
			issues = append(issues, newIssue(pageURL, model.TypeSyntaxError, model.SeverityError, true,
				"JSON-LDブロックの構文エラーを修正してください。",
				d,
			))
			blockIndex++
			return
		}

		for _, obj := range flattenJSONLD(parsed) {
			issues = append(issues, v.validateObject(pageURL, blockIndex, obj)...)
			blockIndex++
		}
	})

	return issues
}

// flattenJSONLD は配列リテラルおよび@graph配列をメンバーのリストに平坦化する。
func flattenJSONLD(parsed any) []map[string]any {
	var objects []map[string]any

	appendObject := func(item any) {
		if m, ok := item.(map[string]any); ok {
			objects = append(objects, m)
		}
	}

	switch val := parsed.(type) {
	case []any:
		for _, item := range val {
			appendObject(item)
		}
	case map[string]any:
		if graph, ok := val["@graph"].([]any); ok {
			for _, item := range graph {
				appendObject(item)
			}
		} else {
			objects = append(objects, val)
		}
	}

	return objects
}

// validateObject は1つのJSON-LDオブジェクトに対してフィールド検証を行う。
func (v *StructuredDataValidator) validateObject(pageURL string, blockIndex int, obj map[string]any) []model.Issue {
	schemaType := resolveSchemaType(obj)

	var issues []model.Issue

	if fields, ok := schemaFieldTable[schemaType]; ok {
		for _, field := range fields.Required {
			if !hasValue(obj, field) {
				d := model.Details{}
				d.Set("schema_type", schemaType)
				d.Set("field", field)
				d.Set("block", blockIndex)
				issues = append(issues, newIssue(pageURL, model.TypeMissingRequiredField, model.SeverityError, true,
					fmt.Sprintf("%s スキーマに必須フィールド %s を追加してください。", schemaType, field),
					d,
				))
			}
		}
		for _, field := range fields.Recommended {
			if !hasValue(obj, field) {
				d := model.Details{}
				d.Set("schema_type", schemaType)
				d.Set("field", field)
				d.Set("block", blockIndex)
				issues = append(issues, newIssue(pageURL, model.TypeMissingRecommendedField, model.SeverityWarning, true,
					fmt.Sprintf("%s スキーマに推奨フィールド %s の追加を検討してください。", schemaType, field),
					d,
				))
			}
		}
	}

	// 日付フィールドのISO-8601形式検証（存在する場合のみ）
	for _, field := range dateFields {
		val, ok := obj[field].(string)
		if !ok || val == "" {
			continue
		}
		if !iso8601Pattern.MatchString(val) {
			d := model.Details{}
			d.Set("schema_type", schemaType)
			d.Set("field", field)
			d.Set("actual", val)
			d.Set("expected", "ISO-8601 (YYYY-MM-DD または YYYY-MM-DDTHH:MM:SSZ)")
			d.Set("block", blockIndex)
			issues = append(issues, newIssue(pageURL, model.TypeInvalidFieldValue, model.SeverityError, true,
				fmt.Sprintf("%s をISO-8601形式の日付に修正してください。", field),
				d,
			))
		}
	}

	// URLフィールドの相対URL検出
	for _, field := range urlFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}
		val := resolveURLValue(raw)
		if val == "" {
			continue
		}
		if strings.HasPrefix(val, "/") {
			d := model.Details{}
			d.Set("schema_type", schemaType)
			d.Set("field", field)
			d.Set("actual", val)
			d.Set("expected", "絶対URL")
			d.Set("block", blockIndex)
			issues = append(issues, newIssue(pageURL, model.TypeInvalidFieldValue, model.SeverityError, true,
				fmt.Sprintf("%s を絶対URLに修正してください。", field),
				d,
			))
		}
	}

	return issues
}

// resolveSchemaType は@typeを解決する。欠落時は"Unknown"、配列の場合は先頭要素を使用する。
func resolveSchemaType(obj map[string]any) string {
	switch t := obj["@type"].(type) {
	case string:
		if t != "" {
			return t
		}
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok && s != "" {
				return s
			}
		}
	}
	return "Unknown"
}

// hasValue はフィールドが存在し、非nil、非空文字列であるかを判定する。
func hasValue(obj map[string]any, field string) bool {
	val, ok := obj[field]
	if !ok || val == nil {
		return false
	}
	if s, ok := val.(string); ok && s == "" {
		return false
	}
	return true
}

// resolveURLValue はURL系フィールドの値を文字列に解決する。
// 配列は先頭要素、オブジェクトは.urlサブフィールドをアンラップする。
func resolveURLValue(raw any) string {
	switch val := raw.(type) {
	case string:
		return val
	case []any:
		if len(val) > 0 {
			return resolveURLValue(val[0])
		}
	case map[string]any:
		if s, ok := val["url"].(string); ok {
			return s
		}
	}
	return ""
}

// newIssue はカテゴリと検出時刻を除くフィールドが設定されたraw issueを生成する。
// IDとStatusはアセンブラーが割り当てる。
func newIssue(pageURL string, t model.Type, sev model.Severity, autoFixable bool, fix string, details model.Details) model.Issue {
	return model.Issue{
		URL:          pageURL,
		Category:     model.CategoryOf(t),
		Type:         t,
		Severity:     sev,
		Details:      details,
		AutoFixable:  autoFixable,
		SuggestedFix: fix,
	}
}

// is2xx はステータスコードが2xx域にあるかを判定する。
func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
