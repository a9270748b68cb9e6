package validator

import (
	"bytes"
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/model"
	"golang.org/x/net/html"
)

// モバイルヒューリスティックの閾値。
// ブラウザのレンダリング結果を再現するものではなく、インラインスタイルの
// パターンスキャンによる近似であるため、偽陽性・偽陰性のリスクがある。
const (
	// wideElementPx はこれ以上の固定幅指定を「画面幅超過」とみなす閾値。
	wideElementPx = 1000.0
	// minFontSizePx はこれ未満のフォントサイズを「小さすぎる」とみなす閾値。
	minFontSizePx = 12.0
	// minTapTargetPx はこれ未満の幅/高さ指定を「タップターゲットが小さい」とみなす閾値。
	minTapTargetPx = 44.0
	// ptToPx はptからpxへの換算係数。
	ptToPx = 1.333
)

var (
	widthPxPattern  = regexp.MustCompile(`width\s*:\s*(\d+(?:\.\d+)?)px`)
	fontSizePattern = regexp.MustCompile(`font-size\s*:\s*(\d+(?:\.\d+)?)(px|pt)`)
	dimensionPattern = regexp.MustCompile(`(?:width|height)\s*:\s*(\d+(?:\.\d+)?)px`)
)

// MobileValidator はモバイルユーザビリティの検証を行う。
// viewportメタタグの検査と、生HTMLに対するインラインスタイルの
// パターンスキャン（DOMツリー/CSSエンジンの再現はしない）で構成される。
type MobileValidator struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
}

// NewMobileValidator はMobileValidatorを生成する。
func NewMobileValidator(f *fetcher.Fetcher, logger *slog.Logger) *MobileValidator {
	return &MobileValidator{fetcher: f, logger: logger}
}

// Validate はモバイルユーザーエージェントで指定URLを取得し、
// モバイルユーザビリティの問題を検出する。
// ネットワーク・HTTPレベルの失敗は0件として扱う。
func (v *MobileValidator) Validate(ctx context.Context, pageURL string) []model.Issue {
	res, err := v.fetcher.Get(ctx, pageURL, fetcher.Options{FollowRedirects: true, MobileUA: true})
	if err != nil {
		v.logger.Warn("モバイル検証のフェッチに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !is2xx(res.StatusCode) {
		return nil
	}

	return v.ValidateHTML(pageURL, res.Body)
}

// pageScan はHTMLトークンスキャンで収集した状態。
// パターン系の問題はページにつき1回だけ報告するため、boolで保持する。
type pageScan struct {
	viewportFound   bool
	viewportContent string
	wideElement     bool
	wideWidthPx     float64
	smallFont       bool
	smallFontPx     float64
	smallTapTarget  bool
}

// ValidateHTML はHTMLボディに対してモバイルユーザビリティの検証を行う。
func (v *MobileValidator) ValidateHTML(pageURL string, body []byte) []model.Issue {
	scan := scanHTML(body)

	var issues []model.Issue

	switch {
	case !scan.viewportFound:
		d := model.Details{}
		d.Set("reason", "viewport_meta_missing")
		issues = append(issues, newIssue(pageURL, model.TypeNoViewport, model.SeverityError, true,
			`<meta name="viewport" content="width=device-width, initial-scale=1"> を追加してください。`, d))
	case !strings.Contains(strings.ToLower(scan.viewportContent), "width="):
		d := model.Details{}
		d.Set("reason", "viewport_missing_width_directive")
		d.Set("content", scan.viewportContent)
		issues = append(issues, newIssue(pageURL, model.TypeNoViewport, model.SeverityError, true,
			"viewportのcontentにwidth=device-widthを指定してください。", d))
	}

	if scan.viewportFound && hasUserScalableDisabled(scan.viewportContent) {
		// ズーム無効化はユーザビリティ/アクセシビリティ上の懸念として警告する。
		d := model.Details{}
		d.Set("reason", "user_scalable_disabled")
		d.Set("content", scan.viewportContent)
		issues = append(issues, newIssue(pageURL, model.TypeContentWiderThanScreen, model.SeverityWarning, true,
			"viewportからuser-scalable=noを削除し、ズームを許可してください。", d))
	}

	if scan.wideElement {
		d := model.Details{}
		d.Set("reason", "fixed_width_element")
		d.Set("width_px", scan.wideWidthPx)
		issues = append(issues, newIssue(pageURL, model.TypeContentWiderThanScreen, model.SeverityWarning, true,
			"固定幅指定をmax-width: 100%等の可変幅に変更してください。", d))
	}

	if scan.smallFont {
		d := model.Details{}
		d.Set("reason", "small_font_size")
		d.Set("font_size_px", scan.smallFontPx)
		issues = append(issues, newIssue(pageURL, model.TypeTextTooSmall, model.SeverityWarning, true,
			"本文のフォントサイズを12px以上にしてください。", d))
	}

	if scan.smallTapTarget {
		d := model.Details{}
		d.Set("reason", "small_tap_target")
		issues = append(issues, newIssue(pageURL, model.TypeTapTargetsTooClose, model.SeverityWarning, true,
			"タップターゲットを44px以上の大きさにしてください。", d))
	}

	return issues
}

// scanHTML はHTMLトークナイザーでviewportメタタグとインラインスタイルを走査する。
func scanHTML(body []byte) *pageScan {
	scan := &pageScan{}
	tokenizer := html.NewTokenizer(bytes.NewReader(body))

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return scan
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tn, hasAttr := tokenizer.TagName()
		if !hasAttr {
			continue
		}
		tagName := string(tn)

		var name, content, style string
		for {
			key, val, more := tokenizer.TagAttr()
			switch strings.ToLower(string(key)) {
			case "name":
				name = strings.ToLower(string(val))
			case "content":
				content = string(val)
			case "style":
				style = string(val)
			}
			if !more {
				break
			}
		}

		if tagName == "meta" && name == "viewport" {
			scan.viewportFound = true
			scan.viewportContent = content
		}

		if style != "" {
			inspectStyle(scan, style)
		}
	}
}

// inspectStyle は1つのstyle属性値を検査し、該当するパターンをscanに記録する。
func inspectStyle(scan *pageScan, style string) {
	lower := strings.ToLower(style)

	if !scan.wideElement {
		if m := widthPxPattern.FindStringSubmatch(lower); m != nil {
			if px, err := strconv.ParseFloat(m[1], 64); err == nil && px >= wideElementPx {
				scan.wideElement = true
				scan.wideWidthPx = px
			}
		}
	}

	if !scan.smallFont {
		if m := fontSizePattern.FindStringSubmatch(lower); m != nil {
			if size, err := strconv.ParseFloat(m[1], 64); err == nil {
				px := size
				if m[2] == "pt" {
					px = size * ptToPx
				}
				if px < minFontSizePx {
					scan.smallFont = true
					scan.smallFontPx = px
				}
			}
		}
	}

	if !scan.smallTapTarget {
		// 1つのstyle属性内に44px未満のwidth/height指定が2つある場合に
		// タップターゲットが小さいとみなす。
		small := 0
		for _, m := range dimensionPattern.FindAllStringSubmatch(lower, -1) {
			if px, err := strconv.ParseFloat(m[1], 64); err == nil && px < minTapTargetPx {
				small++
			}
		}
		if small >= 2 {
			scan.smallTapTarget = true
		}
	}
}

// hasUserScalableDisabled はviewport contentでズームが無効化されているかを判定する。
func hasUserScalableDisabled(content string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(content), " ", "")
	return strings.Contains(normalized, "user-scalable=no") || strings.Contains(normalized, "user-scalable=0")
}
