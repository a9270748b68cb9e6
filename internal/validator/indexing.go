package validator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hitoshi/siteaudit/internal/fetcher"
	"github.com/hitoshi/siteaudit/internal/model"
)

// maxRedirectHops はリダイレクトチェーンを手動で辿る際の上限ホップ数。
const maxRedirectHops = 10

// IndexingValidator はインデックス登録性（リダイレクト、HTTPエラー、canonical、
// noindex、robots.txt）の検証を行う。
type IndexingValidator struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
}

// NewIndexingValidator はIndexingValidatorを生成する。
func NewIndexingValidator(f *fetcher.Fetcher, logger *slog.Logger) *IndexingValidator {
	return &IndexingValidator{fetcher: f, logger: logger}
}

// Validate は指定URLのインデックス登録性に関する問題を検出する。
// リダイレクトは自動追従せず手動でチェーンを辿り、ループ・チェーンを検出する。
// ネットワークレベルの失敗は0件として扱う。
func (v *IndexingValidator) Validate(ctx context.Context, pageURL string) []model.Issue {
	var issues []model.Issue

	res, err := v.fetcher.Get(ctx, pageURL, fetcher.Options{FollowRedirects: false})
	if err != nil {
		v.logger.Warn("インデックス検証のフェッチに失敗しました",
			slog.String("url", pageURL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	finalURL := pageURL
	if isRedirect(res.StatusCode) && res.Header.Get("Location") != "" {
		chainIssue, resolvedURL, resolvedRes := v.walkRedirects(ctx, pageURL, res)
		if chainIssue != nil {
			issues = append(issues, *chainIssue)
			if chainIssue.Type == model.TypeRedirectLoop {
				// ループ検出時は最終ページが存在しないため以降のチェックは行わない。
				return issues
			}
		}
		finalURL = resolvedURL
		res = resolvedRes
		if res == nil {
			return issues
		}
	}

	// 最終レスポンスに対するチェック。終端ステータスでは早期リターンする。
	switch {
	case res.StatusCode == http.StatusNotFound:
		d := model.Details{}
		d.Set("status_code", res.StatusCode)
		issues = append(issues, newIssue(finalURL, model.TypeNotFound404, model.SeverityError, false,
			"ページを復元するか、301リダイレクトを設定してください。", d))
		return issues
	case res.StatusCode >= http.StatusInternalServerError:
		d := model.Details{}
		d.Set("status_code", res.StatusCode)
		issues = append(issues, newIssue(finalURL, model.TypeServerError5xx, model.SeverityError, false,
			"サーバーエラーの原因を調査して解消してください。", d))
		return issues
	case !is2xx(res.StatusCode):
		// その他の非2xx（解決しきれない3xx等）はコンテンツ問題として扱わない。
		return issues
	}

	issues = append(issues, v.checkCanonical(finalURL, res.Body)...)
	issues = append(issues, v.checkNoindex(finalURL, res)...)
	issues = append(issues, v.checkRobots(ctx, finalURL)...)

	return issues
}

// walkRedirects は3xxレスポンスから始まるリダイレクトチェーンを手動で辿る。
// ループを検出した場合はredirect_loop、2ホップ以上で完了した場合はredirect_chainを返す。
// 戻り値は（検出した問題またはnil、最終URL、最終レスポンスまたはnil）。
func (v *IndexingValidator) walkRedirects(ctx context.Context, startURL string, first *fetcher.Result) (*model.Issue, string, *fetcher.Result) {
	visited := map[string]bool{startURL: true}
	currentURL := startURL
	res := first
	hops := 0

	for hops < maxRedirectHops {
		location := res.Header.Get("Location")
		if !isRedirect(res.StatusCode) || location == "" {
			break
		}

		nextURL := resolveRef(currentURL, location)
		if nextURL == "" {
			break
		}
		hops++

		if visited[nextURL] {
			d := model.Details{}
			d.Set("loop_url", nextURL)
			d.Set("hops", hops)
			issue := newIssue(startURL, model.TypeRedirectLoop, model.SeverityError, true,
				"リダイレクト設定を見直してループを解消してください。", d)
			return &issue, currentURL, nil
		}
		visited[nextURL] = true
		currentURL = nextURL

		next, err := v.fetcher.Get(ctx, nextURL, fetcher.Options{FollowRedirects: false})
		if err != nil {
			v.logger.Warn("リダイレクト先のフェッチに失敗しました",
				slog.String("url", nextURL),
				slog.String("error", err.Error()),
			)
			return nil, currentURL, nil
		}
		res = next
	}

	if hops > 1 {
		d := model.Details{}
		d.Set("hops", hops)
		d.Set("final_url", currentURL)
		issue := newIssue(startURL, model.TypeRedirectChain, model.SeverityWarning, true,
			"中間リダイレクトを削除し、最終URLへ直接リダイレクトしてください。", d)
		return &issue, currentURL, res
	}

	return nil, currentURL, res
}

// checkCanonical はcanonicalタグの有無と整合性を検証する。
func (v *IndexingValidator) checkCanonical(pageURL string, body []byte) []model.Issue {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	href, exists := doc.Find(`link[rel="canonical"]`).Attr("href")
	if !exists || strings.TrimSpace(href) == "" {
		return []model.Issue{newIssue(pageURL, model.TypeDuplicateWithoutCanonical, model.SeverityError, true,
			"自己参照canonicalタグを追加してください。", model.Details{})}
	}

	// パスレベルで比較する（文字列一致ではなくURL解決後のパス同士を比較）。
	canonicalURL := resolveRef(pageURL, strings.TrimSpace(href))
	if canonicalURL == "" {
		return nil
	}

	current, err1 := url.Parse(pageURL)
	canonical, err2 := url.Parse(canonicalURL)
	if err1 != nil || err2 != nil {
		return nil
	}

	if normalizePath(canonical.Path) != normalizePath(current.Path) {
		d := model.Details{}
		d.Set("declared_canonical", canonicalURL)
		d.Set("current_path", normalizePath(current.Path))
		d.Set("canonical_path", normalizePath(canonical.Path))
		return []model.Issue{newIssue(pageURL, model.TypeConflictingCanonical, model.SeverityError, true,
			"canonicalタグが現在のページを指すように修正してください。", d)}
	}

	return nil
}

// checkNoindex はmetaタグとX-Robots-Tagヘッダーのnoindexシグナルを検証する。
func (v *IndexingValidator) checkNoindex(pageURL string, res *fetcher.Result) []model.Issue {
	noindexFrom := ""

	if header := res.Header.Get("X-Robots-Tag"); strings.Contains(strings.ToLower(header), "noindex") {
		noindexFrom = "x_robots_tag_header"
	}

	if noindexFrom == "" {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
		if err == nil {
			doc.Find(`meta[name="robots"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				content, _ := s.Attr("content")
				if strings.Contains(strings.ToLower(content), "noindex") {
					noindexFrom = "meta_robots_tag"
					return false
				}
				return true
			})
		}
	}

	if noindexFrom == "" {
		return nil
	}

	d := model.Details{}
	d.Set("signal_source", noindexFrom)
	return []model.Issue{newIssue(pageURL, model.TypeNoindexTag, model.SeverityWarning, false,
		"インデックス登録を意図している場合はnoindex指定を削除してください。", d)}
}

// checkRobots はサイトルートの検査時のみrobots.txtのブロックを検証する。
// robots.txtの取得失敗・パース不能は「問題なし」として扱う。
func (v *IndexingValidator) checkRobots(ctx context.Context, pageURL string) []model.Issue {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	if normalizePath(parsed.Path) != "/" {
		return nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", parsed.Scheme, parsed.Host)
	res, err := v.fetcher.Get(ctx, robotsURL, fetcher.Options{FollowRedirects: true})
	if err != nil || !is2xx(res.StatusCode) {
		return nil
	}

	if ua, blocked := robotsBlocksAll(string(res.Body)); blocked {
		d := model.Details{}
		d.Set("robots_url", robotsURL)
		d.Set("user_agent", ua)
		return []model.Issue{newIssue(pageURL, model.TypeBlockedByRobots, model.SeverityError, true,
			"robots.txtの Disallow: / を削除するか対象を限定してください。", d)}
	}

	return nil
}

// robotsBlocksAll はrobots.txtが全クロールをブロックしているかを判定する。
// User-agent: * または User-agent: googlebot のセクション配下に
// Disallow: / がある場合にブロックと判定し、該当ユーザーエージェントを返す。
func robotsBlocksAll(body string) (string, bool) {
	var currentAgents []string
	inSection := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// 連続するUser-agent行は同一セクションに属する。
			// ディレクティブの後のUser-agent行は新しいセクションを開始する。
			if inSection {
				currentAgents = nil
			}
			inSection = false
			currentAgents = append(currentAgents, strings.ToLower(value))
		case "disallow":
			inSection = true
			if value != "/" {
				continue
			}
			for _, agent := range currentAgents {
				if agent == "*" || agent == "googlebot" {
					return agent, true
				}
			}
		default:
			inSection = true
		}
	}

	return "", false
}

// isRedirect はステータスコードが3xx域にあるかを判定する。
func isRedirect(status int) bool {
	return status >= http.StatusMultipleChoices && status < http.StatusBadRequest
}

// resolveRef は相対参照をベースURLを基準に絶対URLに解決する。
func resolveRef(baseURL, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

// normalizePath は空のパスを"/"に正規化する。
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	return p
}
