// Package sitemap はsitemap.xmlからの検証対象URL収集を提供する。
package sitemap

import (
	"context"
	"encoding/xml"
	"log/slog"

	"github.com/hitoshi/siteaudit/internal/fetcher"
)

// urlset は<urlset>形式のサイトマップ。サイトマップインデックスは対象外。
type urlset struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// Reader はサイトマップからページURLを読み取る。
type Reader struct {
	fetcher *fetcher.Fetcher
	logger  *slog.Logger
}

// NewReader はReaderの新しいインスタンスを生成する。
func NewReader(f *fetcher.Fetcher, logger *slog.Logger) *Reader {
	return &Reader{fetcher: f, logger: logger}
}

// ReadURLs はサイトマップから最大maxURLs件のページURLを読み取る。
// 取得・パースの失敗は空リストとして扱い、エラーを伝播しない
// （呼び出し元はsite_urlのみの検証に縮退する）。
func (r *Reader) ReadURLs(ctx context.Context, sitemapURL string, maxURLs int) []string {
	res, err := r.fetcher.Get(ctx, sitemapURL, fetcher.Options{FollowRedirects: true})
	if err != nil {
		r.logger.Warn("サイトマップの取得に失敗しました",
			slog.String("sitemap_url", sitemapURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		r.logger.Warn("サイトマップが非2xxを返しました",
			slog.String("sitemap_url", sitemapURL),
			slog.Int("status_code", res.StatusCode),
		)
		return nil
	}

	var parsed urlset
	if err := xml.Unmarshal(res.Body, &parsed); err != nil {
		r.logger.Warn("サイトマップのパースに失敗しました",
			slog.String("sitemap_url", sitemapURL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	urls := make([]string, 0, len(parsed.URLs))
	for _, entry := range parsed.URLs {
		if entry.Loc == "" {
			continue
		}
		urls = append(urls, entry.Loc)
		if len(urls) >= maxURLs {
			break
		}
	}

	return urls
}
