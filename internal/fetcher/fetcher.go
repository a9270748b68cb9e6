// Package fetcher は検証対象URLへのHTTPフェッチを提供する。
// リダイレクト追従の制御、ユーザーエージェントの切り替え、
// レスポンスサイズ制限、SSRF防止クライアントの利用を担う。
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/siteaudit/internal/security"
)

const (
	// DesktopUserAgent は通常フェッチで名乗るユーザーエージェント。
	DesktopUserAgent = "siteaudit/1.0 (+https://github.com/hitoshi/siteaudit)"
	// MobileUserAgent はモバイルユーザビリティ検証で名乗るユーザーエージェント。
	MobileUserAgent = "Mozilla/5.0 (Linux; Android 12; Pixel 6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36 siteaudit/1.0"
)

// defaultMaxBodySize はレスポンスボディ読み込みの上限（5MB）。
const defaultMaxBodySize = 5 * 1024 * 1024

// Result はフェッチ結果を表す。
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string // リダイレクト追従後の最終URL（非追従時はリクエストURL）
}

// Options はフェッチの動作を制御する。
type Options struct {
	// FollowRedirects がfalseの場合、3xxレスポンスをそのまま返す。
	// リダイレクトチェーンを手動で辿るインデックスバリデーターが使用する。
	FollowRedirects bool
	// MobileUA がtrueの場合、モバイルユーザーエージェントを名乗る。
	MobileUA bool
}

// Recorder は外部向けフェッチの観測フック。
// metrics.Collectorがこのインターフェースを満たす。
type Recorder interface {
	RecordFetchLatency(duration time.Duration)
	RecordUpstreamStatus(statusCode int)
}

// Fetcher は検証用のHTTPフェッチャー。
// guardがnilの場合はSSRF防止なしの素のクライアントを使用する（テスト用）。
type Fetcher struct {
	guard       security.SSRFGuardService
	timeout     time.Duration
	maxBodySize int64
	recorder    Recorder
}

// New はFetcherの新しいインスタンスを生成する。
// maxBodySizeが0以下の場合はデフォルト値（5MB）を使用する。
func New(guard security.SSRFGuardService, timeout time.Duration, maxBodySize int64) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &Fetcher{
		guard:       guard,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// SetRecorder はフェッチの観測フックを設定する。nilの場合は観測しない。
func (f *Fetcher) SetRecorder(r Recorder) {
	f.recorder = r
}

// Get は指定URLをGETし、ステータス・ヘッダー・サイズ制限付きボディを返す。
// ネットワークエラーの場合のみエラーを返す。HTTPエラーステータスはResultで返し、
// 問題として扱うかどうかの判断は呼び出し元のバリデーターに委ねる。
func (f *Fetcher) Get(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL: %w", err)
	}

	if opts.MobileUA {
		req.Header.Set("User-Agent", MobileUserAgent)
	} else {
		req.Header.Set("User-Agent", DesktopUserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	client := f.client(opts.FollowRedirects)
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if f.recorder != nil {
		f.recorder.RecordFetchLatency(time.Since(start))
		f.recorder.RecordUpstreamStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		FinalURL:   finalURL,
	}, nil
}

// client はオプションに応じたHTTPクライアントを返す。
// SSRFGuardが設定されている場合はSSRF防止付きクライアントを使用する。
func (f *Fetcher) client(followRedirects bool) *http.Client {
	var c *http.Client
	if f.guard != nil {
		c = f.guard.NewSafeClient(f.timeout)
	} else {
		c = &http.Client{Timeout: f.timeout}
	}

	if !followRedirects {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return c
}
