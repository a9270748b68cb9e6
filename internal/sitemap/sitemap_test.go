package sitemap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/siteaudit/internal/fetcher"
)

func newTestReader() *Reader {
	f := fetcher.New(nil, 5*time.Second, 0)
	return NewReader(f, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestReader_ReadURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
	<url><loc>https://example.com/</loc><lastmod>2025-01-01</lastmod></url>
	<url><loc>https://example.com/about</loc></url>
	<url><loc>https://example.com/blog</loc></url>
</urlset>`)
	}))
	defer srv.Close()

	urls := newTestReader().ReadURLs(context.Background(), srv.URL+"/sitemap.xml", 10)

	if len(urls) != 3 {
		t.Fatalf("URL数が期待値と異なります: got %d, want 3", len(urls))
	}
	if urls[0] != "https://example.com/" || urls[2] != "https://example.com/blog" {
		t.Errorf("URLが期待値と異なります: %+v", urls)
	}
}

func TestReader_ReadURLs_CapsAtMax(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset>`)
		for i := 0; i < 20; i++ {
			fmt.Fprintf(w, `<url><loc>https://example.com/page-%d</loc></url>`, i)
		}
		fmt.Fprint(w, `</urlset>`)
	}))
	defer srv.Close()

	urls := newTestReader().ReadURLs(context.Background(), srv.URL+"/sitemap.xml", 5)

	if len(urls) != 5 {
		t.Errorf("URL数が上限で打ち切られるべきです: got %d, want 5", len(urls))
	}
}

func TestReader_ReadURLs_FailSoft(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}},
		{"不正XML", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `this is not xml at all <<<`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			// 失敗時は空リストに縮退し、エラーにしない
			urls := newTestReader().ReadURLs(context.Background(), srv.URL+"/sitemap.xml", 10)
			if len(urls) != 0 {
				t.Errorf("失敗時は空リストであるべきです: %+v", urls)
			}
		})
	}
}

func TestReader_ReadURLs_NetworkError(t *testing.T) {
	urls := newTestReader().ReadURLs(context.Background(), "http://127.0.0.1:1/sitemap.xml", 10)
	if len(urls) != 0 {
		t.Errorf("ネットワークエラー時は空リストであるべきです: %+v", urls)
	}
}
