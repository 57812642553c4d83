// Package ingest はRSSフィードからの記事取り込みを提供する。
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/security"
)

// snippetMaxRunes はスニペットの最大文字数。
const snippetMaxRunes = 500

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Fetcher はRSS/Atomフィードを取得してパースする。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	sanitizer   *security.TextSanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherを生成する。
func NewFetcher(ssrfGuard SSRFValidator, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		sanitizer:   security.NewTextSanitizer(),
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// FetchFeed はフィードを取得し、記事をフィード内の順序で返す。
// URLがHTMLページの場合はheadのフィードリンクを1回だけ辿る。
// 失敗は*model.FeedFetchErrorで返す。
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) ([]model.ParsedArticle, error) {
	start := time.Now()

	body, contentType, err := f.fetch(ctx, feedURL)
	if err != nil {
		return nil, &model.FeedFetchError{URL: feedURL, Err: err}
	}

	resolved := feedURL
	if isHTMLResponse(contentType) {
		if alt := discoverFeedURL(body, feedURL); alt != "" {
			f.logger.InfoContext(ctx, "HTMLページからフィードを検出しました",
				slog.String("page_url", feedURL),
				slog.String("feed_url", alt),
			)
			if body, _, err = f.fetch(ctx, alt); err != nil {
				return nil, &model.FeedFetchError{URL: feedURL, Err: fmt.Errorf("検出したフィード %s: %w", alt, err)}
			}
			resolved = alt
		}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &model.FeedFetchError{URL: feedURL, Err: fmt.Errorf("フィードのパースに失敗: %w", err)}
	}

	articles := f.convertItems(parsed.Items)

	f.logger.InfoContext(ctx, "フィードを取得しました",
		slog.String("feed_url", resolved),
		slog.Int("items_total", len(articles)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return articles, nil
}

// fetch はSSRF検証の上でURLを取得し、ボディとContent-Typeを返す。
func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := f.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, "", fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", "Feedcaster/1.0 RSS Reader")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.5, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if f.maxBodySize > 0 {
		r = io.LimitReader(resp.Body, f.maxBodySize)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("レスポンスの読み取りに失敗: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// convertItems はgofeedの記事をmodel.ParsedArticleに変換する。
// GUIDもリンクも無い記事は重複判定ができないため除外する。
func (f *Fetcher) convertItems(items []*gofeed.Item) []model.ParsedArticle {
	articles := make([]model.ParsedArticle, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		a := model.ParsedArticle{
			Title: strings.TrimSpace(item.Title),
			Link:  strings.TrimSpace(item.Link),
			GUID:  strings.TrimSpace(item.GUID),
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if a.Link == "" && (strings.HasPrefix(a.GUID, "http://") || strings.HasPrefix(a.GUID, "https://")) {
			a.Link = a.GUID
		}
		if a.GUID == "" {
			a.GUID = a.Link
		}
		if a.GUID == "" {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		a.Snippet = f.sanitizer.Snippet(summary, snippetMaxRunes)

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			a.PubDate = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			a.PubDate = &t
		}

		a.ImageURL = itemImage(item)
		articles = append(articles, a)
	}
	return articles
}

// itemImage は記事の画像URLを返す。item.Image、画像のenclosureの順に探す。
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(strings.ToLower(enc.Type), "image/") {
			return enc.URL
		}
	}
	return ""
}
