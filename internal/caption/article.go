package caption

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/feedcaster/internal/security"
)

// URLValidator はリクエスト前のURL検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ArticleExtractor は記事ページから段落テキストを抽出する。
type ArticleExtractor struct {
	validator  URLValidator
	httpClient *http.Client
}

// NewArticleExtractor はSSRF防止付きクライアントでArticleExtractorを生成する。
func NewArticleExtractor(guard *security.SSRFGuard, timeout time.Duration, maxBodySize int64) *ArticleExtractor {
	return &ArticleExtractor{
		validator:  guard,
		httpClient: guard.NewSafeClient(timeout, maxBodySize),
	}
}

// articleSelectors は本文を探す順序。
var articleSelectors = []string{"article p", "main p", "body p"}

// FetchText は記事ページを取得し、本文段落のテキストを改行区切りで返す。
func (e *ArticleExtractor) FetchText(ctx context.Context, articleURL string) (string, error) {
	if e.validator != nil {
		if err := e.validator.ValidateURL(articleURL); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Feedcaster/1.0 (+article)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("記事ページがステータス %d を返しました", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("記事HTMLのパースに失敗しました: %w", err)
	}
	return ExtractParagraphs(doc), nil
}

// ExtractParagraphs は本文らしい要素の段落テキストを返す。
func ExtractParagraphs(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer, aside").Remove()

	for _, sel := range articleSelectors {
		var paragraphs []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			text := strings.Join(strings.Fields(s.Text()), " ")
			if text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, "\n")
		}
	}
	return ""
}
