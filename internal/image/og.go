package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/feedcaster/internal/security"
)

// URLValidator はリクエスト前のURL検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ogMaxBodySize はog:image抽出で読み込むHTMLの上限。headだけ読めれば十分。
const ogMaxBodySize = 1 << 20

// ogPriority は画像メタタグの優先順位。小さいほど優先。
var ogPriority = map[string]int{
	"og:image":            0,
	"og:image:secure_url": 1,
	"og:image:url":        2,
	"twitter:image":       3,
	"twitter:image:src":   4,
}

// rejectedImageHosts はニュースアグリゲーターのサムネイルCDN。
// 記事固有の画像ではないため採用しない。
var rejectedImageHosts = []string{
	"googleusercontent.com",
	"gstatic.com",
	"news.google.com",
}

// OgImageExtractor は記事ページのOGP画像URLを抽出する。
type OgImageExtractor struct {
	validator  URLValidator
	httpClient *http.Client
}

// NewOgImageExtractor はSSRF防止付きクライアントでOgImageExtractorを生成する。
func NewOgImageExtractor(guard *security.SSRFGuard, timeout time.Duration) *OgImageExtractor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OgImageExtractor{
		validator:  guard,
		httpClient: guard.NewSafeClient(timeout, ogMaxBodySize*4),
	}
}

// ExtractOgImage は記事ページのheadから画像メタタグを探し、絶対URLで返す。
// 見つからない場合や拒否対象ホストの画像の場合は空文字を返す。
func (e *OgImageExtractor) ExtractOgImage(ctx context.Context, pageURL string) (string, error) {
	if e.validator != nil {
		if err := e.validator.ValidateURL(pageURL); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Feedcaster/1.0 (+og-image)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("記事ページがステータス %d を返しました", resp.StatusCode)
	}

	imageURL := ParseOgImage(io.LimitReader(resp.Body, ogMaxBodySize), resp.Request.URL.String())
	if imageURL == "" || isRejectedImageHost(imageURL) {
		return "", nil
	}
	return imageURL, nil
}

// ParseOgImage はHTMLから最も優先度の高い画像メタタグの値を返す。
// 相対URLはbaseURLを基準に解決する。bodyに入った時点で探索を終える。
func ParseOgImage(r io.Reader, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	best := ""
	bestRank := len(ogPriority)
	tokenizer := html.NewTokenizer(r)

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return best

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)
			if tagName == "body" {
				return best
			}
			if tagName != "meta" || !hasAttr {
				continue
			}

			var name, content string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property", "name":
					if name == "" {
						name = strings.ToLower(strings.TrimSpace(string(val)))
					}
				case "content":
					content = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}

			rank, ok := ogPriority[name]
			if !ok || content == "" || rank >= bestRank {
				continue
			}
			ref, err := url.Parse(content)
			if err != nil {
				continue
			}
			resolved := baseU.ResolveReference(ref)
			if resolved.Scheme != "http" && resolved.Scheme != "https" {
				continue
			}
			best = resolved.String()
			bestRank = rank

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return best
			}
		}
	}
}

func isRejectedImageHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, rejected := range rejectedImageHosts {
		if host == rejected || strings.HasSuffix(host, "."+rejected) {
			return true
		}
	}
	return false
}
