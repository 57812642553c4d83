package image

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hitoshi/feedcaster/internal/model"
	"github.com/hitoshi/feedcaster/internal/security"
)

const wikimediaEndpoint = "https://commons.wikimedia.org/w/api.php"

// WikimediaProvider はWikimedia Commonsの検索APIクライアント。APIキーは不要。
type WikimediaProvider struct {
	httpClient *http.Client
	userAgent  string
	sanitizer  *security.TextSanitizer
	endpoint   string
}

// NewWikimediaProvider はWikimediaProviderを生成する。
// Wikimediaの利用規約によりUser-Agentの指定が必要。
func NewWikimediaProvider(httpClient *http.Client, userAgent string, sanitizer *security.TextSanitizer) *WikimediaProvider {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &WikimediaProvider{
		httpClient: httpClient,
		userAgent:  userAgent,
		sanitizer:  sanitizer,
		endpoint:   wikimediaEndpoint,
	}
}

// Name はプロバイダー名を返す。
func (p *WikimediaProvider) Name() model.ImageProvider {
	return model.ImageProviderWikimedia
}

type wikimediaResponse struct {
	Query struct {
		Pages map[string]struct {
			Title     string `json:"title"`
			ImageInfo []struct {
				URL            string `json:"url"`
				DescriptionURL string `json:"descriptionurl"`
				ExtMetadata    struct {
					Artist struct {
						Value string `json:"value"`
					} `json:"Artist"`
					LicenseShortName struct {
						Value string `json:"value"`
					} `json:"LicenseShortName"`
				} `json:"extmetadata"`
			} `json:"imageinfo"`
		} `json:"pages"`
	} `json:"query"`
}

// Search はファイル名前空間を全文検索し、ビットマップ画像を1件返す。
func (p *WikimediaProvider) Search(ctx context.Context, keywords string, offset int, _ Keys) (*Result, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("generator", "search")
	q.Set("gsrsearch", keywords+" filetype:bitmap")
	q.Set("gsrnamespace", "6")
	q.Set("gsrlimit", "1")
	q.Set("gsroffset", strconv.Itoa(offset))
	q.Set("prop", "imageinfo")
	q.Set("iiprop", "url|extmetadata")

	var body wikimediaResponse
	header := http.Header{"User-Agent": []string{p.userAgent}}
	if err := getJSON(ctx, p.httpClient, p.endpoint+"?"+q.Encode(), header, &body); err != nil {
		return nil, fmt.Errorf("wikimedia: %w", err)
	}

	for _, page := range body.Query.Pages {
		if len(page.ImageInfo) == 0 || page.ImageInfo[0].URL == "" {
			continue
		}
		info := page.ImageInfo[0]
		// Artistはリンクを含むHTMLで返る
		credit := p.sanitizer.StripHTML(info.ExtMetadata.Artist.Value)
		if credit == "" {
			credit = "Wikimedia Commons"
		} else {
			credit = credit + " / Wikimedia Commons"
		}
		if license := info.ExtMetadata.LicenseShortName.Value; license != "" {
			credit += " (" + license + ")"
		}
		return &Result{
			URL:       info.URL,
			Credit:    credit,
			Provider:  model.ImageProviderWikimedia,
			SourceURL: info.DescriptionURL,
		}, nil
	}
	return nil, nil
}
